// Command migrate runs schema operations for the backend.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"intouch/internal/config"
	"intouch/internal/database"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

// env is opened lazily so `migrate --help` works without a database.
type env struct {
	cfg *config.Config
	db  *gorm.DB
}

func (e *env) open() error {
	if e.db != nil {
		return nil
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	e.cfg, e.db = cfg, db
	return nil
}

func newRootCommand() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply, inspect or roll back the database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return e.open()
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending SQL migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := database.RunMigrations(cmd.Context(), e.db); err != nil {
					return fmt.Errorf("sql migrations failed: %w", err)
				}
				log.Println("sql migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "auto",
			Short: "Run GORM AutoMigrate for every persistent model",
			RunE: func(cmd *cobra.Command, _ []string) error {
				e.cfg.DBSchemaMode = database.SchemaModeAuto
				if err := database.ApplySchema(cmd.Context(), e.db, e.cfg); err != nil {
					return fmt.Errorf("auto schema apply failed: %w", err)
				}
				log.Println("automigrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				status, err := database.GetSchemaStatus(cmd.Context(), e.db, e.cfg)
				if err != nil {
					return fmt.Errorf("schema status failed: %w", err)
				}
				log.Printf("mode=%s env=%s run_sql=%t run_auto=%t applied=%d pending=%d",
					status.Mode, status.Environment, status.WillRunSQL, status.WillRunAutoMigrate,
					len(status.AppliedVersions), len(status.PendingMigrations))
				for _, m := range status.PendingMigrations {
					log.Printf("pending: %06d_%s", m.Version, m.Name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "down <version>",
			Short: "Roll back one migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				if err := database.RollbackMigration(cmd.Context(), e.db, version); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				log.Printf("rolled back migration %d", version)
				return nil
			},
		},
	)
	return root
}
