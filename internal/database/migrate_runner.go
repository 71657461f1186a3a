package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"intouch/internal/middleware"

	"gorm.io/gorm"
)

// MigrationLog records one applied migration.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	Checksum  string    `gorm:"size:64;not null;default:''"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for MigrationLog.
func (MigrationLog) TableName() string {
	return "migration_logs"
}

// Migrator applies a fixed set of migrations to one database.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrator binds migrations, ordered by version, to db.
func NewMigrator(db *gorm.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

func (m *Migrator) ensureLog(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&MigrationLog{}); err != nil {
		return fmt.Errorf("ensure migration log table: %w", err)
	}
	return nil
}

// Applied lists the recorded migrations by version.
func (m *Migrator) Applied(ctx context.Context) ([]MigrationLog, error) {
	if !m.db.WithContext(ctx).Migrator().HasTable(&MigrationLog{}) {
		return nil, nil
	}
	var logs []MigrationLog
	if err := m.db.WithContext(ctx).Order("version ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	return logs, nil
}

// Pending lists migrations not applied yet. It fails when the log holds
// versions unknown to the code or applied scripts have since been edited.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	logs, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.verify(logs); err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(logs))
	for _, l := range logs {
		done[l.Version] = true
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if !done[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

func (m *Migrator) verify(logs []MigrationLog) error {
	known := make(map[int]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.Version] = mig
	}
	var unknown, edited []string
	for _, l := range logs {
		mig, ok := known[l.Version]
		switch {
		case !ok:
			unknown = append(unknown, fmt.Sprintf("%06d", l.Version))
		case l.Checksum != "" && l.Checksum != mig.Checksum():
			edited = append(edited, mig.String())
		}
	}
	sort.Strings(unknown)
	if len(unknown) > 0 {
		return fmt.Errorf("migration_logs contains versions not present in code: %s (drop the development database and rerun cmd/migrate)",
			strings.Join(unknown, ", "))
	}
	if len(edited) > 0 {
		return fmt.Errorf("applied migrations were modified after they ran: %s", strings.Join(edited, ", "))
	}
	return nil
}

// Up applies every pending migration, each in its own transaction, and
// returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureLog(ctx); err != nil {
		return 0, err
	}
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for i, mig := range pending {
		middleware.Logger.Info("Applying migration", slog.Int("version", mig.Version), slog.String("name", mig.Name))
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(mig.UpScript).Error; err != nil {
				return fmt.Errorf("apply migration %s: %w", mig, err)
			}
			entry := MigrationLog{Version: mig.Version, Name: mig.Name, Checksum: mig.Checksum()}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("record migration %s: %w", mig, err)
			}
			return nil
		})
		if err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Down reverts one applied migration.
func (m *Migrator) Down(ctx context.Context, version int) error {
	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == version {
			target = &m.migrations[i]
		}
	}
	if target == nil {
		return fmt.Errorf("migration version %d not found", version)
	}
	if err := m.ensureLog(ctx); err != nil {
		return err
	}

	middleware.Logger.Info("Rolling back migration", slog.Int("version", version), slog.String("name", target.Name))
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("version = ?", version).Delete(&MigrationLog{})
		if res.Error != nil {
			return fmt.Errorf("remove migration record %d: %w", version, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("migration %d has not been applied", version)
		}
		if err := tx.Exec(target.DownScript).Error; err != nil {
			return fmt.Errorf("run rollback SQL for migration %s: %w", target, err)
		}
		return nil
	})
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}
	n, err := NewMigrator(db, migrations).Up(ctx)
	if err != nil {
		return err
	}
	middleware.Logger.Info("SQL migrations complete", slog.Int("applied", n))
	return nil
}

// RollbackMigration reverts one embedded migration by version.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}
	return NewMigrator(db, migrations).Down(ctx, version)
}
