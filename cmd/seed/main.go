// Command seed fills the database with demo users, relations and chats.
package main

import (
	"flag"
	"log"
	"strings"

	"intouch/internal/config"
	"intouch/internal/database"
	"intouch/internal/seed"
)

func main() {
	preset := flag.String("preset", "demo", "Preset to apply")
	presetsFile := flag.String("presets", "", "YAML file with presets (defaults to the built-in set)")
	clean := flag.Bool("clean", true, "Clean database before seeding")
	dryRun := flag.Bool("dry-run", false, "Build data without writing to the database")
	password := flag.String("password", seed.DefaultPassword, "Password for every seeded user")
	randSeed := flag.Int64("seed", 0, "Random seed (0 picks one from the clock)")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	presets, err := seed.LoadPresets(*presetsFile)
	if err != nil {
		log.Fatalf("Failed to load presets: %v", err)
	}
	log.Printf("Preset: %s (available: %s), clean=%v dry-run=%v",
		*preset, strings.Join(seed.Names(presets), ", "), *clean, *dryRun)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := seed.Options{Password: *password, DryRun: *dryRun, RandSeed: *randSeed}
	var s *seed.Seeder
	if *dryRun {
		s = seed.NewSeeder(nil, opts)
	} else {
		db, err := database.Connect(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		s = seed.NewSeeder(db, opts)
	}
	s.WithPresets(presets)

	if *clean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	stats, err := s.ApplyPreset(*preset)
	if err != nil {
		log.Fatalf("❌ Preset seeding failed: %v", err)
	}

	log.Printf("✨ All done! %s", stats)
	log.Printf("📧 All seeded users have the password: %s", *password)
}
