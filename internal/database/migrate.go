package database

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Migration is one versioned pair of up/down SQL scripts, loaded from files
// named NNNNNN_name.up.sql and NNNNNN_name.down.sql.
type Migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

// Checksum fingerprints the up script so edits to applied files are caught.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.UpScript))
	return hex.EncodeToString(sum[:])
}

//go:embed migrations/*.sql
var migrationFS embed.FS

var embedded = sync.OnceValues(func() ([]Migration, error) {
	return LoadMigrations(migrationFS, "migrations")
})

// Migrations returns the migrations compiled into the binary, ordered by
// version.
func Migrations() ([]Migration, error) {
	return embedded()
}

// LoadMigrations reads the migration pairs in dir. Misnamed files, duplicate
// versions and up scripts without a down script are errors.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		base, direction, ok := splitMigrationName(file)
		if !ok {
			return nil, fmt.Errorf("migration %s: expected NNNNNN_name.(up|down).sql", file)
		}
		num, name, _ := strings.Cut(base, "_")
		version, err := strconv.Atoi(num)
		if err != nil || version <= 0 || name == "" {
			return nil, fmt.Errorf("migration %s: invalid version prefix", file)
		}

		body, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}

		m, seen := byVersion[version]
		if !seen {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration version %06d used by %q and %q", version, m.Name, name)
		}
		if direction == "up" {
			m.UpScript = string(body)
		} else {
			m.DownScript = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpScript == "" || m.DownScript == "" {
			return nil, fmt.Errorf("migration %s needs both up and down scripts", m)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func splitMigrationName(file string) (base, direction string, ok bool) {
	for _, d := range []string{"up", "down"} {
		if b, found := strings.CutSuffix(file, "."+d+".sql"); found {
			return b, d, true
		}
	}
	return "", "", false
}
