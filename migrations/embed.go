// Package migrations embeds the Postgres schema applied by chatd -migrate and at startup.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

// Files holds every .sql file in this directory; they run in name order (001, 002, ...).
//
//go:embed *.sql
var Files embed.FS

// Names returns the migration file names in execution order.
func Names() ([]string, error) {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
