package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/listing-scanner/internal/logging"
)

// RunClickHouseMigrations executes every .sql file of dir in name order.
// Statements must be idempotent (CREATE ... IF NOT EXISTS); there is no
// version table on the ClickHouse side.
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		content, err := fs.ReadFile(fsys, dir+"/"+filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		statements := splitSQLStatements(string(content))
		for i, stmt := range statements {
			if err := db.Exec(ctx, stmt); err != nil {
				logging.WithError(err).WithFields(map[string]interface{}{
					"file":      filename,
					"statement": i + 1,
					"sql":       truncate(stmt, 80),
				}).Error("ClickHouse migration statement failed")
				return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, filename, err)
			}
		}

		logging.WithFields(map[string]interface{}{
			"file":       filename,
			"statements": len(statements),
		}).Info("Applied ClickHouse migration")
	}

	return nil
}

// splitSQLStatements splits on lines ending with ';', dropping comment-only
// lines and the trailing semicolons ClickHouse does not want
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
