package contentstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MigrationManager applies driver-aware schema migrations, preferring a
// "_sqlite.sql" variant of a migration when the sqlite driver is active.
type MigrationManager struct {
	db           *sql.DB
	migrationDir string
	driver       string
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB, migrationDir, driver string) *MigrationManager {
	return &MigrationManager{db: db, migrationDir: migrationDir, driver: driver}
}

// MigrationStatus reports which migrations remain to be applied.
type MigrationStatus struct {
	UpToDate bool
	Pending  []string
	Current  string
	Total    int
}

// Check reports the current migration status.
func (m *MigrationManager) Check(ctx context.Context) (*MigrationStatus, error) {
	status := &MigrationStatus{Pending: []string{}}

	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := m.listMigrationFiles()
	if err != nil {
		return nil, fmt.Errorf("list migration files: %w", err)
	}
	status.Total = len(migrations)
	if len(migrations) == 0 {
		status.UpToDate = true
		return status, nil
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		status.Pending = migrations
		return status, nil
	}

	for _, migration := range migrations {
		if !applied[migration] {
			status.Pending = append(status.Pending, migration)
		}
	}
	if len(status.Pending) == 0 {
		status.Current = migrations[len(migrations)-1]
	}
	status.UpToDate = len(status.Pending) == 0
	return status, nil
}

// Run applies every pending migration in order within a transaction per
// migration file.
func (m *MigrationManager) Run(ctx context.Context, status *MigrationStatus) error {
	sort.Strings(status.Pending)
	for _, migration := range status.Pending {
		path := filepath.Join(m.migrationDir, migration)
		if err := m.runMigration(ctx, path); err != nil {
			return fmt.Errorf("run migration %s: %w", migration, err)
		}
	}
	return nil
}

func (m *MigrationManager) ensureSchemaMigrationsTable(ctx context.Context) error {
	var query string
	switch m.driver {
	case "sqlite", "":
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				version TEXT UNIQUE NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`
	default:
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id SERIAL PRIMARY KEY,
				version TEXT UNIQUE NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
		`
	}
	_, err := m.db.ExecContext(ctx, query)
	return err
}

func (m *MigrationManager) listMigrationFiles() ([]string, error) {
	entries, err := os.ReadDir(m.migrationDir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	sqliteMigrations := make(map[string]string)
	regularMigrations := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, "_sqlite.sql") {
			sqliteMigrations[strings.TrimSuffix(name, "_sqlite.sql")] = name
		} else {
			regularMigrations[strings.TrimSuffix(name, ".sql")] = name
		}
	}

	baseNames := make(map[string]bool)
	for base := range sqliteMigrations {
		baseNames[base] = true
	}
	for base := range regularMigrations {
		baseNames[base] = true
	}

	var migrations []string
	for base := range baseNames {
		if m.driver == "sqlite" || m.driver == "" {
			if f, ok := sqliteMigrations[base]; ok {
				migrations = append(migrations, f)
				continue
			}
		}
		if f, ok := regularMigrations[base]; ok {
			migrations = append(migrations, f)
		}
	}
	sort.Strings(migrations)
	return migrations, nil
}

func (m *MigrationManager) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) runMigration(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}
	name := filepath.Base(path)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitSQLStatements(string(data)) {
		stmt = strings.TrimSpace(stmt)
		// Drop leading "--" comment lines; a chunk that is only comments is skipped.
		for strings.HasPrefix(stmt, "--") {
			nl := strings.IndexByte(stmt, '\n')
			if nl == -1 {
				stmt = ""
				break
			}
			stmt = strings.TrimSpace(stmt[nl+1:])
		}
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute migration statement: %w", err)
		}
	}

	insert := "INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)"
	if m.driver == "postgres" {
		insert = "INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING"
	}
	if _, err := tx.ExecContext(ctx, insert, name); err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}

	return tx.Commit()
}

// splitSQLStatements splits SQL text into individual statements by
// semicolon, treating quoted strings as opaque.
func splitSQLStatements(sqlText string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	var stringChar byte

	for i := 0; i < len(sqlText); i++ {
		ch := sqlText[i]
		current.WriteByte(ch)

		if inString {
			if ch == stringChar && (i == 0 || sqlText[i-1] != '\\') {
				inString = false
			}
			continue
		}

		if ch == '\'' || ch == '"' {
			inString = true
			stringChar = ch
		} else if ch == ';' {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
