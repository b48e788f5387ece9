package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/fenilmodi00/ipo-aggregator/shared"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Dialect is a supported SQL backend
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a DATABASE_DRIVER value onto a dialect
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pq", "":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", shared.NewServiceError(shared.ErrorCategoryConfiguration, shared.CodeInvalidConfig,
		fmt.Sprintf("unsupported database driver %q", driver), "Database", "ParseDialect", false, nil)
}

// DriverName is the database/sql driver registered for the dialect
func (d Dialect) DriverName() string { return string(d) }

// Rebind rewrites ? placeholders into the dialect's bind syntax
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Connect opens a pooled connection and pings it
func Connect(dialect Dialect, dsn string, config *shared.DatabaseConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, shared.NewServiceError(shared.ErrorCategoryConfiguration, shared.CodeInvalidConfig,
			"DATABASE_URL is required", "Database", "Connect", false, nil)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if dialect == DialectSQLite {
		// a single long-lived connection; :memory: databases live and die with it
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite && !strings.Contains(dsn, ":memory:") {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"component":          "Database",
		"dialect":            dialect,
		"max_open_conns":     config.MaxOpenConns,
		"max_idle_conns":     config.MaxIdleConns,
		"conn_max_lifetime":  config.ConnMaxLifetime,
		"conn_max_idle_time": config.ConnMaxIdleTime,
	}).Info("Connected to database")

	return db, nil
}

// HealthCheck pings the database and logs the pool state
func HealthCheck(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database connection not established")
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	stats := db.Stats()
	logrus.WithFields(logrus.Fields{
		"component":        "Database",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration":    stats.WaitDuration,
	}).Debug("Database connection pool health check")

	return nil
}

// Migrate applies the embedded schema of dialect. Every statement is
// idempotent.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	content, err := schemaFS.ReadFile("schema/" + string(dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	statements := parseSQLStatements(string(content))
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return shared.NewServiceError(shared.ErrorCategoryDatabase, shared.CodePersistenceFailed,
				fmt.Sprintf("migration statement failed: %v", err), "Database", "Migrate", false, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"component":  "Database",
		"dialect":    dialect,
		"statements": len(statements),
	}).Info("Database migration completed successfully")
	return nil
}

// isDuplicateColumn matches sqlite's answer to an ADD COLUMN that already ran
func isDuplicateColumn(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// parseSQLStatements splits a schema file into statements, dropping
// comment-only lines
func parseSQLStatements(content string) []string {
	var statements []string
	var currentStatement strings.Builder

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		if currentStatement.Len() > 0 {
			currentStatement.WriteString(" ")
		}
		currentStatement.WriteString(line)

		if strings.HasSuffix(line, ";") {
			stmt := strings.TrimSpace(strings.TrimSuffix(currentStatement.String(), ";"))
			if stmt != "" {
				statements = append(statements, stmt)
			}
			currentStatement.Reset()
		}
	}

	if stmt := strings.TrimSpace(currentStatement.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
