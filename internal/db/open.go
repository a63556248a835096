package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the database described by the DSN. DSNs with a
// "sqlite:" prefix or a plain file path open SQLite; everything else is
// treated as a PostgreSQL DSN.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	if sqlitePath, ok := sqliteDSN(dsn); ok {
		conn, err := gorm.Open(sqlite.Open(sqlitePath), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", err)
		}
		return conn, nil
	}

	conn, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("db: open postgres: %w", err)
	}
	return conn, nil
}

// sqliteDSN reports whether the DSN targets SQLite and strips the scheme.
func sqliteDSN(dsn string) (string, bool) {
	lower := strings.ToLower(dsn)
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if strings.HasPrefix(lower, prefix) {
			return dsn[len(prefix):], true
		}
	}
	if strings.Contains(dsn, "://") || strings.Contains(dsn, "host=") || strings.Contains(dsn, " dbname=") {
		return "", false
	}
	if strings.HasSuffix(lower, ".db") || strings.HasSuffix(lower, ".sqlite") || strings.HasPrefix(dsn, "file:") {
		return dsn, true
	}
	return "", false
}
