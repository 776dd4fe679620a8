// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Driver identifies a SQL dialect.
type Driver string

const (
	// DriverMySQL uses MySQL/MariaDB/Vitess with ? placeholders
	DriverMySQL Driver = "mysql"
	// DriverPostgres uses PostgreSQL/CockroachDB with $N placeholders
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps a configured driver name to a Driver.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(name) {
	case "", "mysql":
		return DriverMySQL, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// sqlDriverName returns the database/sql registration name for d.
func (d Driver) sqlDriverName() string {
	if d == DriverPostgres {
		return "pgx"
	}
	return "mysql"
}

// OpenDB opens a connection pool for the given driver and DSN.
func OpenDB(driver Driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver.sqlDriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Rebind converts ? placeholders to $N placeholders for PostgreSQL. For MySQL
// the query is returned unchanged.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var result strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			result.WriteByte(query[i])
		}
	}
	return result.String()
}

// IsDeadlockError checks if the error is a database deadlock error.
// Supports both MySQL (Error 1213) and PostgreSQL (40P01).
func IsDeadlockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if strings.Contains(errStr, "Error 1213") || strings.Contains(errStr, "Deadlock") {
		return true
	}
	if strings.Contains(errStr, "40P01") || strings.Contains(errStr, "deadlock detected") {
		return true
	}
	return false
}
