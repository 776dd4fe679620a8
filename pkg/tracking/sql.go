// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/datapump/pkg/record"
	"github.com/LeeDigitalWorks/datapump/pkg/utils"
)

// Compile-time interface verification
var _ Backend = (*SQLStore)(nil)

// SQLStore is a database-backed Backend for MySQL/Vitess and
// PostgreSQL/CockroachDB. The table must have a primary key on
// (source_bucket, source_object_path) and an index on
// (manifest_file, processing_status).
type SQLStore struct {
	db     *sql.DB
	table  string
	driver utils.Driver
}

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	DB        *sql.DB
	Driver    utils.Driver // Defaults to mysql
	TableName string       // Defaults to "copy_requests"
}

var sqlColumns = []string{
	"source_bucket", "source_object_path", "manifest_file", "source_tags",
	"size", "storage_class", "target_bucket", "target_object_path",
	"target_storage_class", "target_tags", "processing_status",
	"error_message", "creation_time", "last_update_time",
}

// NewSQLStore creates a SQL-backed store.
func NewSQLStore(cfg SQLConfig) (*SQLStore, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "copy_requests"
	}
	if cfg.Driver == "" {
		cfg.Driver = utils.DriverMySQL
	}
	return &SQLStore{db: cfg.DB, table: cfg.TableName, driver: cfg.Driver}, nil
}

func (s *SQLStore) upsertQuery() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sqlColumns)), ", ")
	updates := make([]string, 0, len(sqlColumns)-2)
	for _, c := range sqlColumns[2:] {
		if s.driver == utils.DriverPostgres {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		} else {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
	}

	conflict := "ON DUPLICATE KEY UPDATE"
	if s.driver == utils.DriverPostgres {
		conflict = "ON CONFLICT (source_bucket, source_object_path) DO UPDATE SET"
	}

	return utils.Rebind(s.driver, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s %s",
		s.table, strings.Join(sqlColumns, ", "), placeholders, conflict, strings.Join(updates, ", ")))
}

func (s *SQLStore) Put(ctx context.Context, rec *record.CopyRequest) error {
	_, err := s.db.ExecContext(ctx, s.upsertQuery(),
		rec.SourceBucket, rec.SourceObjectPath, rec.ManifestFile, rec.SourceTags,
		rec.Size, rec.StorageClass, rec.TargetBucket, rec.TargetObjectPath,
		rec.TargetStorageClass, rec.TargetTags, string(rec.ProcessingStatus),
		rec.ErrorMessage, rec.CreationTime, rec.LastUpdateTime,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.CopyRequest, error) {
	var rec record.CopyRequest
	var status string
	var sourceTags, targetTags, errorMessage sql.NullString

	err := row.Scan(
		&rec.SourceBucket, &rec.SourceObjectPath, &rec.ManifestFile, &sourceTags,
		&rec.Size, &rec.StorageClass, &rec.TargetBucket, &rec.TargetObjectPath,
		&rec.TargetStorageClass, &targetTags, &status,
		&errorMessage, &rec.CreationTime, &rec.LastUpdateTime,
	)
	if err != nil {
		return nil, err
	}
	rec.ProcessingStatus = record.Status(status)
	rec.SourceTags = sourceTags.String
	rec.TargetTags = targetTags.String
	rec.ErrorMessage = errorMessage.String
	return &rec, nil
}

func (s *SQLStore) Get(ctx context.Context, bucket, path string) (*record.CopyRequest, error) {
	query := utils.Rebind(s.driver, fmt.Sprintf(
		"SELECT %s FROM %s WHERE source_bucket = ? AND source_object_path = ?",
		strings.Join(sqlColumns, ", "), s.table))

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, bucket, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (s *SQLStore) List(ctx context.Context, manifest string, status record.Status) ([]*record.CopyRequest, error) {
	query := utils.Rebind(s.driver, fmt.Sprintf(
		"SELECT %s FROM %s WHERE manifest_file = ? AND processing_status = ? ORDER BY source_bucket, source_object_path",
		strings.Join(sqlColumns, ", "), s.table))

	rows, err := s.db.QueryContext(ctx, query, manifest, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*record.CopyRequest
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
