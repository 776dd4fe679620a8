// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/record"
	"github.com/LeeDigitalWorks/datapump/pkg/utils"

	"github.com/google/uuid"
)

const (
	// maxDeadlockRetries is the maximum number of retry attempts for deadlock errors
	maxDeadlockRetries = 3
	// baseDeadlockBackoff is the base backoff duration for deadlock retries
	baseDeadlockBackoff = 10 * time.Millisecond
)

const (
	dbStatusPending    = "pending"
	dbStatusDeadLetter = "dead_letter"
)

// Compile-time interface verification
var (
	_ Queue      = (*DBQueue)(nil)
	_ DeadLetter = (*DBQueue)(nil)
)

// DBQueue is a database-backed queue for MySQL/Vitess and
// PostgreSQL/CockroachDB. Multiple consumers share it through
// FOR UPDATE SKIP LOCKED. Dead-lettered messages stay in the same table with
// status 'dead_letter'.
//
// Expected schema:
//
//	id VARCHAR(36) PRIMARY KEY, body TEXT, attributes TEXT, status VARCHAR(16),
//	receive_count INT, receipt_handle VARCHAR(36), visible_at TIMESTAMP,
//	created_at TIMESTAMP, updated_at TIMESTAMP
type DBQueue struct {
	db                *sql.DB
	tableName         string
	visibilityTimeout time.Duration
	maxReceiveCount   int
	driver            utils.Driver
}

// DBQueueConfig configures the database queue.
type DBQueueConfig struct {
	DB                *sql.DB
	Driver            utils.Driver  // Defaults to mysql
	TableName         string        // Defaults to "copy_dispatch"
	VisibilityTimeout time.Duration // Defaults to 15m
	MaxReceiveCount   int           // Defaults to 5
}

// NewDBQueue creates a new database-backed queue.
func NewDBQueue(cfg DBQueueConfig) (*DBQueue, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "copy_dispatch"
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 15 * time.Minute
	}
	if cfg.MaxReceiveCount == 0 {
		cfg.MaxReceiveCount = 5
	}
	if cfg.Driver == "" {
		cfg.Driver = utils.DriverMySQL
	}

	return &DBQueue{
		db:                cfg.DB,
		tableName:         cfg.TableName,
		visibilityTimeout: cfg.VisibilityTimeout,
		maxReceiveCount:   cfg.MaxReceiveCount,
		driver:            cfg.Driver,
	}, nil
}

func (q *DBQueue) rebind(query string) string {
	return utils.Rebind(q.driver, query)
}

func (q *DBQueue) Enqueue(ctx context.Context, rec *record.CopyRequest) error {
	if err := q.insert(ctx, MessageBody, AttributesFromRecord(rec).Map(), dbStatusPending); err != nil {
		return err
	}
	MessagesSentTotal.WithLabelValues("sql").Inc()
	return nil
}

func (q *DBQueue) Forward(ctx context.Context, d *Delivery) error {
	if err := q.insert(ctx, d.Body, d.Attributes, dbStatusDeadLetter); err != nil {
		return err
	}
	DeadLetteredTotal.WithLabelValues("forward").Inc()
	return nil
}

func (q *DBQueue) insert(ctx context.Context, body string, attributes map[string]string, status string) error {
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	now := time.Now()
	query := q.rebind(fmt.Sprintf(`
		INSERT INTO %s (id, body, attributes, status, receive_count, visible_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, q.tableName))

	_, err = q.db.ExecContext(ctx, query,
		uuid.New().String(), body, string(attrs), status, 0, now, now, now,
	)
	return err
}

func (q *DBQueue) Receive(ctx context.Context, max int) ([]*Delivery, error) {
	if max <= 0 {
		max = 1
	}
	var lastErr error
	for attempt := range maxDeadlockRetries {
		deliveries, err := q.receiveOnce(ctx, max)
		if err == nil {
			MessagesReceivedTotal.Add(float64(len(deliveries)))
			return deliveries, nil
		}
		if !utils.IsDeadlockError(err) {
			return nil, err
		}
		lastErr = err
		DeadlockRetries.Inc()

		// Exponential backoff with jitter: 10-20ms, 20-40ms, 40-80ms
		backoff := baseDeadlockBackoff * time.Duration(1<<attempt)
		jitter := time.Duration(rand.Int63n(int64(backoff)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return nil, lastErr
}

func (q *DBQueue) receiveOnce(ctx context.Context, max int) ([]*Delivery, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	selectQuery := q.rebind(fmt.Sprintf(`
		SELECT id, body, attributes, receive_count
		FROM %s
		WHERE status = 'pending' AND visible_at <= ?
		ORDER BY created_at ASC
		LIMIT %d
		FOR UPDATE SKIP LOCKED
	`, q.tableName, max))

	rows, err := tx.QueryContext(ctx, selectQuery, now)
	if err != nil {
		return nil, err
	}

	var candidates []*Delivery
	for rows.Next() {
		var d Delivery
		var attrs string
		if err := rows.Scan(&d.ID, &d.Body, &attrs, &d.ReceiveCount); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &d.Attributes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode attributes of %s: %w", d.ID, err)
		}
		candidates = append(candidates, &d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	deadLetterQuery := q.rebind(fmt.Sprintf(`
		UPDATE %s SET status = 'dead_letter', updated_at = ? WHERE id = ?
	`, q.tableName))
	claimQuery := q.rebind(fmt.Sprintf(`
		UPDATE %s SET receive_count = ?, receipt_handle = ?, visible_at = ?, updated_at = ?
		WHERE id = ?
	`, q.tableName))

	var out []*Delivery
	for _, d := range candidates {
		if d.ReceiveCount >= q.maxReceiveCount {
			if _, err := tx.ExecContext(ctx, deadLetterQuery, now, d.ID); err != nil {
				return nil, err
			}
			DeadLetteredTotal.WithLabelValues("redrive").Inc()
			continue
		}

		d.ReceiveCount++
		d.ReceiptHandle = uuid.New().String()
		if _, err := tx.ExecContext(ctx, claimQuery,
			d.ReceiveCount, d.ReceiptHandle, now.Add(q.visibilityTimeout), now, d.ID,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *DBQueue) Delete(ctx context.Context, d *Delivery) error {
	query := q.rebind(fmt.Sprintf(`
		DELETE FROM %s WHERE id = ? AND receipt_handle = ?
	`, q.tableName))

	result, err := q.db.ExecContext(ctx, query, d.ID, d.ReceiptHandle)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Stats counts messages by status.
func (q *DBQueue) Stats(ctx context.Context) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT status, COUNT(*) FROM %s GROUP BY status
	`, q.tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		QueueDepth.WithLabelValues(status).Set(float64(count))
	}
	return stats, rows.Err()
}
