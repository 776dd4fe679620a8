// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/google/uuid"
)

// Compile-time interface verification
var (
	_ Queue      = (*MemoryQueue)(nil)
	_ DeadLetter = (*MemoryQueue)(nil)
)

type memoryMessage struct {
	id            string
	body          string
	attributes    map[string]string
	receiveCount  int
	receiptHandle string
	visibleAt     time.Time
	sentAt        time.Time
}

// MemoryQueue is an in-memory queue with SQS-like visibility and redrive
// semantics, for tests and local runs. Messages are not persisted.
// Forward appends to the queue's own dead-letter list.
type MemoryQueue struct {
	mu                sync.Mutex
	messages          []*memoryMessage
	deadLetters       []*Delivery
	visibilityTimeout time.Duration
	maxReceiveCount   int
	closed            bool
}

// MemoryQueueConfig configures a MemoryQueue.
type MemoryQueueConfig struct {
	VisibilityTimeout time.Duration // Defaults to 30s
	MaxReceiveCount   int           // 0 disables redrive
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue(cfg MemoryQueueConfig) *MemoryQueue {
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	return &MemoryQueue{
		visibilityTimeout: cfg.VisibilityTimeout,
		maxReceiveCount:   cfg.MaxReceiveCount,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, rec *record.CopyRequest) error {
	return q.Send(ctx, MessageBody, AttributesFromRecord(rec).Map())
}

// Send publishes a raw message.
func (q *MemoryQueue) Send(ctx context.Context, body string, attributes map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	now := time.Now()
	q.messages = append(q.messages, &memoryMessage{
		id:         uuid.New().String(),
		body:       body,
		attributes: maps.Clone(attributes),
		visibleAt:  now,
		sentAt:     now,
	})
	MessagesSentTotal.WithLabelValues("memory").Inc()
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := time.Now()
	var out []*Delivery
	kept := q.messages[:0]
	for _, m := range q.messages {
		if len(out) >= max || m.visibleAt.After(now) {
			kept = append(kept, m)
			continue
		}
		if q.maxReceiveCount > 0 && m.receiveCount >= q.maxReceiveCount {
			q.deadLetters = append(q.deadLetters, m.delivery())
			DeadLetteredTotal.WithLabelValues("redrive").Inc()
			continue
		}

		m.receiveCount++
		m.receiptHandle = uuid.New().String()
		m.visibleAt = now.Add(q.visibilityTimeout)
		out = append(out, m.delivery())
		kept = append(kept, m)
	}
	q.messages = kept
	MessagesReceivedTotal.Add(float64(len(out)))
	return out, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.id == d.ID && m.receiptHandle == d.ReceiptHandle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return ErrMessageNotFound
}

func (q *MemoryQueue) Forward(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.deadLetters = append(q.deadLetters, &Delivery{
		ID:         uuid.New().String(),
		Body:       d.Body,
		Attributes: maps.Clone(d.Attributes),
	})
	DeadLetteredTotal.WithLabelValues("forward").Inc()
	return nil
}

// Len returns the number of messages not yet deleted, in flight or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// DeadLetters returns a snapshot of the dead-letter list.
func (q *MemoryQueue) DeadLetters() []*Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Delivery(nil), q.deadLetters...)
}

// Close rejects further sends and receives.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (m *memoryMessage) delivery() *Delivery {
	return &Delivery{
		ID:            m.id,
		ReceiptHandle: m.receiptHandle,
		Body:          m.body,
		Attributes:    maps.Clone(m.attributes),
		ReceiveCount:  m.receiveCount,
	}
}
