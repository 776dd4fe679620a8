// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch carries copy requests between pipeline stages over an
// at-least-once message queue.
//
// Delivery guarantees common to every backend:
//   - a received message stays invisible to other receivers for the
//     visibility timeout and reappears if it is not deleted
//   - a message received more than the configured maximum number of times is
//     moved to the dead-letter channel
//   - duplicates are possible, so handlers must tolerate redelivery
package dispatch

import (
	"context"

	"github.com/LeeDigitalWorks/datapump/pkg/record"
)

// Receiver hands out messages and accepts acknowledgements.
type Receiver interface {
	// Receive returns up to max visible messages. An empty result is not an error.
	Receive(ctx context.Context, max int) ([]*Delivery, error)

	// Delete acknowledges d so it is never redelivered.
	Delete(ctx context.Context, d *Delivery) error
}

// Queue is the copy dispatch queue.
type Queue interface {
	Receiver

	// Enqueue publishes rec as a copy dispatch message.
	Enqueue(ctx context.Context, rec *record.CopyRequest) error
}

// DeadLetter is the channel that receives messages that could not be processed.
type DeadLetter interface {
	// Forward publishes the body and attributes of d verbatim.
	Forward(ctx context.Context, d *Delivery) error
}

// Handler processes one delivery. Handlers own acknowledgement: the consumer
// never deletes a message on their behalf.
type Handler interface {
	Handle(ctx context.Context, d *Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d *Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d *Delivery) error {
	return f(ctx, d)
}
