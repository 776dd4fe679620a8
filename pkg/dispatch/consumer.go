// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/logger"
)

// Consumer polls a Receiver in batches and runs each delivery through a
// Handler with bounded concurrency. Cancelling the Start context stops
// polling only; handlers run on a detached context that is cancelled when
// Stop exceeds the drain timeout.
type Consumer struct {
	id       string
	receiver Receiver
	handler  Handler

	pollInterval time.Duration
	batchSize    int
	concurrency  int
	drainTimeout time.Duration

	cancelHandlers context.CancelFunc
	deliveries     chan *Delivery
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	ID           string
	Receiver     Receiver
	Handler      Handler
	PollInterval time.Duration // Pause after an empty or failed receive (default: 1s)
	BatchSize    int           // Messages per Receive (default: 10)
	Concurrency  int           // Deliveries handled at once (default: 5)
	DrainTimeout time.Duration // How long Stop waits for in-flight deliveries (0: no limit)
}

// NewConsumer creates a new consumer.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}

	return &Consumer{
		id:           cfg.ID,
		receiver:     cfg.Receiver,
		handler:      cfg.Handler,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		concurrency:  cfg.Concurrency,
		drainTimeout: cfg.DrainTimeout,
		deliveries:   make(chan *Delivery),
		stopCh:       make(chan struct{}),
	}
}

// Start begins polling. It returns immediately.
func (c *Consumer) Start(ctx context.Context) {
	logger.Info().
		Str("consumer_id", c.id).
		Int("concurrency", c.concurrency).
		Int("batch_size", c.batchSize).
		Msg("dispatch: consumer starting")

	handlerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelHandlers = cancel

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.work(handlerCtx)
	}

	c.wg.Add(1)
	go c.poll(ctx)
}

// Stop ends polling and waits for in-flight deliveries to finish. Once the
// drain timeout elapses their context is cancelled.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	if c.drainTimeout > 0 {
		timer := time.NewTimer(c.drainTimeout)
		select {
		case <-done:
		case <-timer.C:
			logger.Warn().
				Str("consumer_id", c.id).
				Dur("drain_timeout", c.drainTimeout).
				Msg("dispatch: drain timeout reached, cancelling in-flight deliveries")
			c.cancel()
		}
		timer.Stop()
	}
	<-done
	c.cancel()
	logger.Info().Str("consumer_id", c.id).Msg("dispatch: consumer stopped")
}

func (c *Consumer) cancel() {
	if c.cancelHandlers != nil {
		c.cancelHandlers()
	}
}

func (c *Consumer) poll(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.deliveries)

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		batch, err := c.receiver.Receive(ctx, c.batchSize)
		if err != nil && !errors.Is(err, context.Canceled) {
			ReceiveErrors.Inc()
			logger.Error().Err(err).Str("consumer_id", c.id).Msg("dispatch: receive failed")
		}

		if len(batch) == 0 {
			timer := time.NewTimer(c.pollInterval)
			select {
			case <-c.stopCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		for _, d := range batch {
			select {
			case c.deliveries <- d:
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Consumer) work(ctx context.Context) {
	defer c.wg.Done()

	for d := range c.deliveries {
		c.handle(ctx, d)
	}
}

func (c *Consumer) handle(ctx context.Context, d *Delivery) {
	WorkersActive.Inc()
	defer WorkersActive.Dec()

	start := time.Now()
	err := c.handler.Handle(ctx, d)
	HandleDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		MessagesHandledTotal.WithLabelValues("failed").Inc()
		logger.Warn().
			Err(err).
			Str("consumer_id", c.id).
			Str("message_id", d.ID).
			Int("receive_count", d.ReceiveCount).
			Msg("dispatch: handler failed, message left for redelivery")
		return
	}
	MessagesHandledTotal.WithLabelValues("ok").Inc()
}
