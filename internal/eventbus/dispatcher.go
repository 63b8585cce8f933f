// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/photoarena/winnerd/internal/logging"
	"github.com/photoarena/winnerd/internal/metrics"
)

// Handler processes one event payload. Returning nil acknowledges the
// message. A RetryableError (or any unclassified error) nacks it for
// redelivery; a PermanentError triggers the configured failure policy.
type Handler func(ctx context.Context, payload []byte) error

// Dispatcher routes broker messages to handlers by routing key. It
// takes the Watermill interfaces rather than concrete NATS types so
// tests can drive it with an in-process pub/sub.
type Dispatcher struct {
	subscriber message.Subscriber
	deadletter message.Publisher
	config     DispatcherConfig

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
}

// NewDispatcher creates a dispatcher. The dead-letter publisher may be
// nil when the failure policy is PolicyDrop.
func NewDispatcher(cfg DispatcherConfig, sub message.Subscriber, deadletter message.Publisher) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: subscriber is required", ErrInvalidConfig)
	}
	if cfg.OnHandlerError == PolicyDeadLetter && deadletter == nil {
		return nil, fmt.Errorf("%w: dead-letter policy requires a publisher", ErrInvalidConfig)
	}

	return &Dispatcher{
		subscriber: sub,
		deadletter: deadletter,
		config:     cfg,
		handlers:   make(map[string]Handler),
	}, nil
}

// Register binds a handler to a routing key. Registration must finish
// before Serve starts.
func (d *Dispatcher) Register(routingKey string, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handler", routingKey)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("register %s: dispatcher already running", routingKey)
	}
	if _, exists := d.handlers[routingKey]; exists {
		return fmt.Errorf("register %s: handler already registered", routingKey)
	}
	d.handlers[routingKey] = h
	return nil
}

// Serve subscribes to every registered routing key and processes
// messages until the context is canceled. It implements suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.mu.Lock()
	if len(d.handlers) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher: no handlers registered")
	}
	d.running = true
	keys := make([]string, 0, len(d.handlers))
	for key := range d.handlers {
		keys = append(keys, key)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, key := range keys {
		messages, err := d.subscriber.Subscribe(ctx, key)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", key, err)
		}

		wg.Add(1)
		go func(routingKey string, messages <-chan *message.Message) {
			defer wg.Done()
			for msg := range messages {
				d.dispatch(ctx, routingKey, msg)
			}
		}(key, messages)
	}

	logging.Info().
		Strs("routing_keys", keys).
		Str("policy", d.config.OnHandlerError).
		Msg("Dispatcher started")

	<-ctx.Done()
	wg.Wait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return ctx.Err()
}

// dispatch runs the handler for one message and settles it according to
// the outcome.
func (d *Dispatcher) dispatch(ctx context.Context, routingKey string, msg *message.Message) {
	metrics.RecordEventConsumed(routingKey)
	start := time.Now()

	handler := d.handlers[routingKey]
	err := handler(ctx, msg.Payload)
	if err == nil {
		msg.Ack()
		metrics.RecordEventProcessed(routingKey, time.Since(start))
		return
	}

	if IsRetryable(err) {
		metrics.RecordEventFailed(routingKey, "transient")
		logging.Warn().
			Err(err).
			Str("routing_key", routingKey).
			Str("message_uuid", msg.UUID).
			Msg("Handler failed, redelivering")
		msg.Nack()
		return
	}

	metrics.RecordEventFailed(routingKey, "permanent")
	switch d.config.OnHandlerError {
	case PolicyDeadLetter:
		d.deadLetter(routingKey, msg, err)
	default:
		logging.Error().
			Err(err).
			Str("routing_key", routingKey).
			Str("message_uuid", msg.UUID).
			Msg("Dropping unprocessable message")
		metrics.RecordEventDropped(routingKey)
		msg.Ack()
	}
}

// deadLetter republishes the raw payload to the dead-letter subject and
// acknowledges the original. The original is nacked if the dead-letter
// publish itself fails, so the event is never lost between the two
// streams.
func (d *Dispatcher) deadLetter(routingKey string, msg *message.Message, cause error) {
	dlqMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	dlqMsg.Metadata.Set("original_routing_key", routingKey)
	dlqMsg.Metadata.Set("original_message_uuid", msg.UUID)
	dlqMsg.Metadata.Set("error", cause.Error())
	dlqMsg.Metadata.Set(natsgo.MsgIdHdr, dlqMsg.UUID)

	if err := d.deadletter.Publish(DeadLetterPrefix+routingKey, dlqMsg); err != nil {
		logging.Error().
			Err(err).
			Str("routing_key", routingKey).
			Str("message_uuid", msg.UUID).
			Msg("Dead-letter publish failed, redelivering original")
		msg.Nack()
		return
	}

	logging.Error().
		Err(cause).
		Str("routing_key", routingKey).
		Str("message_uuid", msg.UUID).
		Msg("Message routed to dead-letter subject")
	metrics.RecordEventDeadLettered(routingKey)
	msg.Ack()
}

// Close shuts down the underlying subscriber.
func (d *Dispatcher) Close() error {
	return d.subscriber.Close()
}

// String identifies the dispatcher in supervisor logs.
func (d *Dispatcher) String() string {
	return "eventbus.Dispatcher"
}
