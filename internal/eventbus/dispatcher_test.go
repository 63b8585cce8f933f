// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

func newTestPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
}

func testDispatcherConfig(policy string) DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.OnHandlerError = policy
	return cfg
}

// startDispatcher runs Serve in the background and gives the
// subscriptions a moment to establish before the test publishes.
func startDispatcher(t *testing.T, ctx context.Context, d *Dispatcher) {
	t.Helper()
	go func() {
		_ = d.Serve(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDispatcherRoutesByRoutingKey(t *testing.T) {
	pubsub := newTestPubSub()
	defer pubsub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created := make(chan struct{}, 1)
	deleted := make(chan struct{}, 1)

	d, err := NewDispatcher(testDispatcherConfig(PolicyDrop), pubsub, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.Register("competition.created", func(_ context.Context, payload []byte) error {
		if string(payload) != `{"id":"c1"}` {
			t.Errorf("unexpected payload: %s", payload)
		}
		created <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register("competition.deleted", func(context.Context, []byte) error {
		deleted <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	startDispatcher(t, ctx, d)

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"id":"c1"}`))
	if err := pubsub.Publish("competition.created", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, created, "created handler")

	select {
	case <-deleted:
		t.Fatal("deleted handler invoked for created routing key")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherRejectsDuplicateRegistration(t *testing.T) {
	pubsub := newTestPubSub()
	defer pubsub.Close()

	d, err := NewDispatcher(testDispatcherConfig(PolicyDrop), pubsub, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	handler := func(context.Context, []byte) error { return nil }
	if err := d.Register("competition.created", handler); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := d.Register("competition.created", handler); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestDispatcherRejectsNilHandler(t *testing.T) {
	pubsub := newTestPubSub()
	defer pubsub.Close()

	d, err := NewDispatcher(testDispatcherConfig(PolicyDrop), pubsub, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.Register("competition.created", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestDispatcherRequiresDeadLetterPublisher(t *testing.T) {
	pubsub := newTestPubSub()
	defer pubsub.Close()

	if _, err := NewDispatcher(testDispatcherConfig(PolicyDeadLetter), pubsub, nil); err == nil {
		t.Fatal("expected error for dead-letter policy without publisher")
	}
}

func TestDispatcherRedeliversTransientFailures(t *testing.T) {
	pubsub := newTestPubSub()
	defer pubsub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	done := make(chan struct{})

	d, err := NewDispatcher(testDispatcherConfig(PolicyDrop), pubsub, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.Register("comparison.completed", func(context.Context, []byte) error {
		if attempts.Add(1) < 3 {
			return NewRetryableError("store unavailable", errors.New("dial refused"))
		}
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	startDispatcher(t, ctx, d)

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	if err := pubsub.Publish("comparison.completed", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, done, "third delivery attempt")
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDispatcherDropPolicyAcksPermanentFailures(t *testing.T) {
	pubsub := newTestPubSub()
	defer pubsub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	second := make(chan struct{})

	d, err := NewDispatcher(testDispatcherConfig(PolicyDrop), pubsub, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.Register("submission.created", func(_ context.Context, payload []byte) error {
		attempts.Add(1)
		if string(payload) == "not json" {
			return NewPermanentError("parse event", errors.New("invalid character"))
		}
		close(second)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	startDispatcher(t, ctx, d)

	bad := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	if err := pubsub.Publish("submission.created", bad); err != nil {
		t.Fatalf("publish bad: %v", err)
	}
	good := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	if err := pubsub.Publish("submission.created", good); err != nil {
		t.Fatalf("publish good: %v", err)
	}

	// The dropped message must not block the subscription.
	waitFor(t, second, "delivery after drop")
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2 (no redelivery of dropped message)", got)
	}
}

func TestDispatcherDeadLettersPermanentFailures(t *testing.T) {
	pubsub := newTestPubSub()
	defer pubsub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dlq, err := pubsub.Subscribe(ctx, DeadLetterPrefix+"comparison.completed")
	if err != nil {
		t.Fatalf("subscribe dlq: %v", err)
	}

	d, err := NewDispatcher(testDispatcherConfig(PolicyDeadLetter), pubsub, pubsub)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.Register("comparison.completed", func(context.Context, []byte) error {
		return NewPermanentError("parse event", errors.New("truncated"))
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	startDispatcher(t, ctx, d)

	original := message.NewMessage(watermill.NewUUID(), []byte(`garbage`))
	if err := pubsub.Publish("comparison.completed", original); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-dlq:
		if string(msg.Payload) != "garbage" {
			t.Errorf("dead-letter payload = %q, want original payload", msg.Payload)
		}
		if got := msg.Metadata.Get("original_routing_key"); got != "comparison.completed" {
			t.Errorf("original_routing_key = %q", got)
		}
		if got := msg.Metadata.Get("original_message_uuid"); got != original.UUID {
			t.Errorf("original_message_uuid = %q, want %q", got, original.UUID)
		}
		if msg.Metadata.Get("error") == "" {
			t.Error("expected error metadata on dead-lettered message")
		}
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dead-lettered message")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable", NewRetryableError("timeout", nil), true},
		{"permanent", NewPermanentError("bad payload", nil), false},
		{"wrapped permanent", errors.Join(errors.New("ctx"), NewPermanentError("bad", nil)), false},
		{"unclassified", errors.New("something"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
