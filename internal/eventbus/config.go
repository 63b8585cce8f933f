// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package eventbus

import (
	"fmt"
	"time"

	"github.com/photoarena/winnerd/internal/events"
)

// Failure policies for messages whose handler returned a permanent
// error. Transient errors are always redelivered regardless of policy.
const (
	// PolicyDrop logs the failure and acknowledges the message.
	PolicyDrop = "drop"
	// PolicyDeadLetter republishes the raw payload to the dead-letter
	// subject before acknowledging.
	PolicyDeadLetter = "deadletter"
)

// DeadLetterPrefix is prepended to the original routing key when a
// message is routed to the dead-letter subject.
const DeadLetterPrefix = "winnerd.dlq."

// DeadLetterStream holds dead-lettered messages for operator replay.
const DeadLetterStream = "WINNERD_DLQ"

// ConnectorConfig controls the initial broker connection.
type ConnectorConfig struct {
	// URL is the NATS server address.
	URL string

	// MaxAttempts bounds the startup connection loop. When exhausted the
	// connector returns ErrConnectExhausted and the caller decides
	// whether to run degraded.
	MaxAttempts int

	// RetryWait is the fixed delay between startup attempts.
	RetryWait time.Duration

	// MaxReconnects bounds reconnection after an established connection
	// drops. -1 means retry forever.
	MaxReconnects int

	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait time.Duration
}

// DefaultConnectorConfig returns the startup connection defaults.
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		URL:           "nats://localhost:4222",
		MaxAttempts:   10,
		RetryWait:     5 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Validate checks connector configuration bounds.
func (c *ConnectorConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: connector URL is required", ErrInvalidConfig)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: MaxAttempts must be at least 1", ErrInvalidConfig)
	}
	if c.RetryWait <= 0 {
		return fmt.Errorf("%w: RetryWait must be positive", ErrInvalidConfig)
	}
	return nil
}

// PublisherConfig controls the JetStream publisher.
type PublisherConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int

	// EnableTrackMsgID sets Nats-Msg-Id on published messages so the
	// stream's duplicate window suppresses republished events.
	EnableTrackMsgID bool

	// BreakerMaxFailures consecutive publish failures open the circuit.
	BreakerMaxFailures uint32

	// BreakerTimeout is how long the circuit stays open before a probe.
	BreakerTimeout time.Duration
}

// DefaultPublisherConfig returns publisher defaults.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		URL:                "nats://localhost:4222",
		MaxReconnects:      -1,
		ReconnectWait:      2 * time.Second,
		ReconnectBuffer:    8 * 1024 * 1024,
		EnableTrackMsgID:   true,
		BreakerMaxFailures: 5,
		BreakerTimeout:     30 * time.Second,
	}
}

// Validate checks publisher configuration bounds.
func (c *PublisherConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: publisher URL is required", ErrInvalidConfig)
	}
	return nil
}

// DispatcherConfig controls durable consumption and handler failure
// behaviour.
type DispatcherConfig struct {
	URL string

	// DurableName is the durable consumer prefix; the per-subject
	// consumer names derive from it, so it must be stable across
	// restarts for redelivery to resume.
	DurableName string

	// QueueGroup load-balances deliveries across service instances.
	QueueGroup string

	SubscribersCount int
	AckWait          time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration

	// OnHandlerError selects the failure policy for permanent handler
	// errors: PolicyDrop or PolicyDeadLetter.
	OnHandlerError string
}

// DefaultDispatcherConfig returns dispatcher defaults. The durable name
// matches the service identity so consumer state survives deploys.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		URL:              "nats://localhost:4222",
		DurableName:      "winner-service",
		QueueGroup:       "winner-service",
		SubscribersCount: 1,
		AckWait:          30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    256,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		OnHandlerError:   PolicyDeadLetter,
	}
}

// Validate checks dispatcher configuration bounds.
func (c *DispatcherConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: dispatcher URL is required", ErrInvalidConfig)
	}
	if c.DurableName == "" {
		return fmt.Errorf("%w: DurableName is required", ErrInvalidConfig)
	}
	if c.OnHandlerError != PolicyDrop && c.OnHandlerError != PolicyDeadLetter {
		return fmt.Errorf("%w: OnHandlerError must be %q or %q", ErrInvalidConfig, PolicyDrop, PolicyDeadLetter)
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("%w: AckWait must be positive", ErrInvalidConfig)
	}
	return nil
}

// StreamConfig describes one JetStream stream the service declares.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfigs returns the streams that carry the competition
// domain's events plus the dead-letter stream. Subjects use the
// routing-key hierarchy, so one stream covers all events of a kind.
func DefaultStreamConfigs() []StreamConfig {
	base := StreamConfig{
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        1 << 30,
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}

	streams := make([]StreamConfig, 0, 5)
	for name, subject := range map[string]string{
		events.StreamCompetitions: "competition.>",
		events.StreamSubmissions:  "submission.>",
		events.StreamComparisons:  "comparison.>",
		events.StreamWinners:      "winner.>",
		DeadLetterStream:          DeadLetterPrefix + ">",
	} {
		s := base
		s.Name = name
		s.Subjects = []string{subject}
		streams = append(streams, s)
	}
	return streams
}

// ServerConfig controls the embedded NATS server used by single-node
// deployments and integration tests.
type ServerConfig struct {
	Enabled           bool
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns embedded server defaults. Port 0 lets the
// operating system pick a free port, which suits tests.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:           false,
		Host:              "127.0.0.1",
		Port:              4222,
		JetStreamMaxMem:   256 << 20,
		JetStreamMaxStore: 2 << 30,
	}
}
