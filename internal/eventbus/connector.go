// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package eventbus

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/photoarena/winnerd/internal/logging"
	"github.com/photoarena/winnerd/internal/metrics"
)

// Connector establishes the startup broker connection and declares the
// JetStream topology. It is used once during boot; the Publisher and
// Dispatcher hold their own connections afterwards.
type Connector struct {
	config  ConnectorConfig
	streams []StreamConfig
	nc      *natsgo.Conn
}

// NewConnector creates a connector for the given configuration.
func NewConnector(cfg ConnectorConfig, streams []StreamConfig) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connector{config: cfg, streams: streams}, nil
}

// Connect dials the broker with a bounded number of attempts and a
// fixed wait between them. On exhaustion it returns ErrConnectExhausted
// so the caller can choose degraded operation over crash-looping.
func (c *Connector) Connect(ctx context.Context) error {
	opts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(false),
		natsgo.MaxReconnects(c.config.MaxReconnects),
		natsgo.ReconnectWait(c.config.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			metrics.SetBrokerConnected(false)
			if err != nil {
				logging.Error().Err(err).Msg("Broker disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			metrics.SetBrokerConnected(true)
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Broker reconnected")
		}),
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		metrics.BrokerConnectAttempts.Inc()

		nc, err := natsgo.Connect(c.config.URL, opts...)
		if err == nil {
			c.nc = nc
			metrics.SetBrokerConnected(true)
			logging.Info().
				Str("url", nc.ConnectedUrl()).
				Int("attempt", attempt).
				Msg("Broker connected")
			return nil
		}

		lastErr = err
		logging.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.config.MaxAttempts).
			Dur("retry_wait", c.config.RetryWait).
			Msg("Broker connection failed")

		if attempt == c.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryWait):
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrConnectExhausted, c.config.MaxAttempts, lastErr)
}

// EnsureTopology declares every stream the service depends on. Existing
// streams are updated in place, so the call is idempotent and safe to
// run from multiple instances.
func (c *Connector) EnsureTopology(ctx context.Context) error {
	if c.nc == nil {
		return fmt.Errorf("ensure topology: not connected")
	}

	js, err := jetstream.New(c.nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	for _, sc := range c.streams {
		streamCfg := jetstream.StreamConfig{
			Name:       sc.Name,
			Subjects:   sc.Subjects,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     sc.MaxAge,
			MaxBytes:   sc.MaxBytes,
			MaxMsgs:    sc.MaxMsgs,
			Duplicates: sc.DuplicateWindow,
			Replicas:   sc.Replicas,
			Storage:    jetstream.FileStorage,
			Discard:    jetstream.DiscardOld,
		}

		if _, err := js.Stream(ctx, sc.Name); err == nil {
			if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
				return fmt.Errorf("update stream %s: %w", sc.Name, err)
			}
		} else {
			if _, err := js.CreateStream(ctx, streamCfg); err != nil {
				return fmt.Errorf("create stream %s: %w", sc.Name, err)
			}
		}

		logging.Debug().
			Str("stream", sc.Name).
			Strs("subjects", sc.Subjects).
			Msg("Stream ensured")
	}

	return nil
}

// Conn returns the underlying connection, or nil before Connect
// succeeds.
func (c *Connector) Conn() *natsgo.Conn {
	return c.nc
}

// Connected reports whether the connection is currently established.
func (c *Connector) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close drains and closes the connection.
func (c *Connector) Close() error {
	if c.nc == nil {
		return nil
	}
	metrics.SetBrokerConnected(false)
	return c.nc.Drain()
}
