// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package main is the entry point for the Winnerd server.
//
// Winnerd consumes competition, submission, and comparison events from
// the Photoarena broker, maintains a local materialized view, and
// decides exactly one winner per competition. The decision fires on a
// competition stop, on a late comparison result for an ended
// competition, or from the periodic reconciliation sweep; all three
// paths share one conditional commit so concurrent triggers cannot
// produce two winners.
//
// # Startup order
//
//  1. Configuration (Koanf: env > file > defaults)
//  2. Logging (zerolog)
//  3. Embedded NATS server when broker.embedded is set
//  4. Materialized store (Badger or in-memory)
//  5. Broker connection with bounded retry; on exhaustion the service
//     runs degraded (HTTP and sweep only, no event ingestion)
//  6. JetStream topology declaration
//  7. Supervision tree: dispatcher and scheduler under the messaging
//     layer, the HTTP server under the API layer
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the root context; the supervision tree
// drains its services, then broker and store connections close.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/photoarena/winnerd/internal/api"
	"github.com/photoarena/winnerd/internal/config"
	"github.com/photoarena/winnerd/internal/eventbus"
	"github.com/photoarena/winnerd/internal/ingest"
	"github.com/photoarena/winnerd/internal/logging"
	"github.com/photoarena/winnerd/internal/scheduler"
	"github.com/photoarena/winnerd/internal/selector"
	"github.com/photoarena/winnerd/internal/store"
	"github.com/photoarena/winnerd/internal/store/badgerstore"
	"github.com/photoarena/winnerd/internal/store/memory"
	"github.com/photoarena/winnerd/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.LoggingConfig())
	logging.Info().
		Str("store_backend", cfg.Store.Backend).
		Str("broker_url", cfg.Broker.URL).
		Bool("broker_embedded", cfg.Broker.Embedded).
		Msg("Starting winnerd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerURL := cfg.Broker.URL
	if cfg.Broker.Embedded {
		embedded, err := eventbus.NewEmbeddedServer(cfg.EmbeddedServerConfig())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded broker")
		}
		defer func() {
			if err := embedded.Shutdown(context.Background()); err != nil {
				logging.Error().Err(err).Msg("Embedded broker shutdown failed")
			}
		}()
		brokerURL = embedded.ClientURL()
		logging.Info().Str("url", brokerURL).Msg("Embedded broker started")
	}

	st, err := openStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Store close failed")
		}
	}()

	connectorCfg := cfg.ConnectorConfig()
	connectorCfg.URL = brokerURL
	connector, err := eventbus.NewConnector(connectorCfg, eventbus.DefaultStreamConfigs())
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid broker configuration")
	}

	degraded := false
	if err := connector.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if !errors.Is(err, eventbus.ErrConnectExhausted) {
			logging.Fatal().Err(err).Msg("Broker connection failed")
		}
		degraded = true
		logging.Error().Err(err).Msg("Broker unreachable, running degraded without event ingestion")
	}

	var (
		publisher  *eventbus.Publisher
		dispatcher *eventbus.Dispatcher
	)
	if !degraded {
		if err := connector.EnsureTopology(ctx); err != nil {
			logging.Fatal().Err(err).Msg("Failed to declare broker topology")
		}

		wmLogger := logging.NewWatermillAdapter()

		publisherCfg := cfg.PublisherConfig()
		publisherCfg.URL = brokerURL
		publisher, err = eventbus.NewPublisher(publisherCfg, wmLogger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Publisher close failed")
			}
		}()

		dispatcherCfg := cfg.DispatcherConfig()
		dispatcherCfg.URL = brokerURL
		subscriber, err := eventbus.NewSubscriber(dispatcherCfg, wmLogger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create subscriber")
		}
		dispatcher, err = eventbus.NewDispatcher(dispatcherCfg, subscriber, publisher.WatermillPublisher())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create dispatcher")
		}
		defer func() {
			if err := dispatcher.Close(); err != nil {
				logging.Error().Err(err).Msg("Dispatcher close failed")
			}
		}()
	}
	defer func() {
		if err := connector.Close(); err != nil {
			logging.Error().Err(err).Msg("Broker connection close failed")
		}
	}()

	var announcer selector.EventPublisher
	if publisher != nil {
		announcer = publisher
	}
	sel := selector.New(st, announcer)

	sched, err := scheduler.New(cfg.SchedulerConfig(), st, sel)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid scheduler configuration")
	}

	if dispatcher != nil {
		handlers := ingest.New(st, sel)
		for routingKey, handler := range handlers.Bindings() {
			if err := dispatcher.Register(routingKey, handler); err != nil {
				logging.Fatal().Err(err).Str("routing_key", routingKey).Msg("Handler registration failed")
			}
		}
	}

	apiHandler := api.NewHandler(st, sel, sched, connector.Connected)
	httpCfg := cfg.HTTPServerConfig()
	httpServer := api.NewServer(httpCfg, api.NewRouter(httpCfg, apiHandler))

	tree := supervisor.NewTree(logging.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	if dispatcher != nil {
		tree.AddMessagingService(dispatcher)
	}
	tree.AddMessagingService(sched)
	tree.AddAPIService(httpServer)

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}

// openStore builds the configured store backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logging.Warn().Msg("Using in-memory store, view rebuilds from the event stream on restart")
		return memory.New(), nil
	default:
		return badgerstore.Open(cfg.Store.Path)
	}
}
