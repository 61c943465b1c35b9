package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfll/fms/internal/assets"
	"github.com/openfll/fms/internal/auth"
	"github.com/openfll/fms/internal/gateway"
	"github.com/openfll/fms/internal/timer"
	"github.com/openfll/fms/internal/timer/diffcache"
)

// Services holds the wired application graph.
type Services struct {
	Timers      *timer.App
	Gateway     *gateway.Handler
	Broadcaster *gateway.Broadcaster
	Relay       *gateway.Relay
	Authorizer  *auth.StaticAuthorizer
	Registry    *prometheus.Registry
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Storage layer.
	var repo timer.Repository
	switch cfg.Storage.Driver {
	case "memory":
		repo = timer.NewMemoryRepository()
	case "postgres":
		db, err := setupDatabase()
		if err != nil {
			return nil, err
		}
		pg := timer.NewPostgresRepository(db)
		if cfg.Storage.InitSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		repo = pg
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	clock := clockwork.NewRealClock()
	cache := diffcache.New()
	timerApp := timer.NewApp(repo, cache, clock)

	// Gateway: broadcaster, broadcast rules, WebSocket handler.
	registry := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(registry)
	broadcaster := gateway.NewBroadcaster(metrics)
	payloads := gateway.NewPayloadBuilder(
		assets.StaticResolver{BaseURL: cfg.Server.StaticBaseURL}, clock)

	reactor := gateway.NewReactor(broadcaster, timerApp, payloads)
	timerApp.SetHooks(reactor)

	authorizer := auth.NewStaticAuthorizer()
	for token, caps := range cfg.Auth.Tokens {
		for _, c := range caps {
			authorizer.Grant(token, auth.Capability(c))
		}
	}

	handler := gateway.NewHandler(timerApp, payloads, broadcaster, authorizer,
		gateway.DefaultConnectionConfig())

	services := &Services{
		Timers:      timerApp,
		Gateway:     handler,
		Broadcaster: broadcaster,
		Authorizer:  authorizer,
		Registry:    registry,
	}

	if cfg.Relay.Enabled {
		relayCfg := gateway.DefaultRelayConfig()
		if cfg.Relay.URL != "" {
			relayCfg.URL = cfg.Relay.URL
		}
		relay, err := gateway.NewRelay(relayCfg, broadcaster)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay: %w", err)
		}
		if err := relay.Start(); err != nil {
			return nil, fmt.Errorf("failed to start relay: %w", err)
		}
		services.Relay = relay
	}

	return services, nil
}
