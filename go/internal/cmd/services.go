package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/go/clients/catalog_client"
	"github.com/pointdeck/pointdeck/go/internal/catalog"
	"github.com/pointdeck/pointdeck/go/internal/realtime/gateway"
	"github.com/pointdeck/pointdeck/go/internal/session"
	"github.com/pointdeck/pointdeck/go/internal/session/repository"
)

// Services holds every wired component of the gateway process.
type Services struct {
	Store   repository.Store
	Catalog catalog.Catalog
	App     *session.App
	Gateway *gateway.Service
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	clock := clockwork.NewRealClock()
	ttl := time.Duration(config.Store.TTLHours) * time.Hour

	store := setupStore(ctx, config, ttl, clock)

	cat, err := setupCatalog(ctx, config)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{session.WithClock(clock)}
	if len(config.Points) > 0 {
		opts = append(opts, session.WithPointScale(session.PointScale(config.Points)))
	}
	app := session.NewApp(store, cat, opts...)

	if config.Demo.Seed {
		if err := app.EnsureDemoSession(ctx); err != nil {
			return nil, fmt.Errorf("failed to seed demo session: %w", err)
		}
	}

	gatewayConfig := gateway.DefaultConfig()
	if config.Gateway.NATSEnabled {
		natsConfig := gateway.DefaultNATSConfig()
		natsConfig.URL = config.Gateway.NATSURL
		gatewayConfig.NATS = &natsConfig
	}

	gatewayService, err := gateway.NewService(gatewayConfig, app, app, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}

	return &Services{
		Store:   store,
		Catalog: cat,
		App:     app,
		Gateway: gatewayService,
	}, nil
}

// setupStore prefers Redis and degrades to the in-memory store when
// Redis is unreachable, so the gateway still comes up at demo scale.
func setupStore(ctx context.Context, config *Config, ttl time.Duration, clock clockwork.Clock) repository.Store {
	if config.Store.Backend != "redis" {
		log.Info().Msg("using in-memory session store")
		return repository.NewMemoryStore(ttl, clock)
	}

	redisOpts, err := redis.ParseURL(config.Store.RedisURL)
	if err != nil {
		log.Warn().Err(err).Str("url", config.Store.RedisURL).Msg("invalid redis url, falling back to in-memory session store")
		return repository.NewMemoryStore(ttl, clock)
	}

	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, falling back to in-memory session store")
		client.Close()
		return repository.NewMemoryStore(ttl, clock)
	}

	log.Info().Str("url", config.Store.RedisURL).Msg("using redis session store")
	return repository.NewRedisStore(client, ttl, clock)
}

func setupCatalog(ctx context.Context, config *Config) (catalog.Catalog, error) {
	switch config.Catalog.Backend {
	case "postgres":
		dbConfig := databaseConfigFromEnv()
		pool, err := pgxpool.New(ctx, dbConfig.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping catalog database: %w", err)
		}
		log.Info().Str("host", dbConfig.Host).Str("database", dbConfig.Database).Msg("using postgres item catalog")
		return catalog.NewPostgresCatalog(pool), nil

	case "http":
		if config.Catalog.BaseURL == "" {
			return nil, fmt.Errorf("catalog backend %q requires base_url", config.Catalog.Backend)
		}
		log.Info().Str("base_url", config.Catalog.BaseURL).Msg("using http item catalog")
		return catalog_client.NewCatalogClient(config.Catalog.BaseURL, config.Catalog.APIKey), nil

	case "mock", "":
		log.Info().Msg("using seeded mock item catalog")
		return catalog.SeededMockCatalog(), nil

	default:
		return nil, fmt.Errorf("unknown catalog backend %q", config.Catalog.Backend)
	}
}
