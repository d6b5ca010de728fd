package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/trogers1052/drawdown-screener/internal/config"
	"github.com/trogers1052/drawdown-screener/internal/database"
	"github.com/trogers1052/drawdown-screener/internal/kafka"
	"github.com/trogers1052/drawdown-screener/internal/lock"
	"github.com/trogers1052/drawdown-screener/internal/metrics"
	"github.com/trogers1052/drawdown-screener/internal/pipeline"
	"github.com/trogers1052/drawdown-screener/internal/secrets"
	"github.com/trogers1052/drawdown-screener/internal/universe"
)

// app holds the long-lived connections shared by the subcommands
type app struct {
	cfg      *config.Config
	db       *database.DB
	universe *universe.Universe
	redis    *redis.Client
	producer *kafka.Producer
	metrics  *metrics.Registry
	secrets  secrets.Provider
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	u, err := loadUniverse(cfg.Pipeline)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		universe: u,
		metrics:  metrics.NewRegistry(),
		secrets:  secrets.NewEnvProvider(),
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("distributed run lock enabled")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("event publishing enabled")
	}

	return a, nil
}

func loadUniverse(cfg config.PipelineConfig) (*universe.Universe, error) {
	if cfg.UniverseFile != "" {
		return universe.Load(cfg.UniverseFile)
	}
	return universe.Default(), nil
}

func (a *app) runner() *pipeline.Runner {
	deps := pipeline.Deps{
		Universe:     a.universe,
		Store:        a.db,
		Secrets:      a.secrets,
		Requirements: pipeline.Requirements(a.cfg),
		NewFetcher:   pipeline.NewFetcherFactory(a.cfg.MarketData),
		NewPortfolio: pipeline.NewPortfolioFactory(a.cfg.Brokerage),
		Metrics:      a.metrics,
	}
	if a.redis != nil {
		deps.Locker = lock.NewRedisLocker(a.redis, a.cfg.Redis.LockKey, a.cfg.Redis.LockTTL)
	}
	if a.producer != nil {
		deps.Publisher = a.producer
	}

	return pipeline.NewRunner(deps, pipeline.Options{
		Vendor:           a.cfg.MarketData.Provider,
		BatchSize:        a.cfg.Pipeline.BatchSize,
		TopN:             a.cfg.Pipeline.TopN,
		HistoryDays:      a.cfg.MarketData.HistoryDays,
		RateLimitBackoff: a.cfg.MarketData.RateLimitBackoff,
		MinObservations:  a.cfg.Pipeline.MinObservations,
		LookbackDays:     a.cfg.Pipeline.LookbackDays,
	})
}

func (a *app) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close kafka producer")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
