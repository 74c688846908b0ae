package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bastionlabs/bastion/internal/cache"
	cachemem "github.com/bastionlabs/bastion/internal/cache/memory"
	cacheredis "github.com/bastionlabs/bastion/internal/cache/redis"
	"github.com/bastionlabs/bastion/internal/config"
	bastionhttp "github.com/bastionlabs/bastion/internal/http"
	jwtx "github.com/bastionlabs/bastion/internal/jwt"
	"github.com/bastionlabs/bastion/internal/metrics"
	"github.com/bastionlabs/bastion/internal/oauth"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/rate"
	"github.com/bastionlabs/bastion/internal/store"
	storemem "github.com/bastionlabs/bastion/internal/store/memory"
	storepg "github.com/bastionlabs/bastion/internal/store/pg"
)

const sweepInterval = time.Hour

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "bastion"})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("serve")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeStore()

	ch, err := openCache(cfg)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	tokens := jwtx.NewService(jwtx.Options{
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		Format:     cfg.Token.Format,
		Algorithm:  cfg.Token.Algorithm,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	})
	if err := tokens.Initialize(ctx); err != nil {
		return fmt.Errorf("signing keys: %w", err)
	}

	services := oauth.NewServices(oauth.Deps{
		Store:  st,
		Tokens: tokens,
		Cache:  ch,
		Policy: oauth.Policy{
			PKCE:            cfg.OAuth.PKCE,
			RefreshRotation: cfg.OAuth.RefreshRotation,
			ReuseDetection:  cfg.OAuth.ReuseDetection,
			ScopeCatalog:    cfg.ScopeCatalog(),
			ConsentURL:      cfg.Server.ConsentURL,
		},
	})

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	handler := bastionhttp.NewRouter(bastionhttp.RouterDeps{
		Store:        st,
		Tokens:       tokens,
		Services:     services,
		Limiter:      buildLimiter(cfg, st),
		Issuer:       cfg.Token.Issuer,
		ScopeCatalog: cfg.ScopeCatalog(),
	})
	srv := bastionhttp.NewServer(cfg.Server.Addr, handler)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return sweepLoop(ctx, st) })

	log.Info("bastion up",
		logger.String("addr", cfg.Server.Addr),
		logger.String("storage", cfg.Storage.Driver),
		logger.String("token_format", string(cfg.Token.Format)),
	)
	return g.Wait()
}

// sweepLoop garbage-collects expired tokens and codes in the background.
// Stores also drop expired rows at read time; the sweep just keeps the
// backend from accumulating rows nobody reads again.
func sweepLoop(ctx context.Context, st store.Storage) error {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := st.DeleteExpiredTokens(ctx)
			if err != nil {
				logger.Named("sweep").Warn("expired token sweep failed", logger.Err(err))
				continue
			}
			if n > 0 {
				logger.Named("sweep").Info("expired tokens removed", logger.Int("count", n))
			}
		}
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (store.Storage, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := storepg.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "memory":
		return storemem.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openCache(cfg *config.Config) (cache.Client, error) {
	switch cfg.Cache.Driver {
	case "redis":
		return cacheredis.New(cacheredis.Config{
			Addr:   cfg.Cache.Redis.Addr,
			DB:     cfg.Cache.Redis.DB,
			Prefix: cfg.Cache.Redis.Prefix,
		})
	case "memory":
		return cachemem.New(config.MustParseDuration(cfg.Cache.Memory.DefaultTTL)), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

// buildLimiter prefers the Redis window when a Redis cache is configured
// so every instance shares one budget; otherwise it counts through the
// storage backend.
func buildLimiter(cfg *config.Config, st store.Storage) rate.Limiter {
	if !cfg.Rate.Enabled {
		return nil
	}
	if cfg.Cache.Driver == "redis" {
		client := rdb.NewClient(&rdb.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
		return rate.NewRedisLimiter(client, cfg.Cache.Redis.Prefix+"rate:", cfg.Rate.Max, cfg.RateWindow())
	}
	return rate.NewStoreLimiter(st, cfg.Rate.Max, cfg.RateWindow())
}
