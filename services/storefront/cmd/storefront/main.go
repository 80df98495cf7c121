package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"bookstore/internal/ratelimit"
	"bookstore/internal/util"
	"bookstore/pkg/clientstore"
	"bookstore/pkg/storage"
	"bookstore/services/storefront/internal/authclient"
	"bookstore/services/storefront/internal/bookclient"
	"bookstore/services/storefront/internal/cartevents"
	"bookstore/services/storefront/internal/config"
	"bookstore/services/storefront/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	durations, err := config.ParseDurations(cfg)
	if err != nil {
		log.Fatalf("failed to parse durations: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
	}

	backend, closeBackend, err := openClientStore(cfg, durations, rdb)
	if err != nil {
		log.Fatalf("failed to open client storage: %v", err)
	}
	defer closeBackend()

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}

	srvCfg := server.Config{
		Auth:                authclient.NewClient(cfg.APIBaseURL, durations.Auth),
		Books:               bookclient.NewClient(cfg.APIBaseURL, durations.Book),
		Storage:             backend,
		TrustedProxies:      trusted,
		VisitorCookieName:   cfg.VisitorCookieName,
		VisitorCookieSecure: cfg.VisitorCookieSecure,
		RestoreWait:         durations.RestoreWait,
		SessionIdle:         durations.SessionIdle,
	}
	if rdb != nil {
		if cfg.LoginRateLimitPerMinute > 0 {
			srvCfg.LoginLimiter, err = ratelimit.NewFixedWindowLimiter(rdb, "bookstore:storefront:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
			if err != nil {
				log.Fatalf("failed to init login limiter: %v", err)
			}
		}
		if cfg.RegisterRateLimitPerMinute > 0 {
			srvCfg.RegisterLimiter, err = ratelimit.NewFixedWindowLimiter(rdb, "bookstore:storefront:ratelimit:register", cfg.RegisterRateLimitPerMinute, time.Minute)
			if err != nil {
				log.Fatalf("failed to init register limiter: %v", err)
			}
		}
	}
	if cfg.MinioEndpoint != "" {
		covers, err := storage.NewCoverStore(storage.CoverConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init cover store: %v", err)
		}
		if err := covers.CheckBucket(context.Background()); err != nil {
			logger.Warn("cover bucket unavailable", "bucket", cfg.MinioBucket, "err", err)
		}
		srvCfg.Covers = covers
	}
	if cfg.RabbitURL != "" {
		pub, err := cartevents.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			logger.Warn("cart events disabled", "err", err)
		} else {
			defer pub.Close()
			srvCfg.CartObserver = cartevents.Observer(pub)
		}
	}

	storefront, err := server.New(srvCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      storefront.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return storefront.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("server stopped")
}

func openClientStore(cfg config.FileConfig, d config.Durations, rdb *redis.Client) (clientstore.Backend, func(), error) {
	noop := func() {}
	switch cfg.StorageDriver {
	case config.DriverFile:
		b, err := clientstore.NewFileBackend(cfg.DataDir)
		return b, noop, err
	case config.DriverRedis:
		return clientstore.NewRedisBackend(rdb, "", d.StorageTTL), noop, nil
	case config.DriverPostgres:
		b, err := clientstore.NewGormBackend(cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return b, func() {
			if err := b.Close(); err != nil {
				slog.Warn("close client storage failed", "err", err)
			}
		}, nil
	default:
		return clientstore.NewMemoryBackend(), noop, nil
	}
}
