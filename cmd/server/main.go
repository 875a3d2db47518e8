package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/sessionflow/flowguard/internal/api/http"
	"github.com/sessionflow/flowguard/internal/application/audit"
	"github.com/sessionflow/flowguard/internal/application/engine"
	"github.com/sessionflow/flowguard/internal/config"
	"github.com/sessionflow/flowguard/internal/domain/booking"
	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/infrastructure/amqp"
	"github.com/sessionflow/flowguard/internal/infrastructure/gateway"
	"github.com/sessionflow/flowguard/internal/infrastructure/memory"
	"github.com/sessionflow/flowguard/internal/infrastructure/obs"
	"github.com/sessionflow/flowguard/internal/infrastructure/postgres"
	"github.com/sessionflow/flowguard/internal/infrastructure/redis"
	"github.com/sessionflow/flowguard/internal/infrastructure/sqlite"
	"github.com/sessionflow/flowguard/internal/infrastructure/sse"
	"github.com/sessionflow/flowguard/internal/migrations"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("env", cfg.Environment).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracerConfig{
			Endpoint:    cfg.OTelEndpoint,
			ServiceName: "flowguard",
			Version:     version,
			Environment: cfg.Environment,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("tracing disabled")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store error")
	}
	defer store.Close()

	sseHub := sse.NewHub()
	defer sseHub.Stop()
	deps := engine.Deps{Store: store, Listener: sseHub}
	if rc := redis.NewClient(redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}); rc != nil {
		defer rc.Close()
		deps.Cache = redis.NewResultCache(rc, cfg.ReceiptCacheTTL)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("callback result cache enabled")
	}
	if cfg.GatewayVerifyURL != "" {
		deps.Verifier = gateway.NewVerifier(cfg.GatewayVerifyURL, cfg.GatewayVerifyTimeout)
	}
	if cfg.FormsServiceURL != "" {
		deps.Forms = gateway.NewFormsClient(cfg.FormsServiceURL, cfg.GatewayVerifyTimeout)
	}

	var consumer *amqp.Consumer
	if cfg.AMQPURL != "" {
		pub, err := amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("amqp publisher error")
		}
		defer pub.Close()
		deps.Notifier = pub

		consumer, err = amqp.NewConsumer(cfg.AMQPURL, cfg.AMQPCallbackExchange, cfg.AMQPCallbackQueue, []string{amqp.CallbackRoutingKey})
		if err != nil {
			logger.Fatal().Err(err).Msg("amqp consumer error")
		}
		defer consumer.Close()
	}

	engineSvc, err := engine.NewService(deps, engine.Options{
		VerifyTimeout: cfg.GatewayVerifyTimeout,
		VerifyAll:     cfg.VerifyAllCallbacks,
		StaleRetries:  cfg.StaleRetryAttempts,
		SigningKey:    cfg.AuditSignKey,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine error")
	}
	auditSvc := audit.NewService(store, logger, cfg.AuditSignKey)

	apiServer := httpapi.NewServer(engineSvc, auditSvc, sseHub, logger)
	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if consumer != nil {
		cc := amqp.NewCallbackConsumer(consumer, func(ctx context.Context, cb callback.GatewayCallback) error {
			_, err := engineSvc.IngestCallback(ctx, cb)
			return err
		}, logger)
		g.Go(func() error {
			logger.Info().Str("queue", cfg.AMQPCallbackQueue).Msg("callback consumer started")
			return cc.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctxShutdown)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		return
	}
	logger.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (booking.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store; state is lost on restart")
		return memory.NewStore(), nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, err
	}
	applied, err := postgres.RunMigrations(ctx, pool, migrations.FS)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info().Strs("migrations", applied).Msg("schema migrated")
	}
	return postgres.NewStore(pool), nil
}
