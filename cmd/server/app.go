package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/rl1809/retail-floor/internal/adapter/auth"
	"github.com/rl1809/retail-floor/internal/adapter/handler"
	"github.com/rl1809/retail-floor/internal/adapter/metrics"
	"github.com/rl1809/retail-floor/internal/adapter/notify"
	"github.com/rl1809/retail-floor/internal/adapter/storage"
	"github.com/rl1809/retail-floor/internal/config"
	"github.com/rl1809/retail-floor/internal/core/service"
	"github.com/rl1809/retail-floor/internal/platform/observability"
	"github.com/rl1809/retail-floor/internal/port"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store    port.LeaseStore
	rdb      *redis.Client
	notifier port.Notifier
	relay    *service.EventRelay

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

func openStore(ctx context.Context, cfg config.StoreConfig) (port.LeaseStore, error) {
	pool := storage.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	return storage.Open(ctx, cfg.Driver, cfg.DSN, pool, cfg.TxTimeout)
}

func migrate(ctx context.Context, store port.LeaseStore) (bool, error) {
	sqlStore, ok := store.(*storage.SQLStore)
	if !ok {
		return false, nil
	}
	return true, sqlStore.Migrate(ctx)
}

func newApp(ctx context.Context, cfg *config.Config, tel *observability.Telemetry) (*app, error) {
	a := &app{cfg: cfg, logger: tel.Logger}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.logger.Info("lease store ready", zap.String("driver", cfg.Store.Driver))

	if cfg.Store.AutoMigrate {
		if applied, err := migrate(ctx, store); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate: %w", err)
		} else if applied {
			a.logger.Info("schema applied")
		}
	}

	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, PoolSize: 100})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	m := metrics.New()
	a.notifier = a.buildNotifier()
	a.relay = service.NewEventRelay(a.notifier, cfg.Relay.QueueSize, a.logger, m)
	a.relay.Start(cfg.Relay.Workers)

	opts := []service.Option{
		service.WithLogger(a.logger),
		service.WithTracer(tel.Tracer),
		service.WithMetrics(m),
		service.WithHubLocation(cfg.HubLocation),
		service.WithAtomicTransferCompletion(cfg.AtomicTransferCompletion),
	}
	queue := service.NewQueueService(store, a.relay, opts...)
	inventory := service.NewInventoryService(store, a.relay, opts...)
	supply := service.NewSupplyService(store, a.relay, opts...)

	verifier := a.buildVerifier()
	var idem port.IdempotencyStore = storage.NewMemoryIdempotency(cfg.Redis.IdempotencyTTL)
	if a.rdb != nil {
		idem = storage.NewRedisAdapter(a.rdb, cfg.Redis.IdempotencyTTL)
	}

	mux := http.NewServeMux()
	handler.NewHTTPHandler(queue, inventory, supply, verifier, idem, a.logger).Register(mux)
	mux.Handle("GET /metrics", m.Handler())
	a.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.grpcServer, a.health = handler.NewGRPCServer(
		handler.NewGRPCHandler(queue, inventory, supply, verifier),
		a.logger,
	)
	return a, nil
}

func (a *app) buildNotifier() port.Notifier {
	fanout := notify.Fanout{notify.NewLogNotifier(a.logger)}
	if a.rdb != nil {
		fanout = append(fanout, notify.NewRedisNotifier(a.rdb, a.cfg.Redis.Channel, a.cfg.Redis.ReplayLength))
	}
	if len(a.cfg.Kafka.Brokers) > 0 {
		fanout = append(fanout, notify.NewKafkaNotifier(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic))
		a.logger.Info("publishing events to kafka", zap.Strings("brokers", a.cfg.Kafka.Brokers), zap.String("topic", a.cfg.Kafka.Topic))
	}
	return fanout
}

func (a *app) buildVerifier() port.IdentityVerifier {
	chain := auth.Chain{auth.StaticTokens(a.cfg.Auth.StaticTokens)}
	if a.rdb != nil && a.cfg.Redis.Sessions {
		chain = append(chain, auth.NewRedisSessions(a.rdb))
	}
	return chain
}

// run serves HTTP and gRPC until ctx is cancelled or a listener fails, then
// shuts everything down.
func (a *app) run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		a.shutdown()
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("gRPC server listening", zap.String("addr", a.cfg.GRPCAddr))
		if err := a.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := a.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down...")
		err = nil
	case err = <-errCh:
		a.logger.Error("server failed", zap.Error(err))
	}
	a.shutdown()
	return err
}

func (a *app) shutdown() {
	a.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("HTTP shutdown", zap.Error(err))
	}
	a.logger.Info("HTTP server stopped")

	a.grpcServer.GracefulStop()
	a.logger.Info("gRPC server stopped")

	// Drain events published by the requests that just finished.
	a.relay.Close()
	a.logger.Info("event relay drained")

	a.close()
}

func (a *app) close() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("close notifier", zap.Error(err))
		}
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	}
	a.logger.Info("connections closed")
}
