package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipSync/config"
	"github.com/BearBump/ShipSync/internal/api/webhook_api"
	"github.com/BearBump/ShipSync/internal/broker/kafka"
	"github.com/BearBump/ShipSync/internal/cache/rediscache"
	"github.com/BearBump/ShipSync/internal/integrations/aggregator/track17http"
	"github.com/BearBump/ShipSync/internal/integrations/platform/shopgql"
	"github.com/BearBump/ShipSync/internal/services/appconfig"
	"github.com/BearBump/ShipSync/internal/services/registration"
	"github.com/BearBump/ShipSync/internal/services/statusmap"
	"github.com/BearBump/ShipSync/internal/services/syncer"
	"github.com/BearBump/ShipSync/internal/storage/pgstore"
)

type syncAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    syncAPIOpts
	handler *webhook_api.Handler
	pool    *syncer.ResyncPool
	ready   func(ctx context.Context) error
	closeDB func()
}

func mustBootstrapSyncAPI() *syncAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.ShipSync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.StatusChangedTopicName
	if topic == "" {
		topic = "fulfillment.status.changed"
	}
	stateTTL := time.Duration(cfg.ShipSync.TrackingStateTTLSeconds) * time.Second
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	aggBaseURL := cfg.ShipSync.AggregatorBaseURL
	if aggBaseURL == "" {
		aggBaseURL = "https://api.17track.net"
	}
	aggRatePerMinute := int64(cfg.ShipSync.AggregatorRateLimitPerMinute)
	if aggRatePerMinute <= 0 {
		aggRatePerMinute = 120
	}
	platformScheme := cfg.ShipSync.PlatformScheme
	if platformScheme == "" {
		platformScheme = "https"
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	log := slog.Default()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	limiter := rediscache.NewRateLimiter(redisAddr)

	keys := appconfig.New(st)
	agg := track17http.New(aggBaseURL, keys).WithLogger(log)
	platformClient := shopgql.New(platformScheme, cfg.ShipSync.PlatformAPIVersion, st)

	reg := registration.NewManager(st, agg, limiter, aggRatePerMinute, log)
	resolver := statusmap.NewResolver(st)

	svc := syncer.New(st, reg, resolver, platformClient, agg, log).
		WithProducer(kafka.NewProducer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}), topic).
		WithStateCache(rc, stateTTL).
		WithPublicBaseURL(cfg.ShipSync.PublicBaseURL)

	pool := syncer.NewResyncPool(svc.SyncFulfillment, cfg.ShipSync.ResyncWorkers, cfg.ShipSync.ResyncQueueSize)
	svc.SetResyncPool(pool)

	handler := webhook_api.New(svc, st, keys, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &syncAPIApp{
		ctx:     ctx,
		cancel:  cancel,
		opts:    syncAPIOpts{httpAddr: httpAddr},
		handler: handler,
		pool:    pool,
		ready:   st.Ping,
		closeDB: st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *syncAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *syncAPIApp) Run() error {
	return runSyncAPI(a.ctx, a.opts, a.handler, a.pool, a.ready)
}
