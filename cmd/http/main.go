package main

import (
	"context"
	"expvar"
	"log"
	"runtime"

	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/infrastructure/backend/memory"
	"github.com/fadechat/fadechat/internal/infrastructure/configs"
	"github.com/fadechat/fadechat/internal/infrastructure/metrics"
	"github.com/fadechat/fadechat/internal/infrastructure/ratelimiter"
	"github.com/fadechat/fadechat/internal/infrastructure/tracing"
	"github.com/fadechat/fadechat/internal/presentation/api"
	"github.com/fadechat/fadechat/internal/presentation/handler/health"
	"github.com/fadechat/fadechat/internal/presentation/handler/sync"
)

const serviceName = "fadechatd"

func main() {
	logger := zap.Must(zap.NewProduction()).Sugar()
	defer logger.Sync()

	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Tracing.Enabled {
		sh, err := tracing.InitTracer(tracing.Config{
			ServiceName: serviceName,
			Environment: cfg.Tracing.Environment,
			Endpoint:    cfg.Tracing.Endpoint,
		})
		if err != nil {
			log.Fatalf("Failed to initialize the tracer: %v", err)
		}
		defer sh(context.Background())
	}

	store := memory.NewStore(cfg.Store.MessageLogCapacity, logger)
	m := metrics.NewManager(store)

	syncHandler := sync.NewHandler(store, m, logger)
	healthHandler := health.NewHandler()

	rl := ratelimiter.NewFixedWindowRateLimiter(
		cfg.RateLimiter.RequestsPerTimeFrame,
		cfg.RateLimiter.TimeFrame,
	)
	defer rl.Close()

	app := api.NewApplication(*cfg, syncHandler, healthHandler, m, logger, rl)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.Mount()
	logger.Fatal(app.Run(mux))
}
