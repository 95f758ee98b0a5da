package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/infrastructure/configs"
	"github.com/fadechat/fadechat/internal/infrastructure/metrics"
	"github.com/fadechat/fadechat/internal/infrastructure/ratelimiter"
	healthHandler "github.com/fadechat/fadechat/internal/presentation/handler/health"
	syncHandler "github.com/fadechat/fadechat/internal/presentation/handler/sync"
)

type Application struct {
	config        configs.Config
	syncHandler   *syncHandler.Handler
	healthHandler *healthHandler.Handler
	metrics       *metrics.Manager
	logger        *zap.SugaredLogger
	ratelimiter   ratelimiter.Limiter
}

func NewApplication(
	config configs.Config,
	syncHandler *syncHandler.Handler,
	healthHandler *healthHandler.Handler,
	metrics *metrics.Manager,
	logger *zap.SugaredLogger,
	ratelimiter ratelimiter.Limiter,
) *Application {
	return &Application{
		config:        config,
		syncHandler:   syncHandler,
		healthHandler: healthHandler,
		metrics:       metrics,
		logger:        logger,
		ratelimiter:   ratelimiter,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(app.rateLimiterMiddleware)
	r.Use(app.enableCors)
	r.Use(app.loggerMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Long-lived websocket; the request timeout must not apply here.
		r.Get("/sync", app.syncHandler.ServeSync)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/health", app.healthHandler.GetHealth)
			r.Get("/healthz", app.healthHandler.GetHealth)
			r.Get("/ready", app.healthHandler.GetHealth)
			r.Get("/live", app.healthHandler.GetHealth)
		})
	})

	r.Handle("/metrics", app.metrics.Handler())

	return r
}

func (app *Application) Run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.HTTP.Host, app.config.HTTP.Port),
		Handler:      otelhttp.NewHandler(mux, "fadechatd"),
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", srv.Addr)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", srv.Addr)

	return nil
}
