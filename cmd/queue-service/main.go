package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/config"
	"masar/queue-service/internal/feedback"
	"masar/queue-service/internal/httpapi"
	"masar/queue-service/internal/hub"
	"masar/queue-service/internal/reports"
	"masar/queue-service/internal/routing"
	"masar/queue-service/internal/scheduler"
	"masar/queue-service/internal/session"
	"masar/queue-service/internal/store"
	"masar/queue-service/internal/store/postgres"
	"masar/queue-service/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "queue-service").Logger()

	shutdownTelemetry := telemetry.Setup("queue-service", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ck, err := clock.New(cfg.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("load timezone")
	}

	ctx := context.Background()
	var persister store.Persister
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db connect")
		}
		defer pool.Close()
		pg := postgres.New(pool)
		if err := pg.Init(ctx); err != nil {
			logger.Fatal().Err(err).Msg("db init")
		}
		persister = pg
		logger.Info().Msg("snapshots persisted to postgres")
	} else {
		persister = store.NewFilePersister(cfg.DataPath)
		logger.Info().Str("path", cfg.DataPath).Msg("snapshots persisted to file")
	}

	st, err := store.Open(ctx, persister, cfg.SeedOnEmpty, ck.BusinessDate(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}

	events := hub.New(logger)
	engine := routing.NewEngine(st, ck)
	sched := scheduler.New(st, ck, logger, events)
	defer sched.Stop()

	registry := session.NewRegistry(st, ck)
	registry.AfterLogin = engine.AssignUnassignedLocked

	fb := feedback.NewService(st, ck)
	rep := reports.NewService(st, ck)
	handler := httpapi.NewHandler(registry, engine, sched, fb, rep, st, ck)

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/display/", displayHandler(events, logger))

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})
	chain := httpapi.LoggingMiddleware(logger, limiter.Middleware(httpapi.AuthMiddleware(registry, mux)))
	otelHandler := otelhttp.NewHandler(chain, "queue-service")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

// displayHandler serves the SockJS endpoint the waiting-hall boards connect
// to. Boards are anonymous; the first subscribe message narrows the feed to a
// single counter, no message means the full hall feed.
func displayHandler(h *hub.Hub, logger zerolog.Logger) http.Handler {
	return sockjs.NewHandler("/display", sockjs.DefaultOptions, func(sess sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = sess.Send(string(msg))
			}
		}()

		for {
			msg, err := sess.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{CounterID: parsed.CounterID})
			logger.Debug().Str("client_id", client.ID).Int("counter_id", parsed.CounterID).Msg("display subscribed")
		}
	})
}
