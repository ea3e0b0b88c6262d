// focusd - attention tracking daemon for the focus todo extension.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/ashureev/focus-labs/internal/api"
	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/ashureev/focus-labs/internal/clock"
	"github.com/ashureev/focus-labs/internal/config"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/health"
	"github.com/ashureev/focus-labs/internal/history"
	"github.com/ashureev/focus-labs/internal/middleware"
	"github.com/ashureev/focus-labs/internal/notify"
	"github.com/ashureev/focus-labs/internal/session"
	"github.com/ashureev/focus-labs/internal/signal"
	"github.com/ashureev/focus-labs/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting focusd", "port", cfg.Port, "default_source", cfg.DefaultSource, "sample_period", cfg.SamplePeriod.String())

	// Initialize storage.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	sysClock := clock.System{}
	tasks := history.NewStore(repo,
		history.WithLimit(cfg.HistoryLimit),
		history.WithClock(sysClock),
		history.WithLogger(logger),
	)
	defer func() {
		if closeErr := tasks.Close(); closeErr != nil {
			slog.Error("Failed to close task store", "error", closeErr)
		}
	}()

	events := bus.New(bus.DefaultRingSize, logger)

	// Notifications: the bus always gets badges and alerts, external sinks
	// run behind the hub so a slow webhook never delays a tick.
	busSink := notify.NewBusSink(events, sysClock)
	var external []notify.NamedSink
	if cfg.Notify.Desktop {
		desktop := notify.NewDesktopNotifier(logger)
		defer func() {
			if closeErr := desktop.Close(); closeErr != nil {
				slog.Warn("Failed to close desktop notifier", "error", closeErr)
			}
		}()
		external = append(external, notify.NamedSink{Name: "desktop", Sink: desktop})
	}
	if cfg.Notify.DiscordWebhook != "" {
		discord, err := notify.NewDiscordNotifier(cfg.Notify.DiscordWebhook)
		if err != nil {
			slog.Error("Invalid Discord webhook, Discord alerts disabled", "error", err)
		} else {
			external = append(external, notify.NamedSink{Name: "discord", Sink: discord})
		}
	}
	hub := notify.NewHub(logger, external...)
	defer hub.Close()
	slog.Info("Notification sinks ready", "external", hub.Len())

	gate := notify.NewGate(busSink, notify.Multi{busSink, hub},
		notify.WithThreshold(cfg.Notify.Threshold),
		notify.WithCooldown(cfg.Notify.Cooldown),
		notify.WithClock(sysClock),
		notify.WithLogger(logger),
	)

	// Signal sources.
	sources := []signal.Source{
		signal.NewSimulated(signal.NewNoise(cfg.SimSeed), sysClock),
		signal.NewBluetoothEEG(signal.NewBlueZDriver(logger),
			signal.WithNamePrefix(cfg.Bluetooth.NamePrefix),
			signal.WithConnectTimeout(cfg.Bluetooth.Timeout),
			signal.WithBluetoothClock(sysClock),
			signal.WithBluetoothLogger(logger),
		),
		signal.NewWebSocketBridge(cfg.Bridge.URL,
			signal.WithReconnectPolicy(signal.FixedBackoff{Delay: cfg.Bridge.Reconnect}),
			signal.WithBridgeClock(sysClock),
			signal.WithBridgeLogger(logger),
		),
	}

	reporter := health.NewReporter(logger)
	sess := session.New(session.Config{
		SamplePeriod:      cfg.SamplePeriod,
		DefaultSource:     domain.SourceKind(cfg.DefaultSource),
		FallbackSimulated: cfg.FallbackSimulated,
	}, sources, tasks, gate, events,
		session.WithClock(sysClock),
		session.WithLogger(logger),
		session.WithHealth(reporter),
	)
	events.SetStatusProvider(sess.Status)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if kind := domain.SourceKind(cfg.DefaultSource); kind != domain.SourceSimulated {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Bluetooth.Timeout+5*time.Second)
		if err := sess.ConnectSource(connectCtx, kind); err != nil {
			slog.Warn("Default source not connected, using simulated until it is", "source", cfg.DefaultSource, "error", err)
		}
		cancel()
	}

	// Start the gRPC health endpoint.
	go func() {
		if err := reporter.Serve(ctx, cfg.GRPCHealthAddr); err != nil {
			slog.Error("gRPC health endpoint failed", "error", err)
		}
	}()

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHandler(sess, tasks, events,
		api.WithLogger(logger),
		api.WithAllowedOrigins(cfg.AllowedOrigins),
	).RegisterRoutes(r)

	// SSE and WebSocket streams stay open, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sess.Close(shutdownCtx); err != nil {
		slog.Warn("Session did not close cleanly", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
