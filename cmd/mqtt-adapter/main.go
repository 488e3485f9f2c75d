package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/mone27/mqtt-adapter/internal/adapter/mqttlight"
	"github.com/mone27/mqtt-adapter/internal/bridge"
	"github.com/mone27/mqtt-adapter/internal/config"
	"github.com/mone27/mqtt-adapter/internal/httpapi"
	"github.com/mone27/mqtt-adapter/internal/ipc"
	"github.com/mone27/mqtt-adapter/internal/mqtt"
	"github.com/mone27/mqtt-adapter/internal/observability"
	"github.com/mone27/mqtt-adapter/internal/plugin"
	"github.com/mone27/mqtt-adapter/internal/store"
)

const serviceName = "mqtt-adapter"

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	shutdownObs, promHandler, tracer := observability.SetupObservability(serviceName)
	defer shutdownObs()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailbox := bridge.NewMailbox(cfg.QueueCapacity)
	life := bridge.NewLifecycle()
	p := plugin.New(cfg.PluginID, mailbox)

	mClient, err := mqtt.New(cfg.MQTTBrokerURL)
	if err != nil {
		slog.Error("mqtt init failed", "error", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	var cache *store.StateCache
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("redis init failed", "error", err)
			os.Exit(1)
		}
		cache = store.NewStateCache(rdb)
	}

	lights := mqttlight.New(cfg.AdapterID, cfg.PluginID, mClient, p, cache)
	if err := lights.Start(ctx); err != nil {
		slog.Error("light adapter start failed", "error", err)
		os.Exit(1)
	}
	if err := p.AddAdapter(lights); err != nil {
		slog.Error("adapter registration failed", "error", err)
		os.Exit(1)
	}

	// Bridge goroutine: handshake, then relay until shutdown.
	relayErr := make(chan error, 1)
	go func() {
		hctx, hcancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer hcancel()
		hs := bridge.NewHandshake(cfg.PluginID, cfg.RegistryURL, cfg.IPCBaseURL, cfg.HandshakeMaxRetries, life)
		addr, err := hs.Register(hctx)
		if err != nil {
			relayErr <- err
			return
		}
		sock, err := ipc.DialPair(addr, cfg.PollInterval)
		if err != nil {
			relayErr <- err
			return
		}
		relayErr <- bridge.NewRelay(cfg.PluginID, sock, mailbox, life).Run(ctx)
	}()

	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- p.Run(ctx) }()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promHandler)
	r.Route("/api", func(r chi.Router) {
		httpapi.NewServer(p, life, mailbox).RegisterRoutes(r)
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: observability.WrapHandler(tracer, serviceName, r)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("adapter server error", "error", err)
		}
	}()
	slog.Info("mqtt-adapter started", "port", cfg.Port, "plugin_id", cfg.PluginID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-stop:
		slog.Info("signal received, unloading", "signal", sig.String())
		p.Shutdown()
		select {
		case err := <-relayErr:
			if err != nil {
				slog.Warn("relay ended with error", "error", err)
			}
		case <-time.After(5 * time.Second):
			slog.Warn("relay did not drain in time")
		}
	case err := <-relayErr:
		if err != nil {
			slog.Error("bridge failed", "error", err)
			exitCode = 1
		}
	case err := <-dispatchDone:
		// Gateway-initiated unload: the dispatcher already queued the
		// farewell event; wait for the relay to write it and close up.
		if err != nil {
			slog.Error("dispatcher failed", "error", err)
			exitCode = 1
		}
		select {
		case err := <-relayErr:
			if err != nil {
				slog.Warn("relay ended with error", "error", err)
			}
		case <-time.After(5 * time.Second):
			slog.Warn("relay did not drain in time")
		}
	}

	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	lights.Stop()
	mClient.Disconnect()
	if rdb != nil {
		_ = rdb.Close()
	}
	_ = srv.Shutdown(sctx)
	slog.Info("mqtt-adapter stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
