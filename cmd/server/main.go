// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/mpetrov/scrimdraft/internal/auth"
	"github.com/mpetrov/scrimdraft/internal/cache"
	"github.com/mpetrov/scrimdraft/internal/database"
	"github.com/mpetrov/scrimdraft/internal/draft"
	"github.com/mpetrov/scrimdraft/internal/handlers"
	"github.com/mpetrov/scrimdraft/internal/middleware"
	"github.com/mpetrov/scrimdraft/internal/rooms"
	"github.com/mpetrov/scrimdraft/internal/session"
)

// envDuration parses an env var as a time.Duration, falling back to def.
func envDuration(logger *logrus.Logger, key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warnf("invalid %s %q, using default %s", key, v, def)
		return def
	}
	return d
}

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	auth.Init()

	ctx := context.Background()
	pool, err := database.Connect(ctx)
	if err != nil {
		logger.Fatalf("database connect failed: %v", err)
	}
	defer pool.Close()
	st := database.NewStore(pool)

	// Redis is optional; without it draft action records are dropped.
	actions, err := cache.Connect()
	if err != nil {
		logger.Warnf("redis unavailable, draft action records disabled: %v", err)
		actions = nil
	}
	defer actions.Close()

	registry := session.NewRegistry(logger)
	states := draft.NewStateStore(logger)
	monitor := session.NewMonitor(logger,
		envDuration(logger, "HEARTBEAT_INTERVAL", session.DefaultHeartbeatInterval),
		envDuration(logger, "HEARTBEAT_TIMEOUT", session.DefaultHeartbeatTimeout),
		session.DefaultSweepInterval,
	)
	roomSet := rooms.New()

	srv := handlers.NewServer(st, registry, states, monitor, roomSet, actions, logger)
	srv.PickDuration = envDuration(logger, "PICK_TIMER", handlers.DefaultPickDuration)
	watchdog := handlers.NewWatchdog(srv)
	go watchdog.Run()

	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(logger))

	r.Post("/user/create", srv.CreateUserHandler)
	r.Post("/user/login", srv.LoginHandler)

	r.Post("/versus/create", srv.CreateVersusHandler)
	r.Get("/versus/link/{token}", srv.ResolveLinkHandler)
	r.Get("/versus/{id}", srv.GetVersusHandler)
	r.Post("/versus/{id}/drafts/{draftID}/winner", srv.SetWinnerHandler)

	r.Get("/versus/ws", srv.VersusWSHandler())

	r.Get("/healthz", srv.HealthzHandler)

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	httpSrv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logger.Infof("Running on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	watchdog.Shutdown()
	monitor.Shutdown()
	states.Shutdown()
	registry.Shutdown()
	roomSet.Shutdown()
}
