// Package server exposes the voting engine over HTTP and websockets.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/opinionpulse/internal/broadcast"
	"github.com/pscheid92/opinionpulse/internal/config"
	"github.com/pscheid92/opinionpulse/internal/database"
	"github.com/pscheid92/opinionpulse/internal/engine"
	"github.com/pscheid92/opinionpulse/internal/reconcile"
)

// Session keys
const (
	sessionName      = "opinionpulse-session"
	sessionKeyUserID = "user_id"
)

type Server struct {
	echo   *echo.Echo
	config *config.Config

	engine      *engine.Service
	reconciler  *reconcile.Reconciler
	broadcaster *broadcast.Broadcaster
	profiles    *database.ProfileRepo
	catalog     *database.CatalogRepo

	sessionStore   *sessions.CookieStore
	connectionGate *ConnectionGate
	healthChecks   []HealthCheck
	startTime      time.Time
}

func NewServer(
	cfg *config.Config,
	svc *engine.Service,
	reconciler *reconcile.Reconciler,
	broadcaster *broadcast.Broadcaster,
	profiles *database.ProfileRepo,
	catalog *database.CatalogRepo,
	healthChecks []HealthCheck,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		engine:         svc,
		reconciler:     reconciler,
		broadcaster:    broadcaster,
		profiles:       profiles,
		catalog:        catalog,
		sessionStore:   setupSessionStore(cfg),
		connectionGate: NewConnectionGate(defaultMaxGlobalConnections, defaultMaxConnectionsPerIP, defaultConnectionsPerSecond, defaultConnectionBurst),
		healthChecks:   healthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
