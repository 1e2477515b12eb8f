package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/opinionpulse/internal/domain"
	apperrors "github.com/pscheid92/opinionpulse/internal/errors"
	"github.com/pscheid92/opinionpulse/internal/identity"
)

func (s *Server) registerSessionRoutes(rateLimiter echo.MiddlewareFunc) {
	s.echo.POST("/api/session", s.handleCreateSession, rateLimiter)
	s.echo.POST("/api/session/logout", s.handleLogout, rateLimiter, s.requireAuth)
}

type createSessionRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// handleCreateSession establishes a cookie session for a user authenticated
// by the upstream identity provider and refreshes the denormalized profile.
func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return apperrors.ValidationError("invalid user ID").WithField("user_id", req.UserID)
	}
	if req.DisplayName == "" {
		return apperrors.ValidationError("displayName is required")
	}

	profile := domain.Profile{
		UserID:      userID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	}
	if err := s.profiles.Upsert(c.Request().Context(), profile); err != nil {
		return apperrors.InternalError("failed to store profile", err).WithField("user_id", userID.String())
	}

	session, err := s.sessionStore.New(c.Request(), sessionName)
	if err != nil {
		slog.Warn("Stale session cookie, issuing a fresh one", "error", err)
	}
	session.Values[sessionKeyUserID] = userID.String()
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err == nil {
		session.Options.MaxAge = -1
		if err := session.Save(c.Request(), c.Response().Writer); err != nil {
			return apperrors.InternalError("failed to clear session", err)
		}
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// requireAuth resolves the session user and threads it through both the echo
// context and the request context, where the engines read it back.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := s.sessionUserID(c)
		if !ok {
			return apperrors.UnauthenticatedError()
		}

		c.Set("userID", userID)
		ctx := identity.WithUserID(c.Request().Context(), userID)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) sessionUserID(c echo.Context) (uuid.UUID, bool) {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return uuid.Nil, false
	}
	userIDStr, ok := session.Values[sessionKeyUserID].(string)
	if !ok {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}
