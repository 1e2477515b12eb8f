package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/opinionpulse/internal/domain"
	apperrors "github.com/pscheid92/opinionpulse/internal/errors"
)

func (s *Server) registerVoteRoutes(rateLimiter echo.MiddlewareFunc) {
	s.echo.POST("/api/items/:id/votes", s.handleVoteItem, rateLimiter, s.requireAuth)
	s.echo.POST("/api/subquestions/:id/votes", s.handleVoteSubQuestion, rateLimiter, s.requireAuth)
	s.echo.GET("/api/items/:id/projection", s.handleProjection)
	s.echo.POST("/api/items/:id/attributes/:attribute/votes", s.handleAttributeVote, rateLimiter, s.requireAuth)
	s.echo.GET("/api/items/:id/attributes/:attribute", s.handleAttributeTally)
}

type voteRequest struct {
	IsYay bool `json:"isYay"`
}

func (s *Server) handleVoteItem(c echo.Context) error {
	itemID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	outcome := s.engine.Vote(c.Request().Context(), itemID, req.IsYay)
	return s.respondVoteOutcome(c, outcome)
}

func (s *Server) handleVoteSubQuestion(c echo.Context) error {
	subQuestionID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	outcome := s.engine.VoteForSubQuestion(c.Request().Context(), subQuestionID, req.IsYay)
	return s.respondVoteOutcome(c, outcome)
}

func (s *Server) respondVoteOutcome(c echo.Context, outcome domain.VoteOutcome) error {
	switch outcome.Status {
	case domain.VoteCommitted:
		if err := c.JSON(http.StatusOK, map[string]string{"status": string(outcome.Status)}); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	case domain.VoteRejectedCooldown:
		return apperrors.CooldownError(outcome.Remaining)
	default:
		return outcome.Err
	}
}

func (s *Server) handleProjection(c echo.Context) error {
	itemID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	view, err := s.engine.Projection(c.Request().Context(), itemID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, view); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleAttributeVote(c echo.Context) error {
	itemID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	attribute := c.Param("attribute")
	if attribute == "" {
		return apperrors.ValidationError("attribute is required")
	}

	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	if err := s.engine.VoteForAttribute(c.Request().Context(), itemID, attribute, req.IsYay); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleAttributeTally(c echo.Context) error {
	itemID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	attribute := c.Param("attribute")
	if attribute == "" {
		return apperrors.ValidationError("attribute is required")
	}

	tally, err := s.engine.AttributeTally(c.Request().Context(), itemID, attribute)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, tally); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func parseIDParam(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid UUID format").WithField(name, raw)
	}
	return id, nil
}
