package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/opinionpulse/internal/errors"
)

const maxCommentLength = 2000

func (s *Server) registerCommentRoutes(rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/api/items/:id/comments", s.handleListComments)
	s.echo.POST("/api/items/:id/comments", s.handleAddComment, rateLimiter, s.requireAuth)
	s.echo.POST("/api/comments/:id/like", s.handleLikeComment, rateLimiter, s.requireAuth)
	s.echo.DELETE("/api/comments/:id", s.handleDeleteComment, rateLimiter, s.requireAuth)
	s.echo.POST("/api/comments/undo", s.handleUndoDelete, rateLimiter, s.requireAuth)
}

type addCommentRequest struct {
	Text     string `json:"text"`
	ParentID string `json:"parentId,omitempty"`
}

func (s *Server) handleListComments(c echo.Context) error {
	itemID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	threads, err := s.engine.Threads(c.Request().Context(), itemID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, threads); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleAddComment(c echo.Context) error {
	itemID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req addCommentRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Text == "" {
		return apperrors.ValidationError("text is required")
	}
	if len(req.Text) > maxCommentLength {
		return apperrors.ValidationError("text too long").WithField("max_length", maxCommentLength)
	}

	var parentID *uuid.UUID
	if req.ParentID != "" {
		parsed, err := uuid.Parse(req.ParentID)
		if err != nil {
			return apperrors.ValidationError("invalid parent ID").WithField("parent_id", req.ParentID)
		}
		parentID = &parsed
	}

	comment, err := s.engine.AddComment(c.Request().Context(), itemID, req.Text, parentID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, comment); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLikeComment(c echo.Context) error {
	commentID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.engine.LikeComment(c.Request().Context(), commentID); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteComment(c echo.Context) error {
	commentID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.engine.DeleteComment(c.Request().Context(), commentID); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUndoDelete(c echo.Context) error {
	comment, err := s.engine.UndoDeleteComment(c.Request().Context())
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, comment); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
