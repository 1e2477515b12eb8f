package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) registerCatalogRoutes() {
	s.echo.GET("/api/categories", s.handleListCategories)
	s.echo.GET("/api/categories/:id/subcategories", s.handleListSubcategories)
	s.echo.GET("/api/subcategories/:id/subquestions", s.handleListSubQuestions)
}

func (s *Server) handleListCategories(c echo.Context) error {
	categories, err := s.catalog.ListCategories(c.Request().Context())
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, categories); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListSubcategories(c echo.Context) error {
	categoryID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	subcategories, err := s.catalog.ListSubcategories(c.Request().Context(), categoryID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, subcategories); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListSubQuestions(c echo.Context) error {
	subcategoryID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	subQuestions, err := s.catalog.ListSubQuestions(c.Request().Context(), subcategoryID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, subQuestions); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
