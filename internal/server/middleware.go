package server

import (
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/opinionpulse/internal/correlation"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithRequestID(c.Request().Context(), correlation.NewRequestID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
