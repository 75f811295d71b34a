package router

import (
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/handlers"
	"github/chapool/go-staking/internal/api/httperrors"
	"github/chapool/go-staking/internal/util"
)

func Init(s *api.Server) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httperrors.HTTPErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(middleware.BodyLimit("4M"))
	if s.Metrics != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Namespace:  "staking",
			Subsystem:  "http",
			Registerer: s.Metrics,
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/metrics"
			},
		}))
	}

	s.Echo = e
	s.Router = &api.Router{
		Routes:       nil,
		Root:         e.Group(""),
		Management:   e.Group("/-"),
		APIV1Tx:      e.Group("/api/v1/transactions"),
		APIV1Staking: e.Group("/api/v1/staking"),
	}

	handlers.AttachAllRoutes(s)
}

// requestLogger attaches a request scoped logger to the context and logs each completed request
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			started := time.Now()

			l := util.LogFromContext(req.Context()).With().
				Str("id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", req.Method).
				Str("path", c.Path()).
				Logger()
			c.SetRequest(req.WithContext(util.WithLogger(req.Context(), l)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			l.Info().
				Int("status", c.Response().Status).
				Dur("duration", time.Since(started)).
				Msg("Request handled")
			return nil
		}
	}
}
