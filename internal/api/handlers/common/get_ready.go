package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/util"
)

// statusNotReady is the Cloudflare "web server is down" status, used by the probes
const statusNotReady = 521

func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/ready", getReadyHandler(s))
}

// Readiness check
// This endpoint returns 200 when our Service is ready to serve traffic (i.e. a signer and the pipeline are wired).
// Note that this handler is intended to be invoked by the container orchestrator.
func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.Ready() {
			util.LogFromContext(c.Request().Context()).Warn().Msg("Readiness probe failed")
			return c.String(statusNotReady, "Not ready.")
		}

		return c.String(http.StatusOK, "Ready.")
	}
}
