package handlers

import (
	"github.com/labstack/echo/v4"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/handlers/common"
	"github/chapool/go-staking/internal/api/handlers/signing"
)

// AttachAllRoutes registers every handler on the server's router groups
func AttachAllRoutes(s *api.Server) {
	s.Router.Routes = []*echo.Route{
		common.GetHealthyRoute(s),
		common.GetMetricsRoute(s),
		common.GetReadyRoute(s),
		common.GetVersionRoute(s),
		signing.GetChainsRoute(s),
		signing.GetTxStatusRoute(s),
		signing.PostResumeTransactionRoute(s),
		signing.PostSignTransactionRoute(s),
		signing.PostStakeRoute(s),
	}
}
