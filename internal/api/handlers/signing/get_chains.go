package signing

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/stakingapi"
)

func GetChainsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Staking.GET("/chains", getChainsHandler(s))
}

func getChainsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		chains := s.Chains.Chains()

		items := make([]*ChainItem, 0, len(chains))
		for _, ch := range chains {
			item := &ChainItem{
				Chain:      string(ch),
				Curve:      string(staking.CurveFor(ch)),
				Operations: stakingapi.Operations[ch],
			}
			if s.Broadcast != nil {
				item.Broadcaster = s.Broadcast.BroadcasterName(ch)
			}
			items = append(items, item)
		}

		return c.JSON(http.StatusOK, &GetChainsResponse{Chains: items})
	}
}
