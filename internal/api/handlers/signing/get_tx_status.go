package signing

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/httperrors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

func GetTxStatusRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Staking.GET("/:chain/tx/:hash", getTxStatusHandler(s))
}

func getTxStatusHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)
		if s.StakingAPI == nil {
			return httperrors.ErrServiceStakingAPIDisabled
		}

		ch, err := staking.ParseChainKind(c.Param("chain"))
		if err != nil {
			return httperrors.ErrBadRequestUnknownChain
		}

		status, err := s.StakingAPI.TxStatus(ctx, ch, c.Param("hash"))
		if err != nil {
			log.Debug().Err(err).Msg("Failed to get transaction status")
			return httperrors.NewHTTPError(http.StatusBadGateway, httperrors.TypeGeneric, err.Error())
		}

		return c.JSON(http.StatusOK, &TxStatusResponse{
			Hash:    status.Hash,
			Status:  status.Status,
			Success: status.Success(),
			Failed:  status.Failed(),
		})
	}
}
