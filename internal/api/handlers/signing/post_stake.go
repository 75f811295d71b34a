package signing

import (
	"slices"

	"github.com/labstack/echo/v4"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/httperrors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/staking/stakingapi"
)

func PostStakeRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Staking.POST("/:chain/:operation", postStakeHandler(s))
}

// postStakeHandler builds the operation's transaction through the staking API, then signs
// and optionally broadcasts it
func postStakeHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if s.StakingAPI == nil {
			return httperrors.ErrServiceStakingAPIDisabled
		}

		ch, err := staking.ParseChainKind(c.Param("chain"))
		if err != nil {
			return httperrors.ErrBadRequestUnknownChain
		}
		operation := c.Param("operation")
		if !slices.Contains(stakingapi.Operations[ch], operation) {
			return httperrors.ErrBadRequestUnknownOperation
		}

		var body PostStakePayload
		if err := c.Bind(&body); err != nil {
			return err
		}

		res, err := s.Pipeline.Fetch(ctx, &pipeline.FetchRequest{
			Request:   body.request(ch),
			Operation: operation,
			Params:    body.Params,
		})
		return respondResult(c, res, err)
	}
}
