package signing

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/httperrors"
)

func PostResumeTransactionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tx.POST("/resume", postResumeTransactionHandler(s))
}

func postResumeTransactionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body PostResumePayload
		if err := c.Bind(&body); err != nil {
			return err
		}
		if body.Partial == nil || len(body.Partial.Unsigned) == 0 {
			return httperrors.NewHTTPError(http.StatusBadRequest, httperrors.TypeBadRequest, "A partial transaction is required.")
		}

		req := body.request(body.Partial.Chain)
		res, err := s.Pipeline.Resume(ctx, body.Partial, &req)
		return respondResult(c, res, err)
	}
}
