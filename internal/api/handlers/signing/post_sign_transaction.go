package signing

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/httperrors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

func PostSignTransactionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tx.POST("/sign", postSignTransactionHandler(s))
}

func postSignTransactionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body PostSignPayload
		if err := c.Bind(&body); err != nil {
			return err
		}

		ch, err := staking.ParseChainKind(body.Chain)
		if err != nil {
			return httperrors.ErrBadRequestUnknownChain
		}
		enc, err := util.ParseEncoding(body.Encoding)
		if err != nil {
			return httperrors.NewHTTPError(http.StatusBadRequest, httperrors.TypeBadRequest, "Encoding must be hex or base64.")
		}
		unsigned, err := util.DecodePayload(body.Unsigned, enc)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to decode unsigned transaction")
			return httperrors.ErrBadRequestInvalidPayload
		}

		req := body.request(ch)
		req.Unsigned = unsigned
		if body.SigningPayload != "" {
			if req.SigningPayload, err = util.DecodeHex(body.SigningPayload); err != nil {
				return httperrors.NewHTTPError(http.StatusBadRequest, httperrors.TypeBadRequest, "Signing payload is not hex.")
			}
		}

		res, err := s.Pipeline.Run(ctx, &req)
		return respondResult(c, res, err)
	}
}
