package signing

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-staking/internal/api/httperrors"
	"github/chapool/go-staking/internal/staking/pipeline"
)

// respondResult writes the pipeline result. A failed run keeps its partial progress in the body
// and answers with the status of its error kind; a run that needs more signers is accepted.
func respondResult(c echo.Context, res *pipeline.Result, err error) error {
	if res == nil {
		return err
	}

	body := ResultToResponse(res)
	switch {
	case err != nil:
		if body.Error == nil {
			body.Error = httperrors.FromPipelineError(err)
		}
		return c.JSON(body.Error.Code, body)
	case res.NeedsSigners():
		return c.JSON(http.StatusAccepted, body)
	default:
		return c.JSON(http.StatusOK, body)
	}
}
