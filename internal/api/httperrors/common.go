package httperrors

import "net/http"

var (
	ErrBadRequestUnknownChain     = NewHTTPError(http.StatusBadRequest, TypeBadRequest, "Unsupported chain.")
	ErrBadRequestUnknownOperation = NewHTTPError(http.StatusBadRequest, TypeBadRequest, "Unsupported staking operation for this chain.")
	ErrBadRequestInvalidPayload   = NewHTTPError(http.StatusBadRequest, TypeBadRequest, "Unsigned transaction is neither hex nor base64.")
	ErrServiceStakingAPIDisabled  = NewHTTPError(http.StatusServiceUnavailable, TypeNotConfigured, "No staking API key is configured.")
)
