package controller

import (
	"errors"
	"net/http"

	"github.com/canopy-network/feeledger/app/ledger/controller/types"
	"github.com/canopy-network/feeledger/pkg/authority"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps ledger errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid_address"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, authority.ErrUnknownValidator):
		return http.StatusNotFound, "unknown_validator"
	case errors.Is(err, ledger.ErrNothingToRedeem):
		return http.StatusConflict, "nothing_to_redeem"
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ledger.ErrUnderflow):
		return http.StatusBadGateway, "underflow"
	case errors.Is(err, ledger.ErrTooManyValidators):
		return http.StatusBadGateway, "too_many_validators"
	case errors.Is(err, ledger.ErrTransferFailed), errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "transfer_failed"
	case errors.Is(err, ledger.ErrOverflow):
		return http.StatusUnprocessableEntity, "overflow"
	case errors.Is(err, ledger.ErrFundingUnsupported):
		return http.StatusUnprocessableEntity, "funding_unsupported"
	default:
		return http.StatusInternalServerError, ""
	}
}

func (c *Controller) writeError(w http.ResponseWriter, op string, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		c.App.Logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	} else {
		c.App.Logger.Debug("Request rejected", zap.String("op", op), zap.String("code", code), zap.Error(err))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: code})
}
