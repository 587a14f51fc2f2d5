package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

const (
	codeInvalidRequestBody    = "invalid_request_body"
	codeInvalidID             = "invalid_id"
	codeInvalidInput          = "invalid_input"
	codeIdempotencyRequired   = "idempotency_key_required"
	codeIdempotencyInProgress = "idempotency_in_progress"
	codeInsufficientInventory = "insufficient_inventory"
	codePromocodeNotFound     = "promocode_not_found"
	codePromocodeInactive     = "promocode_inactive"
	codePayoutAccountMissing  = "payout_account_missing"
	codeEventPublished        = "event_published"
	codeNotFound              = "not_found"
	codeConflict              = "conflict"
	codeInvalidSignature      = "invalid_signature"
	codePaymentProcessor      = "payment_processor_error"
	codeRateLimited           = "rate_limited"
	codeNotReady              = "not_ready"
	codeInternalError         = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
	return payload
}

// writeServiceError maps a service error onto a status and code. Anything
// unrecognised is logged and reported as a 500 without details.
func writeServiceError(w http.ResponseWriter, logger observability.Logger, err error) {
	var short *domain.InsufficientInventoryError
	switch {
	case errors.As(err, &short):
		writeError(w, http.StatusBadRequest, codeInsufficientInventory, short.Error())
	case errors.Is(err, domain.ErrPromocodeNotFound):
		writeError(w, http.StatusBadRequest, codePromocodeNotFound, domain.ErrPromocodeNotFound.Error())
	case errors.Is(err, domain.ErrPromocodeInactive):
		writeError(w, http.StatusBadRequest, codePromocodeInactive, domain.ErrPromocodeInactive.Error())
	case errors.Is(err, domain.ErrPayoutAccountMissing):
		writeError(w, http.StatusBadRequest, codePayoutAccountMissing, domain.ErrPayoutAccountMissing.Error())
	case errors.Is(err, domain.ErrEventPublished):
		writeError(w, http.StatusBadRequest, codeEventPublished, domain.ErrEventPublished.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, domain.ErrSerializationFailure):
		writeError(w, http.StatusConflict, codeConflict, "conflict, try again")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, "conflict")
	case errors.Is(err, idempotency.ErrInProgress):
		writeError(w, http.StatusConflict, codeIdempotencyInProgress, idempotency.ErrInProgress.Error())
	case errors.Is(err, domain.ErrInvalidWebhookSignature):
		writeError(w, http.StatusBadRequest, codeInvalidSignature, "Webhook Error: invalid signature")
	case errors.Is(err, domain.ErrPaymentProcessor):
		logger.WithError(err).Error("payment processor call failed")
		writeError(w, http.StatusBadGateway, codePaymentProcessor, domain.ErrPaymentProcessor.Error())
	default:
		logger.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
