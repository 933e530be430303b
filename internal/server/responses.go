package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	gateway "github.com/cyphergate/cyphergate/internal"
)

// jsonCT is a pre-allocated header value slice. Direct map assignment
// avoids the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

// writeError maps err to its HTTP status via errorStatus, sets a
// Retry-After header for capacity/circuit/admission errors, and writes the
// error envelope.
func writeError(w http.ResponseWriter, err error) {
	writeErrorRetryAfter(w, err, retryAfterSeconds(err))
}

// writeErrorRetryAfter is writeError with an explicit Retry-After value in
// seconds, overriding the generic default computed by retryAfterSeconds.
// Used when the caller already knows the real remaining cool-down (e.g. a
// circuit breaker's own elapsed-since-open).
func writeErrorRetryAfter(w http.ResponseWriter, err error, retryAfterSec int) {
	status := errorStatus(err)
	if retryAfterSec > 0 {
		w.Header()["Retry-After"] = []string{strconv.Itoa(retryAfterSec)}
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

// errorStatus maps a gateway sentinel error to its HTTP status. This is the
// single place that translates domain errors into wire status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrForbidden),
		errors.Is(err, gateway.ErrWriteRejected),
		errors.Is(err, gateway.ErrBulkRejected),
		errors.Is(err, gateway.ErrAdminRejected),
		errors.Is(err, gateway.ErrSchemaDDLRejected),
		errors.Is(err, gateway.ErrSharedRepoWrite),
		errors.Is(err, gateway.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNoCreditPool),
		errors.Is(err, gateway.ErrCreditInsufficient):
		return http.StatusPaymentRequired
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, gateway.ErrUserLimit),
		errors.Is(err, gateway.ErrQueueFull),
		errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrCircuitOpen),
		errors.Is(err, gateway.ErrAdmissionRejected),
		errors.Is(err, gateway.ErrCapacity),
		errors.Is(err, gateway.ErrConnectionLimit):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrRepository):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// retryAfterSeconds returns the advisory retry delay for capacity/circuit
// errors, or 0 if none applies.
func retryAfterSeconds(err error) int {
	switch {
	case errors.Is(err, gateway.ErrCircuitOpen), errors.Is(err, gateway.ErrAdmissionRejected),
		errors.Is(err, gateway.ErrCapacity), errors.Is(err, gateway.ErrQueueFull),
		errors.Is(err, gateway.ErrUserLimit), errors.Is(err, gateway.ErrRateLimited):
		return 30
	default:
		return 0
	}
}
