package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/af-corp/vllm-gateway/internal/types"
)

// APIError is the body of every non-streaming failure response.
type APIError struct {
	Error string `json:"error"`
}

// Classify maps an error from the request pipeline to a status code and a client-facing message.
func Classify(err error) (int, string) {
	var (
		notFound    *types.ModelNotFoundError
		unreachable *types.BackendUnreachableError
		backendErr  *types.BackendError
		invalid     *types.InvalidRequestError
		limited     *types.RateLimitedError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusBadRequest, notFound.Error()
	case errors.As(err, &unreachable):
		return http.StatusBadGateway, "Upstream request failed: " + unreachable.Err.Error()
	case errors.As(err, &backendErr):
		return backendErr.Status, "Upstream service error: " + backendErr.Body
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "Invalid request: " + invalid.Reason
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, "Rate limit exceeded: " + strconv.FormatInt(limited.Limit, 10) + " requests per minute"
	default:
		return http.StatusInternalServerError, "Internal gateway error"
	}
}

// WriteGatewayError classifies err, logs upstream failures and writes the JSON error response.
func WriteGatewayError(w http.ResponseWriter, requestID string, err error) {
	status, message := Classify(err)

	var (
		unreachable *types.BackendUnreachableError
		backendErr  *types.BackendError
	)
	switch {
	case errors.As(err, &unreachable):
		slog.Error("request to backend failed", "request_id", requestID, "backend", unreachable.URL, "error", unreachable.Err)
	case errors.As(err, &backendErr):
		slog.Error("backend returned error",
			"request_id", requestID,
			"backend", backendErr.URL,
			"status", backendErr.Status,
			"body", backendErr.Body,
		)
	case status == http.StatusInternalServerError:
		slog.Error("internal gateway error", "request_id", requestID, "error", err)
	}

	WriteError(w, requestID, status, message)
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{Error: message})
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, message)
}
