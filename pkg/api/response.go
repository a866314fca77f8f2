package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bitechdev/StoreCache/pkg/cache"
	"github.com/bitechdev/StoreCache/pkg/logger"
	"github.com/bitechdev/StoreCache/pkg/strategy"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeFailure maps cache and strategy errors onto HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorWithCause(err, "Admin request failed")
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, strategy.ErrUnknownStrategy):
		return http.StatusNotFound, "unknown_source"
	case errors.Is(err, strategy.ErrUnknownResource):
		return http.StatusBadRequest, "unknown_resource"
	case errors.Is(err, strategy.ErrInvalidParams):
		return http.StatusBadRequest, "invalid_params"
	case errors.Is(err, cache.ErrInvalidPattern):
		return http.StatusBadRequest, "invalid_pattern"
	case errors.Is(err, cache.ErrInvalidKey):
		return http.StatusBadRequest, "invalid_key"
	case errors.Is(err, cache.ErrPatternUnsupported):
		return http.StatusNotImplemented, "pattern_unsupported"
	case errors.Is(err, cache.ErrClosed):
		return http.StatusServiceUnavailable, "cache_closed"
	case errors.Is(err, cache.ErrBackend):
		return http.StatusBadGateway, "backend_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
