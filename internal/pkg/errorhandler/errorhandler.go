// Package errorhandler writes error envelopes and logs them with the request id.
package errorhandler

import (
	"context"
	"net/http"

	"github.com/numrent/numrent-api/internal/pkg/logger"
	"github.com/numrent/numrent-api/internal/pkg/response"
)

// Business writes an expected business outcome. These are not logged as errors.
func Business(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	response.ErrorWithDetails(w, status, code, message, details)
}

// Upstream writes a third-party failure (vendor, verifier) and logs it at warn.
func Upstream(ctx context.Context, w http.ResponseWriter, code, message string, err error) {
	logger.FromContext(ctx).Warn().
		Err(err).
		Str("error_code", code).
		Msg("upstream failure")
	response.Error(w, http.StatusBadGateway, code, message)
}

// Internal logs the cause and writes a generic 500 so storage details never leak.
func Internal(ctx context.Context, w http.ResponseWriter, err error) {
	logger.FromContext(ctx).Error().
		Err(err).
		Str("error_code", "INTERNAL_ERROR").
		Msg("request failed")
	response.InternalError(w)
}
