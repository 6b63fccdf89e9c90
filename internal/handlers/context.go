package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/authz"
)

// requestLogger tags logger with the authenticated caller, when there is one.
func requestLogger(logger zerolog.Logger, r *http.Request) zerolog.Logger {
	if sub, ok := authz.SubjectFromRequest(r); ok {
		return logger.With().Str("subject", sub).Logger()
	}
	return logger
}
