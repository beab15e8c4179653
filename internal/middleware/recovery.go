// Package middleware provides the HTTP middleware chain wrapping every
// internal/httpapi route: structured request logging, recovery, CORS,
// security headers, body-size limiting, timeouts, rate limiting, and the
// internal service-to-service token gate (headergate.go).
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/httputil"
	"github.com/agentyard/exchange/internal/platformlog"
)

// RecoveryMiddleware recovers from panics and logs them
type RecoveryMiddleware struct {
	logger *platformlog.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware
func NewRecoveryMiddleware(logger *platformlog.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger: logger,
	}
}

// Handler returns the recovery middleware handler
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				// Log the panic with stack trace
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":       fmt.Sprintf("%v", err),
					"stack":       string(stack),
					"path":        r.URL.Path,
					"method":      r.Method,
					"remote_addr": r.RemoteAddr,
				}).Error("Panic recovered")

				// Send error response
				svcErr := apperrors.Internal("internal server error", fmt.Errorf("%v", err))
				httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
