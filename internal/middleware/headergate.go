package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"sync"

	"github.com/agentyard/exchange/internal/httputil"
	sllogging "github.com/agentyard/exchange/internal/platformlog"
)

type auditEvent struct {
	ctx         context.Context
	reason      string
	method      string
	path        string
	serviceName string
	clientIP    string
	userAgent   string
}

var (
	auditLogger = sllogging.NewFromEnv("service-gate")
	auditOnce   sync.Once
	auditQueue  chan *auditEvent
)

func enqueueAudit(event *auditEvent) {
	if event == nil {
		return
	}
	auditOnce.Do(func() {
		auditQueue = make(chan *auditEvent, 256)
		go func() {
			for auditEvent := range auditQueue {
				if auditEvent == nil {
					continue
				}
				fields := map[string]interface{}{
					"audit":        true,
					"event_type":   "service_gate_reject",
					"reason":       auditEvent.reason,
					"method":       auditEvent.method,
					"path":         auditEvent.path,
					"service_name": auditEvent.serviceName,
					"client_ip":    auditEvent.clientIP,
					"user_agent":   auditEvent.userAgent,
				}
				auditLogger.WithContext(auditEvent.ctx).WithFields(fields).Warn("service gate rejected request")
			}
		}()
	})

	select {
	case auditQueue <- event:
	default:
		// Never block request processing for audit logging.
	}
}

// ServiceGateMiddleware restricts a component's HTTP surface to calls from
// the platform's own components (identity, ledger, board, court,
// reputation, events — see config.EndpointsConfig), as opposed to agents,
// which only ever reach a component through its public, envelope-verified
// routes. Every internal caller presents the shared token issued to it at
// deploy time in X-Internal-Service-Token, plus its own component name in
// X-Internal-Service-Name for audit attribution; /health, /healthz,
// /readyz, and /metrics stay open for the orchestrator's probes.
func ServiceGateMiddleware(sharedSecret string) func(http.Handler) http.Handler {
	// Use a fixed-length digest so constant-time comparisons don't short-circuit on length.
	expectedSecretHash := sha256.Sum256([]byte(sharedSecret))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health", "/healthz", "/readyz", "/metrics":
				next.ServeHTTP(w, r)
				return
			}

			serviceName := r.Header.Get("X-Internal-Service-Name")
			receivedSecret := r.Header.Get("X-Internal-Service-Token")

			if serviceName == "" || receivedSecret == "" {
				enqueueAudit(&auditEvent{
					ctx:         r.Context(),
					reason:      "missing_headers",
					method:      r.Method,
					path:        r.URL.Path,
					serviceName: serviceName,
					clientIP:    httputil.ClientIP(r),
					userAgent:   r.UserAgent(),
				})
				httputil.Unauthorized(w, "unauthorized")
				return
			}

			receivedSecretHash := sha256.Sum256([]byte(receivedSecret))
			if subtle.ConstantTimeCompare(receivedSecretHash[:], expectedSecretHash[:]) != 1 {
				enqueueAudit(&auditEvent{
					ctx:         r.Context(),
					reason:      "invalid_secret",
					method:      r.Method,
					path:        r.URL.Path,
					serviceName: serviceName,
					clientIP:    httputil.ClientIP(r),
					userAgent:   r.UserAgent(),
				})
				httputil.Unauthorized(w, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
