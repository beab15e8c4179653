// Package httpapi provides the gorilla/mux handlers for the platform's
// external surface (§6): thin wrappers that decode a request body,
// verify any signed envelopes it carries, and delegate to the domain
// packages (identity, ledger, taskboard, court, reputation, events).
// Every handler writes the spec's error envelope — {error, message,
// details} — directly from an *apperrors.ServiceError, rather than
// routing through the teacher's generic HandleJSON helpers, since those
// map httputil's own typed errors (NotFoundError, ValidationError, ...),
// not the *apperrors.ServiceError this platform's domain packages return.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/court"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/httputil"
	"github.com/agentyard/exchange/internal/identity"
	"github.com/agentyard/exchange/internal/ledger"
	"github.com/agentyard/exchange/internal/platformlog"
	"github.com/agentyard/exchange/internal/reputation"
	"github.com/agentyard/exchange/internal/store"
	"github.com/agentyard/exchange/internal/taskboard"
)

// Deps bundles every component the router dispatches to. now is
// injectable so tests can drive lazy deadlines deterministically; in
// production it is time.Now.
type Deps struct {
	Identity   *identity.Registry
	Ledger     *ledger.Ledger
	Board      *taskboard.Board
	Court      *court.Court
	Reputation *reputation.Store
	Hub        *events.Hub
	Store      *store.Store
	Logger     *platformlog.Logger
	Now        func() time.Time

	// PlatformAgentID is the registered notary principal, the only
	// signer requireNotary accepts for notary-gated endpoints.
	PlatformAgentID string
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NewRouter builds the full mux.Router for the platform's endpoint
// table (§6).
func NewRouter(d *Deps) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/agents/register", d.registerAgent).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}", d.getAgent).Methods(http.MethodGet)
	r.HandleFunc("/agents/verify", d.verifyDetached).Methods(http.MethodPost)
	r.HandleFunc("/agents/verify-jws", d.verifyEnvelope).Methods(http.MethodPost)

	r.HandleFunc("/accounts", d.createAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/credit", d.creditAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}", d.getAccount).Methods(http.MethodGet)
	r.HandleFunc("/escrow/lock", d.lockEscrow).Methods(http.MethodPost)
	r.HandleFunc("/escrow/{id}/release", d.releaseEscrow).Methods(http.MethodPost)
	r.HandleFunc("/escrow/{id}/split", d.splitEscrow).Methods(http.MethodPost)

	r.HandleFunc("/tasks", d.createTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks", d.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", d.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}/bids", d.submitBid).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/bids", d.listBids).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}/accept", d.acceptBid).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/submit", d.submitWork).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/approve", d.approveTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/dispute", d.disputeTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/assets", d.uploadAsset).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/assets", d.listAssets).Methods(http.MethodGet)

	r.HandleFunc("/disputes/file", d.fileDispute).Methods(http.MethodPost)
	r.HandleFunc("/disputes/{id}/rebuttal", d.submitRebuttal).Methods(http.MethodPost)
	r.HandleFunc("/disputes/{id}/rule", d.ruleDispute).Methods(http.MethodPost)

	r.HandleFunc("/feedback", d.submitFeedback).Methods(http.MethodPost)
	r.HandleFunc("/feedback/{task_id}", d.listFeedback).Methods(http.MethodGet)

	r.HandleFunc("/events", d.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/stream", events.ServeStream(d.Hub, d.Store, d.Logger)).Methods(http.MethodGet)

	return r
}

// writeServiceError writes the spec's error envelope (§6 "Error
// envelope"): {error, message, details}.
func writeServiceError(w http.ResponseWriter, svcErr *apperrors.ServiceError) {
	httputil.WriteJSON(w, svcErr.HTTPStatus, struct {
		Error   string      `json:"error"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Error:   string(svcErr.Code),
		Message: svcErr.Message,
		Details: svcErr.Details,
	})
}
