package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/httputil"
)

type signedRequest struct {
	Envelope string `json:"envelope"`
}

func (d *Deps) createAccount(w http.ResponseWriter, r *http.Request) {
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.requireNotary(w, r.Context(), req.Envelope, "create_account")
	if !ok {
		return
	}
	agentID, _ := verified.Payload["agent_id"].(string)
	initialBalance, _ := verified.Payload["initial_balance"].(float64)
	if agentID == "" {
		writeServiceError(w, apperrors.MissingField("agent_id"))
		return
	}
	account, svcErr := d.Ledger.CreateAccount(r.Context(), agentID, int64(initialBalance), d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, account)
}

func (d *Deps) creditAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.requireNotary(w, r.Context(), req.Envelope, "credit")
	if !ok {
		return
	}
	amount, _ := verified.Payload["amount"].(float64)
	reference, _ := verified.Payload["reference"].(string)
	if reference == "" {
		writeServiceError(w, apperrors.MissingField("reference"))
		return
	}
	txn, svcErr := d.Ledger.Credit(r.Context(), accountID, int64(amount), reference, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txn)
}

func (d *Deps) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	callerID, ok := d.bearerEnvelope(w, r)
	if !ok {
		return
	}
	if callerID != accountID && callerID != d.PlatformAgentID {
		writeServiceError(w, apperrors.Forbidden("may only read your own balance"))
		return
	}
	account, svcErr := d.Ledger.GetAccount(accountID)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (d *Deps) lockEscrow(w http.ResponseWriter, r *http.Request) {
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	escrow, svcErr := d.Ledger.LockSigned(r.Context(), d.Identity, req.Envelope, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, escrow)
}

func (d *Deps) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	escrowID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.requireNotary(w, r.Context(), req.Envelope, "escrow_release")
	if !ok {
		return
	}
	recipientID, _ := verified.Payload["recipient_id"].(string)
	if recipientID == "" {
		writeServiceError(w, apperrors.MissingField("recipient_id"))
		return
	}
	escrow, svcErr := d.Ledger.Release(r.Context(), escrowID, recipientID, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, escrow)
}

func (d *Deps) splitEscrow(w http.ResponseWriter, r *http.Request) {
	escrowID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.requireNotary(w, r.Context(), req.Envelope, "escrow_split")
	if !ok {
		return
	}
	workerID, _ := verified.Payload["worker_id"].(string)
	posterID, _ := verified.Payload["poster_id"].(string)
	workerPct, _ := verified.Payload["worker_pct"].(float64)
	if workerID == "" || posterID == "" {
		writeServiceError(w, apperrors.MissingField("worker_id/poster_id"))
		return
	}
	escrow, svcErr := d.Ledger.Split(r.Context(), escrowID, workerID, posterID, int(workerPct), d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, escrow)
}
