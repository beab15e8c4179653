package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/httputil"
)

// fileDispute is the notary-gated administrative entry point to Court
// filing, distinct from POST /tasks/{id}/dispute (which is how a poster
// actually disputes a task; the Board calls court.FileDispute directly
// in-process rather than over this HTTP boundary). Exposed for parity
// with §6's endpoint table and for a multi-process deployment where the
// Board and Court run as separate services.
type fileDisputeRequest struct {
	Envelope     string `json:"envelope"`
	TaskID       string `json:"task_id"`
	ClaimantID   string `json:"claimant_id"`
	RespondentID string `json:"respondent_id"`
	Claim        string `json:"claim"`
	EscrowID     string `json:"escrow_id"`
}

func (d *Deps) fileDispute(w http.ResponseWriter, r *http.Request) {
	var req fileDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, ok := d.requireNotary(w, r.Context(), req.Envelope, "file_dispute"); !ok {
		return
	}
	if req.TaskID == "" || req.ClaimantID == "" || req.RespondentID == "" {
		writeServiceError(w, apperrors.InvalidPayload("task_id, claimant_id, and respondent_id are required"))
		return
	}
	if svcErr := d.Court.FileDispute(r.Context(), req.TaskID, req.ClaimantID, req.RespondentID, req.Claim, req.EscrowID, d.now()); svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.RespondCreated(w, map[string]string{"task_id": req.TaskID})
}

func (d *Deps) submitRebuttal(w http.ResponseWriter, r *http.Request) {
	disputeID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.requireNotary(w, r.Context(), req.Envelope, "submit_rebuttal")
	if !ok {
		return
	}
	rebuttalText, _ := verified.Payload["rebuttal_text"].(string)
	dispute, svcErr := d.Court.SubmitRebuttal(r.Context(), disputeID, rebuttalText, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dispute)
}

func (d *Deps) ruleDispute(w http.ResponseWriter, r *http.Request) {
	disputeID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, ok := d.requireNotary(w, r.Context(), req.Envelope, "rule"); !ok {
		return
	}
	dispute, svcErr := d.Court.Rule(r.Context(), disputeID, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dispute)
}
