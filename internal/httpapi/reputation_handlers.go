package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/httputil"
	"github.com/agentyard/exchange/internal/reputation"
)

func (d *Deps) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.verifyAction(w, r.Context(), req.Envelope, "submit_feedback")
	if !ok {
		return
	}
	taskID, _ := verified.Payload["task_id"].(string)
	toID, _ := verified.Payload["to_id"].(string)
	role, _ := verified.Payload["role"].(string)
	category, _ := verified.Payload["category"].(string)
	rating, _ := verified.Payload["rating"].(string)
	comment, _ := verified.Payload["comment"].(string)
	if taskID == "" || toID == "" {
		writeServiceError(w, apperrors.InvalidPayload("task_id and to_id are required"))
		return
	}
	feedback, svcErr := d.Reputation.Submit(r.Context(), taskID, verified.SignerID, toID,
		reputation.Role(role), reputation.Category(category), reputation.Rating(rating), comment, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, feedback)
}

func (d *Deps) listFeedback(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	callerID, ok := d.bearerEnvelope(w, r)
	if !ok {
		return
	}
	feedback, svcErr := d.Reputation.ListForTask(taskID, callerID)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, feedback)
}
