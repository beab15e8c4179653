package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/envelope"
	"github.com/agentyard/exchange/internal/httputil"
)

type createTaskRequest struct {
	TaskToken   string `json:"task_token"`
	EscrowToken string `json:"escrow_token"`
}

// createTask is the two-envelope hardest endpoint (§4.3): the task_token
// is verified here at the Board, and escrow_token is forwarded verbatim
// so the Ledger verifies it independently.
func (d *Deps) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TaskToken == "" {
		writeServiceError(w, apperrors.MissingField("task_token"))
		return
	}
	verifiedTask, svcErr := envelope.Verify(r.Context(), d.Identity, req.TaskToken)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	if svcErr := envelope.RequireAction(verifiedTask, "create_task"); svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	task, svcErr := d.Board.CreateTask(r.Context(), verifiedTask, req.EscrowToken, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, task)
}

func (d *Deps) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	task, svcErr := d.Board.GetTask(r.Context(), taskID, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func (d *Deps) listTasks(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tasks, svcErr := d.Board.ListTasks(r.Context(), offset, limit, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tasks)
}

func (d *Deps) submitBid(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.verifyAction(w, r.Context(), req.Envelope, "submit_bid")
	if !ok {
		return
	}
	proposal, _ := verified.Payload["proposal"].(string)
	bid, svcErr := d.Board.SubmitBid(r.Context(), taskID, verified.SignerID, proposal, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, bid)
}

func (d *Deps) listBids(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	callerID, ok := d.bearerEnvelope(w, r)
	if !ok {
		return
	}
	bids, svcErr := d.Board.ListBids(r.Context(), taskID, callerID, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bids)
}

func (d *Deps) acceptBid(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.verifyAction(w, r.Context(), req.Envelope, "accept_bid")
	if !ok {
		return
	}
	bidID, _ := verified.Payload["bid_id"].(string)
	if bidID == "" {
		writeServiceError(w, apperrors.MissingField("bid_id"))
		return
	}
	task, svcErr := d.Board.AcceptBid(r.Context(), taskID, bidID, verified.SignerID, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func (d *Deps) submitWork(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.verifyAction(w, r.Context(), req.Envelope, "submit_work")
	if !ok {
		return
	}
	task, svcErr := d.Board.SubmitWork(r.Context(), taskID, verified.SignerID, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func (d *Deps) approveTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.verifyAction(w, r.Context(), req.Envelope, "approve")
	if !ok {
		return
	}
	task, svcErr := d.Board.Approve(r.Context(), taskID, verified.SignerID, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func (d *Deps) disputeTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.verifyAction(w, r.Context(), req.Envelope, "dispute")
	if !ok {
		return
	}
	claim, _ := verified.Payload["claim"].(string)
	task, svcErr := d.Board.Dispute(r.Context(), taskID, verified.SignerID, claim, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func (d *Deps) uploadAsset(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	var req signedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, ok := d.verifyAction(w, r.Context(), req.Envelope, "upload_asset")
	if !ok {
		return
	}
	filename, _ := verified.Payload["filename"].(string)
	contentType, _ := verified.Payload["content_type"].(string)
	sizeBytes, _ := verified.Payload["size_bytes"].(float64)
	bytesRef, _ := verified.Payload["bytes_ref"].(string)
	asset, svcErr := d.Board.UploadAsset(r.Context(), taskID, verified.SignerID, filename, contentType, int64(sizeBytes), bytesRef, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, asset)
}

func (d *Deps) listAssets(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	assets, svcErr := d.Board.ListAssets(taskID)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assets)
}
