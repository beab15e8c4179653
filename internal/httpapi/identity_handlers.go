package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/envelope"
	"github.com/agentyard/exchange/internal/httputil"
)

const maxBodyBytes = 1 << 20 // 1 MiB, a generous ceiling for a JSON envelope body.

type registerAgentRequest struct {
	DisplayName string `json:"display_name"`
	PublicKey   string `json:"public_key"`
}

func (d *Deps) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agent, svcErr := d.Identity.Register(r.Context(), req.DisplayName, req.PublicKey, d.now())
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, agent)
}

func (d *Deps) getAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, svcErr := d.Identity.Get(id)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agent)
}

type verifyDetachedRequest struct {
	AgentID   string `json:"agent_id"`
	Payload   string `json:"payload"` // base64
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Valid    bool   `json:"valid"`
	SignerID string `json:"signer_id,omitempty"`
}

// verifyDetached implements the raw detached-signature check. A
// signature mismatch is not an error here: the caller is asking "is
// this valid?" and a false answer is a successful response (§7:
// SIGNATURE_MISMATCH is 200 {valid:false} for raw verify).
func (d *Deps) verifyDetached(w http.ResponseWriter, r *http.Request) {
	var req verifyDetachedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payload, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(req.Payload)
	if err != nil {
		writeServiceError(w, apperrors.Base64Invalid("payload"))
		return
	}
	valid, svcErr := d.Identity.VerifyDetached(r.Context(), req.AgentID, payload, req.Signature)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{Valid: valid, SignerID: req.AgentID})
}

type verifyEnvelopeRequest struct {
	Envelope string `json:"envelope"`
}

// verifyEnvelope implements the signed-envelope diagnostic check, the
// same 200/{valid:false}-on-mismatch convention as verifyDetached since
// this is a diagnostic endpoint, not a business boundary (§7 draws that
// distinction explicitly for business-boundary envelope verification,
// which instead returns 403 FORBIDDEN).
func (d *Deps) verifyEnvelope(w http.ResponseWriter, r *http.Request) {
	var req verifyEnvelopeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verified, svcErr := envelope.Verify(r.Context(), d.Identity, req.Envelope)
	if svcErr != nil {
		if svcErr.Code == apperrors.ErrCodeSignatureMismatch {
			httputil.WriteJSON(w, http.StatusOK, verifyResponse{Valid: false})
			return
		}
		writeServiceError(w, svcErr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		Valid    bool                   `json:"valid"`
		SignerID string                 `json:"signer_id"`
		Payload  map[string]interface{} `json:"payload"`
	}{Valid: true, SignerID: verified.SignerID, Payload: verified.Payload})
}
