package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/envelope"
	"github.com/agentyard/exchange/internal/httputil"
)

// decodeBody reads the request body (bounded by maxBodyBytes) and
// decodes it as JSON into v, writing the error envelope and returning
// false on any failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	raw, err := httputil.ReadAllStrict(r.Body, maxBodyBytes)
	if err != nil {
		writeServiceError(w, apperrors.PayloadTooLarge(maxBodyBytes))
		return false
	}
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeServiceError(w, apperrors.InvalidJSON(err))
		return false
	}
	return true
}

// verifyAction verifies a compact envelope token and checks its action
// claim matches expectedAction, writing the error envelope on any
// failure. Returns (verified, true) on success.
func (d *Deps) verifyAction(w http.ResponseWriter, ctx context.Context, token, expectedAction string) (*envelope.Verified, bool) {
	if token == "" {
		writeServiceError(w, apperrors.MissingField("envelope"))
		return nil, false
	}
	verified, svcErr := envelope.Verify(ctx, d.Identity, token)
	if svcErr != nil {
		d.logEnvelopeOutcome(ctx, "", expectedAction, svcErr)
		writeServiceError(w, svcErr)
		return nil, false
	}
	if svcErr := envelope.RequireAction(verified, expectedAction); svcErr != nil {
		d.logEnvelopeOutcome(ctx, verified.SignerID, expectedAction, svcErr)
		writeServiceError(w, svcErr)
		return nil, false
	}
	d.logEnvelopeOutcome(ctx, verified.SignerID, expectedAction, nil)
	return verified, true
}

// logEnvelopeOutcome records an envelope verification outcome if a
// Logger is configured; Deps.Logger is optional in tests.
func (d *Deps) logEnvelopeOutcome(ctx context.Context, signerID, action string, svcErr *apperrors.ServiceError) {
	if d.Logger == nil {
		return
	}
	var err error
	if svcErr != nil {
		err = svcErr
	}
	d.Logger.LogEnvelopeVerification(ctx, signerID, action, svcErr == nil, err)
}

// requireNotary is like verifyAction but additionally enforces that the
// envelope's signer is the configured platform notary principal — the
// single agent trusted to authorize account creation, credits, escrow
// release/split, and dispute administration.
func (d *Deps) requireNotary(w http.ResponseWriter, ctx context.Context, token, expectedAction string) (*envelope.Verified, bool) {
	verified, ok := d.verifyAction(w, ctx, token, expectedAction)
	if !ok {
		return nil, false
	}
	if verified.SignerID != d.PlatformAgentID {
		writeServiceError(w, apperrors.AgentForbidden("only the platform notary may perform this action"))
		return nil, false
	}
	return verified, true
}

// bearerEnvelope extracts and verifies the compact envelope token
// carried in the Authorization header (agent bearer envelope auth
// described by §6 for read endpoints), returning the caller's agent id.
func (d *Deps) bearerEnvelope(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		writeServiceError(w, apperrors.Unauthorized("missing bearer envelope"))
		return "", false
	}
	verified, svcErr := envelope.Verify(r.Context(), d.Identity, token)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return "", false
	}
	return verified.SignerID, true
}
