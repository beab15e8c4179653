// Package envelope implements the signed envelope: a compact three-part
// token `header.payload.signature`, all url-safe base64, that binds a
// canonical-JSON action payload to its signer's agent id. It is built on
// github.com/golang-jwt/jwt/v5 using EdDSA, the same library the teacher's
// infrastructure/serviceauth used for service-to-service RS256 tokens —
// generalized here from service tokens to agent-signed action envelopes.
//
// Using jwt.MapClaims as the payload type is what makes the wire format
// match the spec's canonicalization rule for free: encoding/json sorts map
// keys and emits no extra whitespace, so the payload bytes are always the
// tightest, key-sorted JSON the spec requires.
package envelope

import (
	"context"
	"crypto/ed25519"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentyard/exchange/internal/apperrors"
)

// PublicKeyLookup resolves a signer's registered public key. Implemented
// by the identity registry; kept as an interface here so envelope has no
// dependency on storage.
type PublicKeyLookup interface {
	LookupPublicKey(ctx context.Context, agentID string) (ed25519.PublicKey, bool)
}

// Verified is the result of a successful verify: the signer's agent id
// and the decoded payload.
type Verified struct {
	SignerID string
	Payload  map[string]interface{}
}

// Sign builds a compact envelope for payload, signed by priv, with kid set
// to signerID.
func Sign(priv ed25519.PrivateKey, signerID string, payload map[string]interface{}) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims(payload))
	token.Header["kid"] = signerID
	return token.SignedString(priv)
}

// Verify performs, in order: (i) structural parse; (ii) lookup of the
// signer's public key — AGENT_NOT_FOUND if missing; (iii) signature check
// over header.payload — FORBIDDEN/SIGNATURE_MISMATCH on failure; (iv)
// return of the decoded payload.
func Verify(ctx context.Context, lookup PublicKeyLookup, token string) (*Verified, *apperrors.ServiceError) {
	unverifiedClaims := jwt.MapClaims{}
	unverified, _, err := jwt.NewParser().ParseUnverified(token, unverifiedClaims)
	if err != nil {
		return nil, apperrors.InvalidJWS("envelope is not a well-formed signed token")
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, apperrors.InvalidJWS("envelope header is missing kid")
	}

	pubKey, found := lookup.LookupPublicKey(ctx, kid)
	if !found {
		return nil, apperrors.AgentNotFound(kid)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, apperrors.InvalidJWS("unexpected signing method")
		}
		return pubKey, nil
	})
	if err != nil {
		return nil, apperrors.SignatureMismatch()
	}

	return &Verified{SignerID: kid, Payload: map[string]interface{}(claims)}, nil
}

// RequireAction checks payload.action against the endpoint's expected
// action, returning INVALID_PAYLOAD on mismatch, per error precedence
// rule 6.
func RequireAction(v *Verified, expected string) *apperrors.ServiceError {
	action, _ := v.Payload["action"].(string)
	if action != expected {
		return apperrors.InvalidPayload("payload.action does not match this endpoint")
	}
	return nil
}
