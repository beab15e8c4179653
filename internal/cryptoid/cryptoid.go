// Package cryptoid provides agent public-key validation and detached
// ed25519 signature verification. It generalizes the teacher's
// applications/auth wallet-address verification (which checked an
// ed25519 signature against a Neo wallet address derived from the
// public key) to plain agent-id-bound verification: there is no wallet
// address here, only the registered public key of the declared signer.
package cryptoid

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"

	"github.com/agentyard/exchange/internal/apperrors"
)

// KeyScheme describes the encoding and length constraints for public keys
// and signatures, sourced from config.CryptoConfig so the package never
// hardcodes a curve.
type KeyScheme struct {
	Algorithm       string
	PublicKeyPrefix string
	PublicKeyBytes  int
	SignatureBytes  int
}

// GenerateKeypair returns a fresh ed25519 keypair and its encoded public
// key string (prefix + url-safe base64), for tests and the platform
// bootstrap seed.
func GenerateKeypair(scheme KeyScheme) (encodedPubKey string, priv ed25519.PrivateKey, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", nil, err
	}
	return scheme.PublicKeyPrefix + base64.RawURLEncoding.EncodeToString(pub), priv, nil
}

// DecodePublicKey validates and decodes an encoded public key string:
// the configured prefix, a url-safe base64 decode to the configured
// length, and not the all-zero value. It does not check that the bytes
// decode to a point on the curve; such a key is accepted here, and every
// signature checked against it later fails to verify.
func DecodePublicKey(scheme KeyScheme, encoded string) (ed25519.PublicKey, *apperrors.ServiceError) {
	if !strings.HasPrefix(encoded, scheme.PublicKeyPrefix) {
		return nil, apperrors.InvalidPublicKey("missing expected key prefix")
	}
	raw := strings.TrimPrefix(encoded, scheme.PublicKeyPrefix)
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, apperrors.InvalidPublicKey("public key is not valid url-safe base64")
	}
	if len(decoded) != scheme.PublicKeyBytes {
		return nil, apperrors.InvalidPublicKey("public key has the wrong length")
	}
	if isAllZero(decoded) {
		return nil, apperrors.InvalidPublicKey("public key is the all-zero point")
	}
	return ed25519.PublicKey(decoded), nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// VerifyDetached implements verify_detached: base64-decodes the signature
// (BASE64_INVALID on failure), length-checks the decoded bytes against the
// configured signature size (SIGNATURE_LENGTH_INVALID), then checks it
// over payload. Caller passes the already-decoded public
// key (looked up by agent id) and the raw, undecoded signature field as
// received on the wire. Empty payload is valid, matching the spec's edge
// case.
func VerifyDetached(scheme KeyScheme, pubKey ed25519.PublicKey, payload []byte, encodedSignature string) (bool, *apperrors.ServiceError) {
	sig, err := base64.RawURLEncoding.DecodeString(encodedSignature)
	if err != nil {
		return false, apperrors.Base64Invalid("signature")
	}
	if len(sig) != scheme.SignatureBytes {
		return false, apperrors.SignatureLengthInvalid(scheme.SignatureBytes, len(sig))
	}
	return ed25519.Verify(pubKey, payload, sig), nil
}

// Sign produces a raw detached signature over payload, url-safe
// base64-encoded, using the caller's private key. Used by the platform's
// own notary flows and by tests constructing signed envelopes.
func Sign(priv ed25519.PrivateKey, payload []byte) string {
	sig := ed25519.Sign(priv, payload)
	return base64.RawURLEncoding.EncodeToString(sig)
}

// ValidateDisplayName enforces the registration rule that display_name
// must be non-empty after trimming surrounding whitespace.
func ValidateDisplayName(name string) *apperrors.ServiceError {
	if strings.TrimSpace(name) == "" {
		return apperrors.InvalidName("display name must not be empty")
	}
	return nil
}
