package envelope

import (
	"context"
	"crypto/ed25519"
	"testing"
)

type staticLookup map[string]ed25519.PublicKey

func (s staticLookup) LookupPublicKey(_ context.Context, agentID string) (ed25519.PublicKey, bool) {
	pub, ok := s[agentID]
	return pub, ok
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	token, err := Sign(priv, "a-1234", map[string]interface{}{"action": "create_task", "task_id": "t-1"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	lookup := staticLookup{"a-1234": pub}
	verified, svcErr := Verify(context.Background(), lookup, token)
	if svcErr != nil {
		t.Fatalf("Verify: %v", svcErr)
	}
	if verified.SignerID != "a-1234" {
		t.Fatalf("SignerID = %q, want a-1234", verified.SignerID)
	}
	if verified.Payload["action"] != "create_task" {
		t.Fatalf("Payload action = %v, want create_task", verified.Payload["action"])
	}
}

func TestVerify_StructurallyInvalid(t *testing.T) {
	lookup := staticLookup{}
	_, svcErr := Verify(context.Background(), lookup, "not-a-token")
	if svcErr == nil || svcErr.Code != "INVALID_JWS" {
		t.Fatalf("expected INVALID_JWS, got %v", svcErr)
	}
}

func TestVerify_UnknownSigner(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	token, err := Sign(priv, "a-unknown", map[string]interface{}{"action": "ping"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	lookup := staticLookup{}
	_, svcErr := Verify(context.Background(), lookup, token)
	if svcErr == nil || svcErr.Code != "AGENT_NOT_FOUND" {
		t.Fatalf("expected AGENT_NOT_FOUND, got %v", svcErr)
	}
}

func TestVerify_SignatureMismatch(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	otherPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	token, err := Sign(priv, "a-1234", map[string]interface{}{"action": "ping"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Lookup returns a different (wrong) public key for the claimed signer.
	lookup := staticLookup{"a-1234": otherPub}
	_, svcErr := Verify(context.Background(), lookup, token)
	if svcErr == nil || svcErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN/SIGNATURE_MISMATCH, got %v", svcErr)
	}
}

func TestRequireAction(t *testing.T) {
	v := &Verified{Payload: map[string]interface{}{"action": "create_task"}}
	if err := RequireAction(v, "create_task"); err != nil {
		t.Fatalf("expected matching action to pass, got %v", err)
	}
	if err := RequireAction(v, "escrow_lock"); err == nil || err.Code != "INVALID_PAYLOAD" {
		t.Fatalf("expected INVALID_PAYLOAD for mismatched action, got %v", err)
	}
}
