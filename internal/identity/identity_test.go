package identity

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentyard/exchange/internal/cryptoid"
	"github.com/agentyard/exchange/internal/store"
)

func testScheme() cryptoid.KeyScheme {
	return cryptoid.KeyScheme{
		Algorithm:       "ed25519",
		PublicKeyPrefix: "ed25519:",
		PublicKeyBytes:  ed25519.PublicKeySize,
		SignatureBytes:  ed25519.SignatureSize,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *store.Coordinator) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	coord := store.NewCoordinator(s, nil, 16)
	t.Cleanup(coord.Close)

	r, err := NewRegistry(s, coord, testScheme())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, coord
}

func TestRegister_Success(t *testing.T) {
	r, _ := newTestRegistry(t)
	scheme := testScheme()
	pubEncoded, _, err := cryptoid.GenerateKeypair(scheme)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	agent, svcErr := r.Register(context.Background(), "alice", pubEncoded, time.Unix(1000, 0))
	if svcErr != nil {
		t.Fatalf("Register: %v", svcErr)
	}
	if agent.AgentID == "" || agent.DisplayName != "alice" {
		t.Fatalf("unexpected agent: %+v", agent)
	}

	got, svcErr := r.Get(agent.AgentID)
	if svcErr != nil {
		t.Fatalf("Get: %v", svcErr)
	}
	if got.PublicKey != pubEncoded {
		t.Fatalf("round-tripped public key mismatch")
	}
}

func TestRegister_ClientSuppliedAgentIDIgnored(t *testing.T) {
	// Register doesn't accept an agent_id parameter at all -- enforced
	// structurally by the function signature, this test documents it.
	r, _ := newTestRegistry(t)
	scheme := testScheme()
	pubEncoded, _, err := cryptoid.GenerateKeypair(scheme)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	agent, svcErr := r.Register(context.Background(), "bob", pubEncoded, time.Unix(2000, 0))
	if svcErr != nil {
		t.Fatalf("Register: %v", svcErr)
	}
	if agent.RegisteredAt.Unix() != 2000 {
		t.Fatalf("expected server-assigned registered_at, got %v", agent.RegisteredAt)
	}
}

func TestRegister_DuplicatePublicKeyRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	scheme := testScheme()
	pubEncoded, _, err := cryptoid.GenerateKeypair(scheme)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, svcErr := r.Register(context.Background(), "alice", pubEncoded, time.Unix(1000, 0)); svcErr != nil {
		t.Fatalf("first Register: %v", svcErr)
	}
	_, svcErr := r.Register(context.Background(), "alice-2", pubEncoded, time.Unix(1001, 0))
	if svcErr == nil || svcErr.Code != "PUBLIC_KEY_EXISTS" {
		t.Fatalf("expected PUBLIC_KEY_EXISTS, got %v", svcErr)
	}
}

func TestRegister_DuplicateDisplayNamePermitted(t *testing.T) {
	r, _ := newTestRegistry(t)
	scheme := testScheme()
	pub1, _, _ := cryptoid.GenerateKeypair(scheme)
	pub2, _, _ := cryptoid.GenerateKeypair(scheme)

	if _, svcErr := r.Register(context.Background(), "alice", pub1, time.Unix(1000, 0)); svcErr != nil {
		t.Fatalf("first Register: %v", svcErr)
	}
	if _, svcErr := r.Register(context.Background(), "alice", pub2, time.Unix(1001, 0)); svcErr != nil {
		t.Fatalf("expected duplicate display name to be permitted, got %v", svcErr)
	}
}

func TestRegister_InvalidName(t *testing.T) {
	r, _ := newTestRegistry(t)
	scheme := testScheme()
	pub, _, _ := cryptoid.GenerateKeypair(scheme)
	_, svcErr := r.Register(context.Background(), "   ", pub, time.Unix(1000, 0))
	if svcErr == nil || svcErr.Code != "INVALID_NAME" {
		t.Fatalf("expected INVALID_NAME, got %v", svcErr)
	}
}

func TestGet_NotFound(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, svcErr := r.Get("a-missing")
	if svcErr == nil || svcErr.Code != "AGENT_NOT_FOUND" {
		t.Fatalf("expected AGENT_NOT_FOUND, got %v", svcErr)
	}
}

func TestList_OmitsPublicKeys(t *testing.T) {
	r, _ := newTestRegistry(t)
	scheme := testScheme()
	pub, _, _ := cryptoid.GenerateKeypair(scheme)
	if _, svcErr := r.Register(context.Background(), "alice", pub, time.Unix(1000, 0)); svcErr != nil {
		t.Fatalf("Register: %v", svcErr)
	}

	summaries, svcErr := r.List()
	if svcErr != nil {
		t.Fatalf("List: %v", svcErr)
	}
	if len(summaries) != 1 || summaries[0].DisplayName != "alice" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestLookupPublicKey_WriteThroughCache(t *testing.T) {
	r, _ := newTestRegistry(t)
	scheme := testScheme()
	pubEncoded, priv, _ := cryptoid.GenerateKeypair(scheme)
	agent, svcErr := r.Register(context.Background(), "alice", pubEncoded, time.Unix(1000, 0))
	if svcErr != nil {
		t.Fatalf("Register: %v", svcErr)
	}

	pub, ok := r.LookupPublicKey(context.Background(), agent.AgentID)
	if !ok {
		t.Fatal("expected cache hit after registration")
	}
	if !pub.Equal(priv.Public().(ed25519.PublicKey)) {
		t.Fatal("cached public key does not match generated keypair")
	}
}

func TestVerifyDetached_UnknownAgent(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, svcErr := r.VerifyDetached(context.Background(), "a-missing", []byte("payload"), "sig")
	if svcErr == nil || svcErr.Code != "AGENT_NOT_FOUND" {
		t.Fatalf("expected AGENT_NOT_FOUND, got %v", svcErr)
	}
}
