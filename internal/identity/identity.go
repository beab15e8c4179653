// Package identity implements the agent registry: registration, lookup,
// and the in-memory public-key cache the Signed-Envelope Verifier and
// the ledger/taskboard/court packages use to resolve a principal's key
// without a store round trip on every verification.
package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/cryptoid"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/store"
)

// Agent is the registry record. PublicKey is stored encoded (prefix +
// url-safe base64) exactly as received at registration.
type Agent struct {
	AgentID      string    `json:"agent_id"`
	DisplayName  string    `json:"display_name"`
	PublicKey    string    `json:"public_key"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Summary omits the public key, for list().
type Summary struct {
	AgentID      string    `json:"agent_id"`
	DisplayName  string    `json:"display_name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is the identity component. It owns the in-memory public-key
// cache described by the spec's "Shared-resource policy": write-through
// on Register, never stale (no TTL).
type Registry struct {
	store       *store.Store
	coordinator *store.Coordinator
	scheme      cryptoid.KeyScheme

	mu    sync.RWMutex
	cache map[string]ed25519.PublicKey // agent_id -> decoded public key
}

// NewRegistry constructs a Registry and warms the public-key cache from
// the store's current contents.
func NewRegistry(s *store.Store, coord *store.Coordinator, scheme cryptoid.KeyScheme) (*Registry, error) {
	r := &Registry{
		store:       s,
		coordinator: coord,
		scheme:      scheme,
		cache:       make(map[string]ed25519.PublicKey),
	}
	err := s.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketAgents, func(key string, raw []byte) error {
			var a Agent
			if err := unmarshalAgent(raw, &a); err != nil {
				return err
			}
			pub, svcErr := cryptoid.DecodePublicKey(scheme, a.PublicKey)
			if svcErr != nil {
				return svcErr
			}
			r.cache[a.AgentID] = pub
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Register validates display_name and public_key, rejects duplicate
// public keys, ignores any client-supplied agent_id/registered_at, and
// persists the new agent with a co-committed registration event.
func (r *Registry) Register(ctx context.Context, displayName, publicKey string, now time.Time) (Agent, *apperrors.ServiceError) {
	if err := cryptoid.ValidateDisplayName(displayName); err != nil {
		return Agent{}, err
	}
	pub, err := cryptoid.DecodePublicKey(r.scheme, publicKey)
	if err != nil {
		return Agent{}, err
	}

	r.mu.RLock()
	for _, existing := range r.cache {
		if existing.Equal(pub) {
			r.mu.RUnlock()
			return Agent{}, apperrors.PublicKeyExists()
		}
	}
	r.mu.RUnlock()

	agent := Agent{
		AgentID:      "a-" + uuid.NewString(),
		DisplayName:  displayName,
		PublicKey:    publicKey,
		RegisteredAt: now,
	}

	txErr := r.coordinator.Execute(ctx, store.BucketAgents, func(tx *bolt.Tx) error {
		if err := store.PutJSON(tx, store.BucketAgents, agent.AgentID, agent); err != nil {
			return err
		}
		_, err := events.Append(tx, "identity", "agent.registered", "", agent.AgentID,
			"agent registered", map[string]interface{}{"display_name": displayName}, now)
		return err
	})
	if txErr != nil {
		return Agent{}, apperrors.Internal("failed to persist agent registration", txErr)
	}

	r.mu.Lock()
	r.cache[agent.AgentID] = pub
	r.mu.Unlock()

	return agent, nil
}

// RegisterNotary registers the platform's own notary principal under a
// fixed, configured agent ID rather than a generated one, and is
// idempotent: a second call with an already-registered ID is a no-op
// that returns the existing record. Used only by the platform bootstrap,
// never reachable from the public /agents/register endpoint.
func (r *Registry) RegisterNotary(ctx context.Context, agentID, displayName, publicKey string, now time.Time) (Agent, *apperrors.ServiceError) {
	if existing, svcErr := r.Get(agentID); svcErr == nil {
		return existing, nil
	}
	pub, err := cryptoid.DecodePublicKey(r.scheme, publicKey)
	if err != nil {
		return Agent{}, err
	}

	agent := Agent{
		AgentID:      agentID,
		DisplayName:  displayName,
		PublicKey:    publicKey,
		RegisteredAt: now,
	}

	txErr := r.coordinator.Execute(ctx, store.BucketAgents, func(tx *bolt.Tx) error {
		if err := store.PutJSON(tx, store.BucketAgents, agent.AgentID, agent); err != nil {
			return err
		}
		_, err := events.Append(tx, "identity", "agent.registered", "", agent.AgentID,
			"notary registered", map[string]interface{}{"display_name": displayName}, now)
		return err
	})
	if txErr != nil {
		return Agent{}, apperrors.Internal("failed to persist notary registration", txErr)
	}

	r.mu.Lock()
	r.cache[agent.AgentID] = pub
	r.mu.Unlock()

	return agent, nil
}

// Get looks up a single agent by id.
func (r *Registry) Get(agentID string) (Agent, *apperrors.ServiceError) {
	var agent Agent
	var found bool
	err := r.store.View(func(tx *bolt.Tx) error {
		var err error
		found, err = store.GetJSON(tx, store.BucketAgents, agentID, &agent)
		return err
	})
	if err != nil {
		return Agent{}, apperrors.Internal("failed to read agent", err)
	}
	if !found {
		return Agent{}, apperrors.AgentNotFound(agentID)
	}
	return agent, nil
}

// List returns every registered agent, omitting public keys.
func (r *Registry) List() ([]Summary, *apperrors.ServiceError) {
	var out []Summary
	err := r.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketAgents, func(_ string, raw []byte) error {
			var a Agent
			if err := unmarshalAgent(raw, &a); err != nil {
				return err
			}
			out = append(out, Summary{AgentID: a.AgentID, DisplayName: a.DisplayName, RegisteredAt: a.RegisteredAt})
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Internal("failed to list agents", err)
	}
	return out, nil
}

// LookupPublicKey implements envelope.PublicKeyLookup from the write-through
// cache, with no store round trip.
func (r *Registry) LookupPublicKey(_ context.Context, agentID string) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.cache[agentID]
	return pub, ok
}

// VerifyDetached implements verify_detached against a looked-up agent's
// cached public key.
func (r *Registry) VerifyDetached(ctx context.Context, agentID string, payload []byte, signature string) (bool, *apperrors.ServiceError) {
	pub, ok := r.LookupPublicKey(ctx, agentID)
	if !ok {
		return false, apperrors.AgentNotFound(agentID)
	}
	return cryptoid.VerifyDetached(r.scheme, pub, payload, signature)
}

func unmarshalAgent(raw []byte, a *Agent) error {
	return json.Unmarshal(raw, a)
}
