// Package taskboard implements the task state machine, sealed bidding,
// asset metadata, and the lazy deadline transitions described in the
// spec's §4.3. It is the orchestrator at the center of the platform:
// task creation pairs a Board-verified task_token with an
// Ledger-verified escrow_token (ledger.Ledger.VerifyLockClaims), cross
// checking both before calling the Ledger's committing Lock, and
// dispute filing hands off to the Court component via the CourtClient
// interface, matching the teacher corpus's preference for small
// interfaces at component boundaries over direct struct coupling.
package taskboard

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/envelope"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/identity"
	"github.com/agentyard/exchange/internal/ledger"
	"github.com/agentyard/exchange/internal/metrics"
	"github.com/agentyard/exchange/internal/store"
)

// Status enumerates task lifecycle states. Monotonic per §4.3's
// transition table; approved/ruled/cancelled/expired are terminal.
type Status string

const (
	StatusOpen      Status = "open"
	StatusAccepted  Status = "accepted"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusDisputed  Status = "disputed"
	StatusRuled     Status = "ruled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Deadlines holds the three lazily-evaluated deadlines. Zero time means
// "no deadline configured" (never expires on that axis).
type Deadlines struct {
	Bidding   time.Time `json:"bidding,omitempty"`
	Execution time.Time `json:"execution,omitempty"`
	Review    time.Time `json:"review,omitempty"`
}

// Task is the task board's primary record. Title/Spec/Reward are
// immutable post-creation.
type Task struct {
	TaskID        string    `json:"task_id"`
	PosterID      string    `json:"poster_id"`
	WorkerID      string    `json:"worker_id,omitempty"`
	Title         string    `json:"title"`
	Spec          string    `json:"spec"`
	Reward        int64     `json:"reward"`
	EscrowID      string    `json:"escrow_id"`
	Status        Status    `json:"status"`
	Deadlines     Deadlines `json:"deadlines"`
	AcceptedBidID string    `json:"accepted_bid_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	AcceptedAt    time.Time `json:"accepted_at,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at,omitempty"`
	ResolvedAt    time.Time `json:"resolved_at,omitempty"`
}

// Bid is sealed while its task is open: readable only by the poster and
// the bidder who placed it. Unique on (task_id, bidder_id).
type Bid struct {
	BidID       string    `json:"bid_id"`
	TaskID      string    `json:"task_id"`
	BidderID    string    `json:"bidder_id"`
	Proposal    string    `json:"proposal"`
	SubmittedAt time.Time `json:"submitted_at"`
	Accepted    bool      `json:"accepted"`
}

// Asset is upload metadata; the bytes themselves are opaque to the core.
type Asset struct {
	AssetID     string    `json:"asset_id"`
	TaskID      string    `json:"task_id"`
	UploaderID  string    `json:"uploader_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
	BytesRef    string    `json:"bytes_ref"`
}

// CourtClient is the Board's view of the Court component, used only to
// file a dispute. Kept minimal and interface-typed so the Board package
// never imports internal/court directly (court imports taskboard types
// for its own ruling orchestration instead).
type CourtClient interface {
	FileDispute(ctx context.Context, taskID, claimantID, respondentID, claim, escrowID string, now time.Time) *apperrors.ServiceError
}

// Board is the task board component.
type Board struct {
	store       *store.Store
	coordinator *store.Coordinator
	identity    *identity.Registry
	ledger      *ledger.Ledger
	court       CourtClient
	metrics     *metrics.Metrics
}

func New(s *store.Store, coord *store.Coordinator, idn *identity.Registry, l *ledger.Ledger) *Board {
	return &Board{store: s, coordinator: coord, identity: idn, ledger: l}
}

// WithCourt attaches the Court client used by dispute filing. Optional
// at construction since court.Court depends on Board for task_data,
// creating a natural wiring-order cycle resolved by a post-construction
// setter, matching the teacher corpus's deps.go late-binding pattern.
func (b *Board) WithCourt(c CourtClient) *Board {
	b.court = c
	return b
}

func (b *Board) WithMetrics(m *metrics.Metrics) *Board {
	b.metrics = m
	return b
}

// CreateTask implements the "hardest endpoint" (§4.3): two signed
// tokens, cross-validated before any write. taskToken has already been
// verified by the HTTP boundary (action=create_task); CreateTask
// independently re-derives the signer to enforce "both signers equal
// the declared poster". escrowToken is verified and decoded via the
// Ledger's VerifyLockClaims, which commits nothing, so every
// cross-check (amount, task_id, signer) runs before the Ledger's
// mutating Lock is ever called. If any check fails, or if Lock itself
// fails, the task is never created and no escrow is left behind — no
// partial state.
func (b *Board) CreateTask(ctx context.Context, taskVerified *envelope.Verified, escrowToken string, now time.Time) (Task, *apperrors.ServiceError) {
	posterID, _ := taskVerified.Payload["poster_id"].(string)
	title, _ := taskVerified.Payload["title"].(string)
	spec, _ := taskVerified.Payload["spec"].(string)
	rewardFloat, ok := taskVerified.Payload["reward"].(float64)
	taskID, _ := taskVerified.Payload["task_id"].(string)

	if posterID == "" {
		return Task{}, apperrors.MissingField("poster_id")
	}
	if title == "" {
		return Task{}, apperrors.MissingField("title")
	}
	if taskID == "" {
		return Task{}, apperrors.MissingField("task_id")
	}
	if !ok || rewardFloat <= 0 {
		return Task{}, apperrors.InvalidFieldType("reward", "positive number")
	}
	if taskVerified.SignerID != posterID {
		return Task{}, apperrors.AgentForbidden("task_token signer must equal the declared poster")
	}

	if existing, svcErr := b.GetTaskRaw(taskID); svcErr == nil {
		return existing, apperrors.Conflict("task_id already exists: " + taskID)
	}

	// The escrow token's signature and claims are verified here, against
	// the Ledger's own independent parsing, but nothing is committed yet:
	// VerifyLockClaims touches no store state. Every cross-check against
	// task_token runs against these claims before the mutating Lock call
	// below, so a mismatched pair fails closed with no escrow ever
	// created and no task_id burned.
	claims, svcErr := b.ledger.VerifyLockClaims(ctx, b.identity, escrowToken)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if claims.Amount != int64(rewardFloat) {
		return Task{}, apperrors.InvalidPayload("escrow_token.amount must equal task_token.reward")
	}
	if claims.AgentID != posterID {
		return Task{}, apperrors.AgentForbidden("escrow_token signer must equal the declared poster")
	}
	if claims.TaskID != taskID {
		return Task{}, apperrors.InvalidPayload("escrow_token.task_id must equal task_token.task_id")
	}

	esc, svcErr := b.ledger.Lock(ctx, claims.AgentID, claims.Amount, claims.TaskID, now)
	if svcErr != nil {
		return Task{}, svcErr
	}

	task := Task{
		TaskID:    taskID,
		PosterID:  posterID,
		Title:     title,
		Spec:      spec,
		Reward:    int64(rewardFloat),
		EscrowID:  esc.EscrowID,
		Status:    StatusOpen,
		Deadlines: parseDeadlines(taskVerified.Payload),
		CreatedAt: now,
	}

	txErr := b.coordinator.Execute(ctx, store.BucketTasks, func(tx *bolt.Tx) error {
		if err := store.PutJSON(tx, store.BucketTasks, task.TaskID, task); err != nil {
			return err
		}
		_, err := events.Append(tx, "taskboard", "task.created", task.TaskID, posterID,
			"task created", map[string]interface{}{"escrow_id": esc.EscrowID, "reward": task.Reward}, now)
		return err
	})
	if txErr != nil {
		return Task{}, apperrors.Internal("failed to persist task", txErr)
	}
	return task, nil
}

func parseDeadlines(payload map[string]interface{}) Deadlines {
	var d Deadlines
	if v, ok := payload["bidding_deadline"].(float64); ok {
		d.Bidding = time.Unix(int64(v), 0)
	}
	if v, ok := payload["execution_deadline"].(float64); ok {
		d.Execution = time.Unix(int64(v), 0)
	}
	if v, ok := payload["review_deadline"].(float64); ok {
		d.Review = time.Unix(int64(v), 0)
	}
	return d
}

// GetTaskRaw reads a task without applying lazy deadline transitions,
// used internally for existence checks.
func (b *Board) GetTaskRaw(taskID string) (Task, *apperrors.ServiceError) {
	var task Task
	var found bool
	err := b.store.View(func(tx *bolt.Tx) error {
		var err error
		found, err = store.GetJSON(tx, store.BucketTasks, taskID, &task)
		return err
	})
	if err != nil {
		return Task{}, apperrors.Internal("failed to read task", err)
	}
	if !found {
		return Task{}, apperrors.TaskNotFound(taskID)
	}
	return task, nil
}

// GetTask reads a task, applying at most one lazy deadline transition
// first (§4.3 "Lazy deadlines"). Callers should always go through this
// rather than GetTaskRaw; ListTasks applies the same applyLazyDeadline step
// to each row it returns.
func (b *Board) GetTask(ctx context.Context, taskID string, now time.Time) (Task, *apperrors.ServiceError) {
	task, svcErr := b.GetTaskRaw(taskID)
	if svcErr != nil {
		return Task{}, svcErr
	}
	return b.applyLazyDeadline(ctx, task, now)
}

// ListTasks returns a simple paginated listing (offset/limit, ordered by
// task_id) with lazy deadlines applied to each row read.
func (b *Board) ListTasks(ctx context.Context, offset, limit int, now time.Time) ([]Task, *apperrors.ServiceError) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var all []Task
	err := b.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketTasks, func(_ string, raw []byte) error {
			var t Task
			if err := decodeTask(raw, &t); err != nil {
				return err
			}
			all = append(all, t)
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Internal("failed to list tasks", err)
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[offset:end]
	out := make([]Task, 0, len(page))
	for _, t := range page {
		updated, svcErr := b.applyLazyDeadline(ctx, t, now)
		if svcErr != nil {
			return nil, svcErr
		}
		out = append(out, updated)
	}
	return out, nil
}
