package court

import (
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/court/refjudge"
	"github.com/agentyard/exchange/internal/cryptoid"
	"github.com/agentyard/exchange/internal/envelope"
	"github.com/agentyard/exchange/internal/identity"
	"github.com/agentyard/exchange/internal/ledger"
	"github.com/agentyard/exchange/internal/reputation"
	"github.com/agentyard/exchange/internal/store"
	"github.com/agentyard/exchange/internal/taskboard"
)

func testScheme() cryptoid.KeyScheme {
	return cryptoid.KeyScheme{
		Algorithm:       "ed25519",
		PublicKeyPrefix: "ed25519:",
		PublicKeyBytes:  ed25519.PublicKeySize,
		SignatureBytes:  ed25519.SignatureSize,
	}
}

// failingJudge always errors, used to exercise the rollback path.
type failingJudge struct{ id string }

func (f *failingJudge) JudgeID() string { return f.id }
func (f *failingJudge) Vote(_ context.Context, _ JudgeInput) (JudgeVote, error) {
	return JudgeVote{}, errors.New("judge backend unreachable")
}

type testRig struct {
	court      *Court
	board      *taskboard.Board
	identity   *identity.Registry
	ledger     *ledger.Ledger
	reputation *reputation.Store
}

func newTestRig(t *testing.T, judges []Judge) *testRig {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "court.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	coord := store.NewCoordinator(s, nil, 16)
	t.Cleanup(coord.Close)

	idn, err := identity.NewRegistry(s, coord, testScheme())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	l := ledger.New(s, coord, idn)
	rep := reputation.New(s, coord)
	board := taskboard.New(s, coord, idn, l)

	c := New(s, coord, l, rep, board, judges, 48*time.Hour)
	board.WithCourt(c)

	return &testRig{court: c, board: board, identity: idn, ledger: l, reputation: rep}
}

type agent struct {
	id   string
	priv ed25519.PrivateKey
}

func (r *testRig) registerAgent(t *testing.T, name string, balance int64) agent {
	t.Helper()
	pub, priv, err := cryptoid.GenerateKeypair(testScheme())
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	a, svcErr := r.identity.Register(context.Background(), name, pub, time.Unix(1000, 0))
	if svcErr != nil {
		t.Fatalf("Register: %v", svcErr)
	}
	if _, svcErr := r.ledger.CreateAccount(context.Background(), a.AgentID, balance, time.Unix(1000, 0)); svcErr != nil {
		t.Fatalf("CreateAccount: %v", svcErr)
	}
	return agent{id: a.AgentID, priv: priv}
}

// disputedTask builds a task all the way from creation through a filed
// dispute (open -> accepted -> submitted -> disputed), returning the
// resulting taskboard.Task and the filed court.Dispute.
func (r *testRig) disputedTask(t *testing.T, poster, worker agent, taskID string, reward int64, now time.Time) (taskboard.Task, Dispute) {
	t.Helper()
	taskToken, err := envelope.Sign(poster.priv, poster.id, map[string]interface{}{
		"action": "create_task", "task_id": taskID, "poster_id": poster.id,
		"title": "build a widget", "spec": "make it shiny", "reward": float64(reward),
	})
	if err != nil {
		t.Fatalf("Sign task_token: %v", err)
	}
	escrowToken, err := envelope.Sign(poster.priv, poster.id, map[string]interface{}{
		"action": "escrow_lock", "task_id": taskID, "amount": float64(reward),
	})
	if err != nil {
		t.Fatalf("Sign escrow_token: %v", err)
	}
	verifiedTask, svcErr := envelope.Verify(context.Background(), r.identity, taskToken)
	if svcErr != nil {
		t.Fatalf("Verify task_token: %v", svcErr)
	}
	if _, svcErr := r.board.CreateTask(context.Background(), verifiedTask, escrowToken, now); svcErr != nil {
		t.Fatalf("CreateTask: %v", svcErr)
	}

	bid, svcErr := r.board.SubmitBid(context.Background(), taskID, worker.id, "I'll do it", now.Add(time.Second))
	if svcErr != nil {
		t.Fatalf("SubmitBid: %v", svcErr)
	}
	if _, svcErr := r.board.AcceptBid(context.Background(), taskID, bid.BidID, poster.id, now.Add(2*time.Second)); svcErr != nil {
		t.Fatalf("AcceptBid: %v", svcErr)
	}
	if _, svcErr := r.board.SubmitWork(context.Background(), taskID, worker.id, now.Add(3*time.Second)); svcErr != nil {
		t.Fatalf("SubmitWork: %v", svcErr)
	}
	task, svcErr := r.board.Dispute(context.Background(), taskID, poster.id, "the widget was not shiny", now.Add(4*time.Second))
	if svcErr != nil {
		t.Fatalf("Dispute: %v", svcErr)
	}

	dispute, svcErr := r.court.disputeByTaskID(taskID)
	if svcErr != nil {
		t.Fatalf("disputeByTaskID: %v", svcErr)
	}
	return task, dispute
}

func TestFileDispute_DuplicateRejected(t *testing.T) {
	r := newTestRig(t, []Judge{refjudge.New("j1")})
	poster := r.registerAgent(t, "poster", 1000)
	worker := r.registerAgent(t, "worker", 0)
	r.disputedTask(t, poster, worker, "task-1", 300, time.Unix(2000, 0))

	svcErr := r.court.FileDispute(context.Background(), "task-1", poster.id, worker.id, "again", "esc-x", time.Unix(3000, 0))
	if svcErr == nil || svcErr.Code != "DISPUTE_ALREADY_EXISTS" {
		t.Fatalf("expected DISPUTE_ALREADY_EXISTS, got %v", svcErr)
	}
}

func TestSubmitRebuttal_LengthValidation(t *testing.T) {
	r := newTestRig(t, []Judge{refjudge.New("j1")})
	poster := r.registerAgent(t, "poster", 1000)
	worker := r.registerAgent(t, "worker", 0)
	_, dispute := r.disputedTask(t, poster, worker, "task-1", 300, time.Unix(2000, 0))

	_, svcErr := r.court.SubmitRebuttal(context.Background(), dispute.DisputeID, "", time.Unix(3000, 0))
	if svcErr == nil {
		t.Fatal("expected rejection of empty rebuttal")
	}
}

func TestSubmitRebuttal_AlreadySubmittedRejected(t *testing.T) {
	r := newTestRig(t, []Judge{refjudge.New("j1")})
	poster := r.registerAgent(t, "poster", 1000)
	worker := r.registerAgent(t, "worker", 0)
	_, dispute := r.disputedTask(t, poster, worker, "task-1", 300, time.Unix(2000, 0))

	if _, svcErr := r.court.SubmitRebuttal(context.Background(), dispute.DisputeID, "I delivered everything asked", time.Unix(3000, 0)); svcErr != nil {
		t.Fatalf("SubmitRebuttal: %v", svcErr)
	}
	_, svcErr := r.court.SubmitRebuttal(context.Background(), dispute.DisputeID, "again", time.Unix(3001, 0))
	if svcErr == nil || svcErr.Code != "REBUTTAL_ALREADY_SUBMITTED" {
		t.Fatalf("expected REBUTTAL_ALREADY_SUBMITTED, got %v", svcErr)
	}
}

func TestRule_HappyPath(t *testing.T) {
	r := newTestRig(t, []Judge{refjudge.New("j1"), refjudge.New("j2"), refjudge.New("j3")})
	poster := r.registerAgent(t, "poster", 1000)
	worker := r.registerAgent(t, "worker", 0)
	_, dispute := r.disputedTask(t, poster, worker, "task-1", 300, time.Unix(2000, 0))

	if _, svcErr := r.court.SubmitRebuttal(context.Background(), dispute.DisputeID, "I delivered a complete, tested, documented widget on time", time.Unix(3000, 0)); svcErr != nil {
		t.Fatalf("SubmitRebuttal: %v", svcErr)
	}

	ruled, svcErr := r.court.Rule(context.Background(), dispute.DisputeID, time.Unix(4000, 0))
	if svcErr != nil {
		t.Fatalf("Rule: %v", svcErr)
	}
	if ruled.Status != StatusRuled {
		t.Fatalf("status = %s, want ruled", ruled.Status)
	}
	if ruled.WorkerPct == nil {
		t.Fatal("expected worker_pct to be set")
	}
	if len(ruled.Votes) != 3 {
		t.Fatalf("expected 3 votes, got %d", len(ruled.Votes))
	}
	if ruled.RulingSummary == "" {
		t.Fatal("expected a non-empty ruling summary")
	}

	task, svcErr := r.board.GetTaskRaw("task-1")
	if svcErr != nil {
		t.Fatalf("GetTaskRaw: %v", svcErr)
	}
	if task.Status != taskboard.StatusRuled {
		t.Fatalf("task status = %s, want ruled", task.Status)
	}

	workerAccount, svcErr := r.ledger.GetAccount(worker.id)
	if svcErr != nil {
		t.Fatalf("GetAccount(worker): %v", svcErr)
	}
	posterAccount, svcErr := r.ledger.GetAccount(poster.id)
	if svcErr != nil {
		t.Fatalf("GetAccount(poster): %v", svcErr)
	}
	if workerAccount.Balance+posterAccount.Balance != 1000 {
		t.Fatalf("split does not conserve total: worker=%d poster=%d", workerAccount.Balance, posterAccount.Balance)
	}

	feedback, svcErr := r.reputation.ListForTask("task-1", "platform-notary")
	if svcErr != nil {
		t.Fatalf("ListForTask: %v", svcErr)
	}
	if len(feedback) != 2 {
		t.Fatalf("expected 2 feedback rows, got %d", len(feedback))
	}
}

func TestRule_JudgeFailureRollsBack(t *testing.T) {
	r := newTestRig(t, []Judge{refjudge.New("j1"), &failingJudge{id: "j2"}, refjudge.New("j3")})
	poster := r.registerAgent(t, "poster", 1000)
	worker := r.registerAgent(t, "worker", 0)
	_, dispute := r.disputedTask(t, poster, worker, "task-1", 300, time.Unix(2000, 0))
	if _, svcErr := r.court.SubmitRebuttal(context.Background(), dispute.DisputeID, "I delivered everything asked for", time.Unix(3000, 0)); svcErr != nil {
		t.Fatalf("SubmitRebuttal: %v", svcErr)
	}

	_, svcErr := r.court.Rule(context.Background(), dispute.DisputeID, time.Unix(4000, 0))
	if svcErr == nil || svcErr.Code != "JUDGE_UNAVAILABLE" {
		t.Fatalf("expected JUDGE_UNAVAILABLE, got %v", svcErr)
	}

	rolledBack, svcErr := r.court.GetDispute(dispute.DisputeID)
	if svcErr != nil {
		t.Fatalf("GetDispute: %v", svcErr)
	}
	if rolledBack.Status != StatusRebuttalPending {
		t.Fatalf("status = %s, want rebuttal_pending after rollback", rolledBack.Status)
	}

	// Escrow must be untouched: no split occurred.
	task, svcErr := r.board.GetTaskRaw("task-1")
	if svcErr != nil {
		t.Fatalf("GetTaskRaw: %v", svcErr)
	}
	if task.Status != taskboard.StatusDisputed {
		t.Fatalf("task status = %s, want disputed (unchanged)", task.Status)
	}
}

func TestRule_WrongStatusRejected(t *testing.T) {
	r := newTestRig(t, []Judge{refjudge.New("j1")})
	poster := r.registerAgent(t, "poster", 1000)
	worker := r.registerAgent(t, "worker", 0)
	_, dispute := r.disputedTask(t, poster, worker, "task-1", 300, time.Unix(2000, 0))
	if _, svcErr := r.court.SubmitRebuttal(context.Background(), dispute.DisputeID, "full delivery, on time, as specified", time.Unix(3000, 0)); svcErr != nil {
		t.Fatalf("SubmitRebuttal: %v", svcErr)
	}
	if _, svcErr := r.court.Rule(context.Background(), dispute.DisputeID, time.Unix(4000, 0)); svcErr != nil {
		t.Fatalf("Rule: %v", svcErr)
	}

	_, svcErr := r.court.Rule(context.Background(), dispute.DisputeID, time.Unix(5000, 0))
	if svcErr == nil || svcErr.Code != "INVALID_DISPUTE_STATUS" {
		t.Fatalf("expected INVALID_DISPUTE_STATUS on re-ruling, got %v", svcErr)
	}
}
