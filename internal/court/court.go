// Package court implements dispute filing, rebuttal, and the panel-of-
// judges ruling orchestration described in §4.4: the most delicate flow
// in the platform, since it must coordinate three independent
// downstream side effects (escrow split, two reputation submissions,
// task-board ruling record) without a shared transaction, and roll the
// dispute back to rebuttal_pending atomically if any of them fails.
package court

import (
	"context"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/ledger"
	"github.com/agentyard/exchange/internal/reputation"
	"github.com/agentyard/exchange/internal/store"
	"github.com/agentyard/exchange/internal/taskboard"
)

// Status enumerates dispute lifecycle states. Monotonic:
// rebuttal_pending -> judging -> ruled, with a rollback edge judging ->
// rebuttal_pending that exists only on the dispute entity, never on the
// task (§8 "Task monotonicity (except rollback)").
type Status string

const (
	StatusRebuttalPending Status = "rebuttal_pending"
	StatusJudging         Status = "judging"
	StatusRuled           Status = "ruled"
)

// JudgeVote is one judge's ruling. Unique on (dispute_id, judge_id);
// persisted only on a successful ruling.
type JudgeVote struct {
	JudgeID   string    `json:"judge_id"`
	WorkerPct int       `json:"worker_pct"`
	Reasoning string    `json:"reasoning"`
	VotedAt   time.Time `json:"voted_at"`
}

// Dispute is the court's primary record.
type Dispute struct {
	DisputeID        string      `json:"dispute_id"`
	TaskID           string      `json:"task_id"`
	EscrowID         string      `json:"escrow_id"`
	ClaimantID       string      `json:"claimant_id"`
	RespondentID     string      `json:"respondent_id"`
	Claim            string      `json:"claim"`
	Rebuttal         string      `json:"rebuttal,omitempty"`
	Status           Status      `json:"status"`
	RebuttalDeadline time.Time   `json:"rebuttal_deadline"`
	RebuttedAt       time.Time   `json:"rebutted_at,omitempty"`
	RuledAt          time.Time   `json:"ruled_at,omitempty"`
	WorkerPct        *int        `json:"worker_pct,omitempty"`
	RulingSummary    string      `json:"ruling_summary,omitempty"`
	Votes            []JudgeVote `json:"votes,omitempty"`
}

// BoardClient is the Court's view of the Task Board: fetching task_data
// for the judge input and recording the final ruling. A minimal
// interface kept here (rather than depending on *taskboard.Board
// directly) so tests can substitute a stub.
type BoardClient interface {
	GetTaskRaw(taskID string) (taskboard.Task, *apperrors.ServiceError)
	RecordRuling(ctx context.Context, taskID string, now time.Time) (taskboard.Task, *apperrors.ServiceError)
}

// Court is the dispute resolution component.
type Court struct {
	store          *store.Store
	coordinator    *store.Coordinator
	ledger         *ledger.Ledger
	reputation     *reputation.Store
	board          BoardClient
	judges         []Judge
	rebuttalWindow time.Duration
}

// New constructs a Court. judges must be an odd-sized, non-empty panel
// (validated at startup config time, not here, matching the teacher's
// separation of config validation from component construction).
func New(s *store.Store, coord *store.Coordinator, l *ledger.Ledger, rep *reputation.Store, board BoardClient, judges []Judge, rebuttalWindow time.Duration) *Court {
	return &Court{store: s, coordinator: coord, ledger: l, reputation: rep, board: board, judges: judges, rebuttalWindow: rebuttalWindow}
}

// FileDispute implements file_dispute (§4.4), invoked by the Task Board
// when a poster disputes a submitted task. Preconditions: no prior
// dispute for task_id.
func (c *Court) FileDispute(ctx context.Context, taskID, claimantID, respondentID, claim, escrowID string, now time.Time) *apperrors.ServiceError {
	existing, err := c.disputeExistsForTask(taskID)
	if err != nil {
		return apperrors.Internal("failed to check existing dispute", err)
	}
	if existing {
		return apperrors.DisputeAlreadyExists(taskID)
	}

	dispute := Dispute{
		DisputeID:        "disp-" + uuid.NewString(),
		TaskID:           taskID,
		EscrowID:         escrowID,
		ClaimantID:       claimantID,
		RespondentID:     respondentID,
		Claim:            claim,
		Status:           StatusRebuttalPending,
		RebuttalDeadline: now.Add(c.rebuttalWindow),
	}

	txErr := c.coordinator.Execute(ctx, store.BucketDisputes, func(tx *bolt.Tx) error {
		if err := store.PutJSON(tx, store.BucketDisputes, dispute.DisputeID, dispute); err != nil {
			return err
		}
		_, err := events.Append(tx, "court", "dispute.filed", taskID, claimantID,
			"dispute filed", map[string]interface{}{"dispute_id": dispute.DisputeID}, now)
		return err
	})
	if txErr != nil {
		return apperrors.Internal("failed to file dispute", txErr)
	}
	return nil
}

// SubmitRebuttal implements submit_rebuttal(dispute_id, rebuttal_text).
func (c *Court) SubmitRebuttal(ctx context.Context, disputeID, rebuttalText string, now time.Time) (Dispute, *apperrors.ServiceError) {
	if len(rebuttalText) < 1 || len(rebuttalText) > 10000 {
		return Dispute{}, apperrors.InvalidPayload("rebuttal must be 1..10000 characters")
	}

	dispute, svcErr := c.GetDispute(disputeID)
	if svcErr != nil {
		return Dispute{}, svcErr
	}
	if dispute.Status != StatusRebuttalPending {
		return Dispute{}, apperrors.InvalidDisputeStatus(disputeID, string(dispute.Status), string(StatusRebuttalPending))
	}
	if dispute.Rebuttal != "" {
		return Dispute{}, apperrors.RebuttalAlreadySubmitted(disputeID)
	}

	var result Dispute
	txErr := c.coordinator.Execute(ctx, store.BucketDisputes, func(tx *bolt.Tx) error {
		var current Dispute
		found, err := store.GetJSON(tx, store.BucketDisputes, disputeID, &current)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.DisputeNotFound(disputeID)
		}
		if current.Status != StatusRebuttalPending {
			return apperrors.InvalidDisputeStatus(disputeID, string(current.Status), string(StatusRebuttalPending))
		}
		if current.Rebuttal != "" {
			return apperrors.RebuttalAlreadySubmitted(disputeID)
		}
		current.Rebuttal = rebuttalText
		current.RebuttedAt = now
		if err := store.PutJSON(tx, store.BucketDisputes, disputeID, current); err != nil {
			return err
		}
		if _, err := events.Append(tx, "court", "dispute.rebutted", current.TaskID, "",
			"rebuttal submitted", map[string]interface{}{"dispute_id": disputeID}, now); err != nil {
			return err
		}
		result = current
		return nil
	})
	if txErr != nil {
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return Dispute{}, svcErr
		}
		return Dispute{}, apperrors.Internal("failed to submit rebuttal", txErr)
	}
	return result, nil
}

// GetDispute reads a single dispute.
func (c *Court) GetDispute(disputeID string) (Dispute, *apperrors.ServiceError) {
	var d Dispute
	var found bool
	err := c.store.View(func(tx *bolt.Tx) error {
		var err error
		found, err = store.GetJSON(tx, store.BucketDisputes, disputeID, &d)
		return err
	})
	if err != nil {
		return Dispute{}, apperrors.Internal("failed to read dispute", err)
	}
	if !found {
		return Dispute{}, apperrors.DisputeNotFound(disputeID)
	}
	return d, nil
}

func (c *Court) disputeExistsForTask(taskID string) (bool, error) {
	found := false
	err := c.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketDisputes, func(_ string, raw []byte) error {
			if found {
				return nil
			}
			var d Dispute
			if err := decodeDispute(raw, &d); err != nil {
				return err
			}
			if d.TaskID == taskID {
				found = true
			}
			return nil
		})
	})
	return found, err
}

// disputeByTaskID finds the (at most one, per disputeExistsForTask's
// invariant) dispute filed for a task.
func (c *Court) disputeByTaskID(taskID string) (Dispute, *apperrors.ServiceError) {
	var result Dispute
	var found bool
	err := c.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketDisputes, func(_ string, raw []byte) error {
			if found {
				return nil
			}
			var d Dispute
			if err := decodeDispute(raw, &d); err != nil {
				return err
			}
			if d.TaskID == taskID {
				found = true
				result = d
			}
			return nil
		})
	})
	if err != nil {
		return Dispute{}, apperrors.Internal("failed to read dispute", err)
	}
	if !found {
		return Dispute{}, apperrors.DisputeNotFound(taskID)
	}
	return result, nil
}
