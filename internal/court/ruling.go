package court

import (
	"context"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/reputation"
	"github.com/agentyard/exchange/internal/store"
)

// rulingSeparator joins judges' reasonings deterministically (§4.4 step 6).
const rulingSeparator = " | "

// Rule runs the full ruling orchestration (§4.4), the most delicate flow
// in the platform: judging is committed first, each judge is invoked
// sequentially, and the three downstream side effects (escrow split, two
// reputation submissions, board ruling record) must all succeed before
// any vote is persisted. Any failure from judging onward rolls the
// dispute back to rebuttal_pending and surfaces a 502-class error.
func (c *Court) Rule(ctx context.Context, disputeID string, now time.Time) (Dispute, *apperrors.ServiceError) {
	dispute, svcErr := c.GetDispute(disputeID)
	if svcErr != nil {
		return Dispute{}, svcErr
	}
	if dispute.Status != StatusRebuttalPending {
		return Dispute{}, apperrors.InvalidDisputeStatus(disputeID, string(dispute.Status), string(StatusRebuttalPending))
	}
	if !dispute.RuledAt.IsZero() {
		return Dispute{}, apperrors.DisputeAlreadyRuled(disputeID)
	}

	if _, svcErr := c.transitionStatus(ctx, disputeID, StatusRebuttalPending, StatusJudging, "dispute.judging", now); svcErr != nil {
		return Dispute{}, svcErr
	}

	task, svcErr := c.board.GetTaskRaw(dispute.TaskID)
	if svcErr != nil {
		c.rollback(ctx, disputeID, now)
		return Dispute{}, apperrors.BoardUnavailable(svcErr)
	}

	input := JudgeInput{
		TaskSpec:  task.Spec,
		Claim:     dispute.Claim,
		Rebuttal:  dispute.Rebuttal,
		TaskTitle: task.Title,
		Reward:    task.Reward,
	}

	votes := make([]JudgeVote, 0, len(c.judges))
	for _, judge := range c.judges {
		vote, err := judge.Vote(ctx, input)
		if err != nil {
			c.rollback(ctx, disputeID, now)
			return Dispute{}, apperrors.JudgeUnavailable(err)
		}
		vote.JudgeID = judge.JudgeID()
		vote.VotedAt = now
		votes = append(votes, vote)
	}

	workerPct := medianWorkerPct(votes)
	summary := composeSummary(votes)

	if _, svcErr := c.ledger.Split(ctx, dispute.EscrowID, task.WorkerID, task.PosterID, workerPct, now); svcErr != nil {
		c.rollback(ctx, disputeID, now)
		return Dispute{}, apperrors.LedgerUnavailable(svcErr)
	}

	posterRating, workerRating := deriveRatings(workerPct)
	if _, svcErr := c.reputation.Submit(ctx, dispute.TaskID, "platform-notary", task.PosterID,
		reputation.RolePoster, reputation.CategorySpecQuality, posterRating, summary, now); svcErr != nil {
		c.rollback(ctx, disputeID, now)
		return Dispute{}, apperrors.ReputationUnavailable(svcErr)
	}
	if _, svcErr := c.reputation.Submit(ctx, dispute.TaskID, "platform-notary", task.WorkerID,
		reputation.RoleWorker, reputation.CategoryDeliveryQuality, workerRating, summary, now); svcErr != nil {
		c.rollback(ctx, disputeID, now)
		return Dispute{}, apperrors.ReputationUnavailable(svcErr)
	}

	if _, svcErr := c.board.RecordRuling(ctx, dispute.TaskID, now); svcErr != nil {
		c.rollback(ctx, disputeID, now)
		return Dispute{}, apperrors.BoardUnavailable(svcErr)
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
		current.Status = StatusRuled
		current.WorkerPct = &workerPct
		current.RulingSummary = summary
		current.RuledAt = now
		current.Votes = votes
		if err := store.PutJSON(tx, store.BucketDisputes, disputeID, current); err != nil {
			return err
		}
		for _, v := range votes {
			voteKey := disputeID + ":" + v.JudgeID
			if err := store.PutJSON(tx, store.BucketVotes, voteKey, v); err != nil {
				return err
			}
		}
		if _, err := events.Append(tx, "court", "ruling.delivered", dispute.TaskID, "",
			"ruling delivered", map[string]interface{}{"dispute_id": disputeID, "worker_pct": workerPct}, now); err != nil {
			return err
		}
		result = current
		return nil
	})
	if txErr != nil {
		return Dispute{}, apperrors.Internal("failed to persist ruling", txErr)
	}
	return result, nil
}

// medianWorkerPct returns the middle element of the sorted votes. Panel
// size is always odd (validated at config time), so a tie cannot occur.
func medianWorkerPct(votes []JudgeVote) int {
	pct := make([]int, len(votes))
	for i, v := range votes {
		pct[i] = v.WorkerPct
	}
	sort.Ints(pct)
	return pct[len(pct)/2]
}

func composeSummary(votes []JudgeVote) string {
	reasonings := make([]string, len(votes))
	for i, v := range votes {
		reasonings[i] = v.Reasoning
	}
	return strings.Join(reasonings, rulingSeparator)
}

// deriveRatings implements §4.4 step 8's rating tables for the poster's
// spec-quality feedback and the worker's delivery-quality feedback.
func deriveRatings(workerPct int) (poster, worker reputation.Rating) {
	switch {
	case workerPct >= 80:
		// High worker_pct implies an ambiguous spec: the poster is
		// rated dissatisfied, the worker extremely_satisfied.
		return reputation.RatingDissatisfied, reputation.RatingExtremelySatisfied
	case workerPct >= 40:
		return reputation.RatingSatisfied, reputation.RatingSatisfied
	default:
		return reputation.RatingExtremelySatisfied, reputation.RatingDissatisfied
	}
}

// transitionStatus is a guarded single-field status write, used for the
// judging transition (and available generically for any dispute status
// move outside the final ruling write, which needs several fields at once).
func (c *Court) transitionStatus(ctx context.Context, disputeID string, fromStatus, toStatus Status, eventType string, now time.Time) (Dispute, *apperrors.ServiceError) {
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
		if current.Status != fromStatus {
			return apperrors.InvalidDisputeStatus(disputeID, string(current.Status), string(fromStatus))
		}
		current.Status = toStatus
		if err := store.PutJSON(tx, store.BucketDisputes, disputeID, current); err != nil {
			return err
		}
		if _, err := events.Append(tx, "court", eventType, current.TaskID, "",
			eventType, map[string]interface{}{"dispute_id": disputeID}, now); err != nil {
			return err
		}
		result = current
		return nil
	})
	if txErr != nil {
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return Dispute{}, svcErr
		}
		return Dispute{}, apperrors.Internal("failed to transition dispute", txErr)
	}
	return result, nil
}

// rollback reverts a judging dispute to rebuttal_pending in one
// committed write, emitting dispute.rollback. Errors are swallowed here
// deliberately: the caller already has the real failure to report, and a
// failed rollback write leaves the dispute stuck in judging, which is
// preferable to masking the original downstream error.
func (c *Court) rollback(ctx context.Context, disputeID string, now time.Time) {
	_ = c.coordinator.Execute(ctx, store.BucketDisputes, func(tx *bolt.Tx) error {
		var current Dispute
		found, err := store.GetJSON(tx, store.BucketDisputes, disputeID, &current)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		current.Status = StatusRebuttalPending
		if err := store.PutJSON(tx, store.BucketDisputes, disputeID, current); err != nil {
			return err
		}
		_, err = events.Append(tx, "court", "dispute.rollback", current.TaskID, "",
			"ruling rolled back", map[string]interface{}{"dispute_id": disputeID}, now)
		return err
	})
}
