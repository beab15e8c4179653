package taskboard

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/store"
)

// AcceptBid implements accept_bid(task_id, bid_id, poster_signed).
// callerID must be the task's poster; status must be open; bid must
// belong to the task. Flips exactly that bid's accepted flag alongside
// the task transition, in one write.
func (b *Board) AcceptBid(ctx context.Context, taskID, bidID, callerID string, now time.Time) (Task, *apperrors.ServiceError) {
	task, svcErr := b.GetTask(ctx, taskID, now)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if callerID != task.PosterID {
		return Task{}, apperrors.AgentForbidden("only the poster may accept a bid")
	}
	if task.Status != StatusOpen {
		return Task{}, apperrors.InvalidTaskStatus(taskID, string(task.Status), string(StatusOpen))
	}

	bid, svcErr := b.GetBid(bidID)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if bid.TaskID != taskID {
		return Task{}, apperrors.BidNotFound(bidID)
	}

	var result Task
	txErr := b.coordinator.Execute(ctx, store.BucketTasks, func(tx *bolt.Tx) error {
		var current Task
		found, err := store.GetJSON(tx, store.BucketTasks, taskID, &current)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.TaskNotFound(taskID)
		}
		if current.Status != StatusOpen {
			return apperrors.InvalidTaskStatus(taskID, string(current.Status), string(StatusOpen))
		}

		var acceptedBid Bid
		found, err = store.GetJSON(tx, store.BucketBids, bidID, &acceptedBid)
		if err != nil {
			return err
		}
		if !found || acceptedBid.TaskID != taskID {
			return apperrors.BidNotFound(bidID)
		}
		acceptedBid.Accepted = true
		if err := store.PutJSON(tx, store.BucketBids, bidID, acceptedBid); err != nil {
			return err
		}

		current.Status = StatusAccepted
		current.WorkerID = acceptedBid.BidderID
		current.AcceptedBidID = bidID
		current.AcceptedAt = now
		if err := store.PutJSON(tx, store.BucketTasks, taskID, current); err != nil {
			return err
		}
		if _, err := events.Append(tx, "taskboard", "task.accepted", taskID, current.WorkerID,
			"bid accepted", map[string]interface{}{"bid_id": bidID}, now); err != nil {
			return err
		}
		result = current
		return nil
	})
	if txErr != nil {
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return Task{}, svcErr
		}
		return Task{}, apperrors.Internal("failed to accept bid", txErr)
	}
	return result, nil
}

// SubmitWork implements submit_work(task_id, worker_signed).
func (b *Board) SubmitWork(ctx context.Context, taskID, callerID string, now time.Time) (Task, *apperrors.ServiceError) {
	task, svcErr := b.GetTask(ctx, taskID, now)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if callerID != task.WorkerID {
		return Task{}, apperrors.AgentForbidden("only the assigned worker may submit work")
	}
	if task.Status != StatusAccepted {
		return Task{}, apperrors.InvalidTaskStatus(taskID, string(task.Status), string(StatusAccepted))
	}
	_, result, svcErr := b.guardedTransition(ctx, taskID, StatusAccepted, StatusSubmitted, "task.submitted", now, func(t *Task) { t.SubmittedAt = now })
	if svcErr != nil {
		return Task{}, svcErr
	}
	return result, nil
}

// Approve implements approve(task_id, poster_signed): releases escrow to
// the worker.
func (b *Board) Approve(ctx context.Context, taskID, callerID string, now time.Time) (Task, *apperrors.ServiceError) {
	task, svcErr := b.GetTask(ctx, taskID, now)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if callerID != task.PosterID {
		return Task{}, apperrors.AgentForbidden("only the poster may approve")
	}
	if task.Status != StatusSubmitted {
		return Task{}, apperrors.InvalidTaskStatus(taskID, string(task.Status), string(StatusSubmitted))
	}
	return b.approveAndRelease(ctx, task, "task.approved", now)
}

// Cancel implements cancel(task_id, poster_signed): only while open,
// releases escrow back to the poster.
func (b *Board) Cancel(ctx context.Context, taskID, callerID string, now time.Time) (Task, *apperrors.ServiceError) {
	task, svcErr := b.GetTask(ctx, taskID, now)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if callerID != task.PosterID {
		return Task{}, apperrors.AgentForbidden("only the poster may cancel")
	}
	if task.Status != StatusOpen {
		return Task{}, apperrors.InvalidTaskStatus(taskID, string(task.Status), string(StatusOpen))
	}
	transitioned, updated, svcErr := b.guardedTransition(ctx, taskID, StatusOpen, StatusCancelled, "task.cancelled", now, nil)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if !transitioned {
		return b.GetTaskRaw(taskID)
	}
	if _, svcErr := b.ledger.Release(ctx, updated.EscrowID, updated.PosterID, now); svcErr != nil {
		return updated, svcErr
	}
	return updated, nil
}

// Dispute implements dispute(task_id, poster_signed): files a Court
// dispute and transitions to disputed ONLY if Court creation succeeds.
// If Court is unreachable, the task stays in submitted and the caller
// sees COURT_UNAVAILABLE.
func (b *Board) Dispute(ctx context.Context, taskID, callerID, claim string, now time.Time) (Task, *apperrors.ServiceError) {
	task, svcErr := b.GetTask(ctx, taskID, now)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if callerID != task.PosterID {
		return Task{}, apperrors.AgentForbidden("only the poster may file a dispute")
	}
	if task.Status != StatusSubmitted {
		return Task{}, apperrors.InvalidTaskStatus(taskID, string(task.Status), string(StatusSubmitted))
	}
	if b.court == nil {
		return Task{}, apperrors.CourtUnavailable(nil)
	}
	if svcErr := b.court.FileDispute(ctx, taskID, task.PosterID, task.WorkerID, claim, task.EscrowID, now); svcErr != nil {
		return Task{}, svcErr
	}

	_, result, svcErr := b.guardedTransition(ctx, taskID, StatusSubmitted, StatusDisputed, "task.disputed", now, nil)
	if svcErr != nil {
		return Task{}, svcErr
	}
	return result, nil
}

// RecordRuling implements the Court's final callback (§4.4 step 9):
// transitions the task to ruled. Only the Court should call this; the
// HTTP boundary does not expose it directly.
func (b *Board) RecordRuling(ctx context.Context, taskID string, now time.Time) (Task, *apperrors.ServiceError) {
	_, result, svcErr := b.guardedTransition(ctx, taskID, StatusDisputed, StatusRuled, "task.ruled", now, func(t *Task) { t.ResolvedAt = now })
	if svcErr != nil {
		return Task{}, svcErr
	}
	return result, nil
}
