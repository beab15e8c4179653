package taskboard

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/store"
)

// applyLazyDeadline evaluates, in order, bidding -> execution -> review
// deadlines and applies at most one transition (§4.3 "Lazy deadlines").
// The transition itself is a guarded write so that two concurrent
// readers observing the same expiry commit exactly one transition; the
// loser simply re-reads the now-updated row.
func (b *Board) applyLazyDeadline(ctx context.Context, task Task, now time.Time) (Task, *apperrors.ServiceError) {
	switch task.Status {
	case StatusOpen:
		if !task.Deadlines.Bidding.IsZero() && now.After(task.Deadlines.Bidding) {
			hasBids, err := b.taskHasAnyBid(task.TaskID)
			if err != nil {
				return Task{}, apperrors.Internal("failed to check bids for deadline", err)
			}
			if !hasBids {
				return b.expireAndRelease(ctx, task, StatusOpen, "task.expired", now)
			}
		}
	case StatusAccepted:
		if !task.Deadlines.Execution.IsZero() && now.After(task.Deadlines.Execution) {
			return b.expireAndRelease(ctx, task, StatusAccepted, "task.expired", now)
		}
	case StatusSubmitted:
		if !task.Deadlines.Review.IsZero() && now.After(task.Deadlines.Review) {
			return b.approveAndRelease(ctx, task, "task.auto_approved", now)
		}
	}
	return task, nil
}

// expireAndRelease guards on fromStatus, flips to expired, and releases
// escrow back to the poster. Used by both the bidding-deadline and
// execution-deadline paths.
func (b *Board) expireAndRelease(ctx context.Context, task Task, fromStatus Status, eventType string, now time.Time) (Task, *apperrors.ServiceError) {
	transitioned, updated, svcErr := b.guardedTransition(ctx, task.TaskID, fromStatus, StatusExpired, eventType, now, nil)
	if svcErr != nil {
		return Task{}, svcErr
	}
	if !transitioned {
		// Another reader already committed this transition; re-read.
		return b.GetTaskRaw(task.TaskID)
	}
	if _, svcErr := b.ledger.Release(ctx, updated.EscrowID, updated.PosterID, now); svcErr != nil {
		return updated, svcErr
	}
	return updated, nil
}

// approveAndRelease guards on submitted, flips to approved, and releases
// escrow to the worker.
func (b *Board) approveAndRelease(ctx context.Context, task Task, eventType string, now time.Time) (Task, *apperrors.ServiceError) {
	transitioned, updated, svcErr := b.guardedTransition(ctx, task.TaskID, StatusSubmitted, StatusApproved, eventType, now, func(t *Task) { t.ResolvedAt = now })
	if svcErr != nil {
		return Task{}, svcErr
	}
	if !transitioned {
		return b.GetTaskRaw(task.TaskID)
	}
	if _, svcErr := b.ledger.Release(ctx, updated.EscrowID, updated.WorkerID, now); svcErr != nil {
		return updated, svcErr
	}
	return updated, nil
}

// guardedTransition re-reads the task inside a coordinator write
// transaction, checks status == fromStatus (the "WHERE status = ..."
// guard), and if so applies mutate (may be nil) before persisting the
// new status and emitting eventType. Returns transitioned=false with no
// error when the guard fails to match -- that is the expected outcome
// for the loser of a race, not a failure.
func (b *Board) guardedTransition(ctx context.Context, taskID string, fromStatus, toStatus Status, eventType string, now time.Time, mutate func(*Task)) (bool, Task, *apperrors.ServiceError) {
	var transitioned bool
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
		if current.Status != fromStatus {
			result = current
			return nil
		}
		current.Status = toStatus
		if mutate != nil {
			mutate(&current)
		}
		if err := store.PutJSON(tx, store.BucketTasks, taskID, current); err != nil {
			return err
		}
		if _, err := events.Append(tx, "taskboard", eventType, taskID, "", eventType, map[string]interface{}{"from": string(fromStatus), "to": string(toStatus)}, now); err != nil {
			return err
		}
		transitioned = true
		result = current
		return nil
	})
	if txErr != nil {
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return false, Task{}, svcErr
		}
		return false, Task{}, apperrors.Internal("failed to transition task", txErr)
	}
	return transitioned, result, nil
}

func (b *Board) taskHasAnyBid(taskID string) (bool, error) {
	found := false
	err := b.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketBids, func(_ string, raw []byte) error {
			if found {
				return nil
			}
			var bid Bid
			if err := decodeBid(raw, &bid); err != nil {
				return err
			}
			if bid.TaskID == taskID {
				found = true
			}
			return nil
		})
	})
	return found, err
}
