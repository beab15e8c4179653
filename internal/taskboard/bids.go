package taskboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/store"
)

// SubmitBid implements submit_bid(task_id, proposal, bidder_signed).
// Rejects if the task isn't open, if the bidding deadline has passed
// (lazy check via GetTask before the write), or if (task_id, bidder_id)
// already has a bid. The uniqueness guard is re-checked inside the write
// transaction so concurrent duplicate submissions yield exactly one 2xx.
func (b *Board) SubmitBid(ctx context.Context, taskID, bidderID, proposal string, now time.Time) (Bid, *apperrors.ServiceError) {
	task, svcErr := b.GetTask(ctx, taskID, now)
	if svcErr != nil {
		return Bid{}, svcErr
	}
	if task.Status != StatusOpen {
		return Bid{}, apperrors.InvalidTaskStatus(taskID, string(task.Status), string(StatusOpen))
	}
	if !task.Deadlines.Bidding.IsZero() && now.After(task.Deadlines.Bidding) {
		return Bid{}, apperrors.DeadlinePassed(taskID)
	}

	bid := Bid{
		BidID:       "bid-" + uuid.NewString(),
		TaskID:      taskID,
		BidderID:    bidderID,
		Proposal:    proposal,
		SubmittedAt: now,
	}

	txErr := b.coordinator.Execute(ctx, store.BucketBids, func(tx *bolt.Tx) error {
		duplicate := false
		if err := store.ForEach(tx, store.BucketBids, func(_ string, raw []byte) error {
			if duplicate {
				return nil
			}
			var existing Bid
			if err := decodeBid(raw, &existing); err != nil {
				return err
			}
			if existing.TaskID == taskID && existing.BidderID == bidderID {
				duplicate = true
			}
			return nil
		}); err != nil {
			return err
		}
		if duplicate {
			return apperrors.DuplicateBid(taskID, bidderID)
		}

		if err := store.PutJSON(tx, store.BucketBids, bid.BidID, bid); err != nil {
			return err
		}
		_, err := events.Append(tx, "taskboard", "bid.submitted", taskID, bidderID,
			"bid submitted", map[string]interface{}{"bid_id": bid.BidID}, now)
		return err
	})
	if txErr != nil {
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return Bid{}, svcErr
		}
		return Bid{}, apperrors.Internal("failed to submit bid", txErr)
	}
	return bid, nil
}

// GetBid reads a single bid.
func (b *Board) GetBid(bidID string) (Bid, *apperrors.ServiceError) {
	var bid Bid
	var found bool
	err := b.store.View(func(tx *bolt.Tx) error {
		var err error
		found, err = store.GetJSON(tx, store.BucketBids, bidID, &bid)
		return err
	})
	if err != nil {
		return Bid{}, apperrors.Internal("failed to read bid", err)
	}
	if !found {
		return Bid{}, apperrors.BidNotFound(bidID)
	}
	return bid, nil
}

// ListBids implements bid visibility (§4.3): while the task is open,
// callerID must be the poster (sees all bids) or a bidder (sees only
// their own bid); once status leaves open, listings are public.
func (b *Board) ListBids(ctx context.Context, taskID, callerID string, now time.Time) ([]Bid, *apperrors.ServiceError) {
	task, svcErr := b.GetTask(ctx, taskID, now)
	if svcErr != nil {
		return nil, svcErr
	}

	var all []Bid
	err := b.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketBids, func(_ string, raw []byte) error {
			var bid Bid
			if err := decodeBid(raw, &bid); err != nil {
				return err
			}
			if bid.TaskID == taskID {
				all = append(all, bid)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Internal("failed to list bids", err)
	}

	if task.Status != StatusOpen {
		return all, nil
	}
	if callerID == task.PosterID {
		return all, nil
	}
	own := make([]Bid, 0, 1)
	for _, bid := range all {
		if bid.BidderID == callerID {
			own = append(own, bid)
		}
	}
	return own, nil
}
