// Package reputation implements sealed feedback with pairwise
// revelation (§4.5): at most one feedback row per (task_id, from_id),
// held invisible until the second party on the same task submits
// theirs, at which point both rows flip visible in a single write.
package reputation

import (
	"context"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/store"
)

// Role and Category and Rating are closed enumerations per §3.
type Role string
type Category string
type Rating string

const (
	RolePoster Role = "poster"
	RoleWorker Role = "worker"

	CategorySpecQuality     Category = "spec_quality"
	CategoryDeliveryQuality Category = "delivery_quality"

	RatingDissatisfied       Rating = "dissatisfied"
	RatingSatisfied          Rating = "satisfied"
	RatingExtremelySatisfied Rating = "extremely_satisfied"
)

// Feedback is one rating from one party on one task.
type Feedback struct {
	FeedbackID  string    `json:"feedback_id"`
	TaskID      string    `json:"task_id"`
	FromID      string    `json:"from_id"`
	ToID        string    `json:"to_id"`
	Role        Role      `json:"role"`
	Category    Category  `json:"category"`
	Rating      Rating    `json:"rating"`
	Comment     string    `json:"comment"`
	SubmittedAt time.Time `json:"submitted_at"`
	Visible     bool      `json:"visible"`
}

// Store is the reputation component.
type Store struct {
	store       *store.Store
	coordinator *store.Coordinator
}

func New(s *store.Store, coord *store.Coordinator) *Store {
	return &Store{store: s, coordinator: coord}
}

// Submit implements submit_feedback. Rejects a duplicate (task_id,
// from_id). When this submission is the second feedback row recorded
// for task_id, both the new row and the other party's existing row flip
// visible=true in the same transaction and each emits feedback.revealed.
func (s *Store) Submit(ctx context.Context, taskID, fromID, toID string, role Role, category Category, rating Rating, comment string, now time.Time) (Feedback, *apperrors.ServiceError) {
	fb := Feedback{
		FeedbackID:  "fb-" + uuid.NewString(),
		TaskID:      taskID,
		FromID:      fromID,
		ToID:        toID,
		Role:        role,
		Category:    category,
		Rating:      rating,
		Comment:     comment,
		SubmittedAt: now,
		Visible:     false,
	}

	var result Feedback
	txErr := s.coordinator.Execute(ctx, store.BucketFeedback, func(tx *bolt.Tx) error {
		var other *Feedback
		duplicate := false
		if err := store.ForEach(tx, store.BucketFeedback, func(key string, raw []byte) error {
			if duplicate {
				return nil
			}
			var existing Feedback
			if err := decodeFeedback(raw, &existing); err != nil {
				return err
			}
			if existing.TaskID != taskID {
				return nil
			}
			if existing.FromID == fromID {
				duplicate = true
				return nil
			}
			other = &existing
			return nil
		}); err != nil {
			return err
		}
		if duplicate {
			return apperrors.FeedbackAlreadySubmitted(taskID, fromID)
		}

		if other != nil {
			fb.Visible = true
			other.Visible = true
			if err := store.PutJSON(tx, store.BucketFeedback, other.FeedbackID, *other); err != nil {
				return err
			}
			if _, err := events.Append(tx, "reputation", "feedback.revealed", taskID, other.FromID,
				"feedback revealed", map[string]interface{}{"feedback_id": other.FeedbackID}, now); err != nil {
				return err
			}
		}

		if err := store.PutJSON(tx, store.BucketFeedback, fb.FeedbackID, fb); err != nil {
			return err
		}
		eventType := "feedback.submitted"
		if fb.Visible {
			eventType = "feedback.revealed"
		}
		if _, err := events.Append(tx, "reputation", eventType, taskID, fromID,
			"feedback "+eventType, map[string]interface{}{"feedback_id": fb.FeedbackID}, now); err != nil {
			return err
		}
		result = fb
		return nil
	})
	if txErr != nil {
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return Feedback{}, svcErr
		}
		return Feedback{}, apperrors.Internal("failed to submit feedback", txErr)
	}
	return result, nil
}

// ListForTask returns feedback for taskID visible to callerID: always
// feedback the caller authored, plus any row with visible=true.
func (s *Store) ListForTask(taskID, callerID string) ([]Feedback, *apperrors.ServiceError) {
	var out []Feedback
	err := s.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketFeedback, func(_ string, raw []byte) error {
			var fb Feedback
			if err := decodeFeedback(raw, &fb); err != nil {
				return err
			}
			if fb.TaskID != taskID {
				return nil
			}
			if fb.Visible || fb.FromID == callerID {
				out = append(out, fb)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Internal("failed to list feedback", err)
	}
	return out, nil
}
