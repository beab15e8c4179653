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

// UploadAsset records upload metadata atomically with an asset.uploaded
// event. Writer must be the assigned worker; task status must be
// accepted or submitted. The bytes themselves are opaque to the core --
// bytesRef is whatever reference the (out-of-scope) blob store assigned.
func (b *Board) UploadAsset(ctx context.Context, taskID, uploaderID, filename, contentType string, sizeBytes int64, bytesRef string, now time.Time) (Asset, *apperrors.ServiceError) {
	task, svcErr := b.GetTask(ctx, taskID, now)
	if svcErr != nil {
		return Asset{}, svcErr
	}
	if uploaderID != task.WorkerID {
		return Asset{}, apperrors.AgentForbidden("only the assigned worker may upload assets")
	}
	if task.Status != StatusAccepted && task.Status != StatusSubmitted {
		return Asset{}, apperrors.InvalidTaskStatus(taskID, string(task.Status), string(StatusAccepted)+" or "+string(StatusSubmitted))
	}

	asset := Asset{
		AssetID:     "asset-" + uuid.NewString(),
		TaskID:      taskID,
		UploaderID:  uploaderID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		UploadedAt:  now,
		BytesRef:    bytesRef,
	}

	txErr := b.coordinator.Execute(ctx, store.BucketAssets, func(tx *bolt.Tx) error {
		if err := store.PutJSON(tx, store.BucketAssets, asset.AssetID, asset); err != nil {
			return err
		}
		_, err := events.Append(tx, "taskboard", "asset.uploaded", taskID, uploaderID,
			"asset uploaded", map[string]interface{}{"asset_id": asset.AssetID, "filename": filename}, now)
		return err
	})
	if txErr != nil {
		return Asset{}, apperrors.Internal("failed to record asset", txErr)
	}
	return asset, nil
}

// ListAssets returns every asset uploaded against taskID.
func (b *Board) ListAssets(taskID string) ([]Asset, *apperrors.ServiceError) {
	var out []Asset
	err := b.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketAssets, func(_ string, raw []byte) error {
			var asset Asset
			if err := decodeAsset(raw, &asset); err != nil {
				return err
			}
			if asset.TaskID == taskID {
				out = append(out, asset)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Internal("failed to list assets", err)
	}
	return out, nil
}
