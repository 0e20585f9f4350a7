package store

import (
	"context"
	"time"

	"github.com/fieldworks/fieldsync/internal/types"
)

// Store defines the interface contract for the engine's durable local storage.
// Operations are single transactions; a failed transaction surfaces as an
// error to the caller and is never retried internally.
type Store interface {
	// Sync queue
	AddToSyncQueue(ctx context.Context, item *types.SyncQueueItem) error
	GetSyncQueue(ctx context.Context) ([]types.SyncQueueItem, error)
	GetFailedItems(ctx context.Context) ([]types.SyncQueueItem, error)
	GetSyncItem(ctx context.Context, id string) (*types.SyncQueueItem, error)
	UpdateSyncStatus(ctx context.Context, id string, status types.SyncStatus, retryCount int, lastAttempt *time.Time, errMsg *string) error
	RemoveSyncItem(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (*types.QueueStatus, error)
	ResetFailed(ctx context.Context) (int64, error)
	ClearCompleted(ctx context.Context) (int64, error)

	// Drafts
	SaveDraft(ctx context.Context, id string, formData []byte) error
	GetDraft(ctx context.Context, id string) (*types.DraftSnapshot, error)
	DeleteDraft(ctx context.Context, id string) error

	// Reference cache
	CacheReference(ctx context.Context, key string, data []byte, ttl time.Duration) error
	GetCachedReference(ctx context.Context, key string) ([]byte, error)
	PurgeExpiredReferences(ctx context.Context) (int64, error)

	// Photos
	SavePhoto(ctx context.Context, photo *types.OfflinePhoto) error
	GetPhotos(ctx context.Context, applicationID string) ([]types.OfflinePhoto, error)
	GetReplayablePhotos(ctx context.Context) ([]types.OfflinePhoto, error)
	UpdatePhotoStatus(ctx context.Context, id string, status types.PhotoStatus) error
	DeletePhoto(ctx context.Context, id string) error

	Close() error
}
