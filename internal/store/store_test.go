package store

import (
	"context"
	"time"

	"github.com/fieldworks/fieldsync/internal/types"
)

// mockStore is a compile-time check that the Store interface can be implemented.
type mockStore struct{}

var _ Store = (*mockStore)(nil)

func (m *mockStore) AddToSyncQueue(ctx context.Context, item *types.SyncQueueItem) error {
	return nil
}
func (m *mockStore) GetSyncQueue(ctx context.Context) ([]types.SyncQueueItem, error) {
	return nil, nil
}
func (m *mockStore) GetFailedItems(ctx context.Context) ([]types.SyncQueueItem, error) {
	return nil, nil
}
func (m *mockStore) GetSyncItem(ctx context.Context, id string) (*types.SyncQueueItem, error) {
	return nil, nil
}
func (m *mockStore) UpdateSyncStatus(ctx context.Context, id string, status types.SyncStatus, retryCount int, lastAttempt *time.Time, errMsg *string) error {
	return nil
}
func (m *mockStore) RemoveSyncItem(ctx context.Context, id string) error {
	return nil
}
func (m *mockStore) CountByStatus(ctx context.Context) (*types.QueueStatus, error) {
	return nil, nil
}
func (m *mockStore) ResetFailed(ctx context.Context) (int64, error) {
	return 0, nil
}
func (m *mockStore) ClearCompleted(ctx context.Context) (int64, error) {
	return 0, nil
}
func (m *mockStore) SaveDraft(ctx context.Context, id string, formData []byte) error {
	return nil
}
func (m *mockStore) GetDraft(ctx context.Context, id string) (*types.DraftSnapshot, error) {
	return nil, nil
}
func (m *mockStore) DeleteDraft(ctx context.Context, id string) error {
	return nil
}
func (m *mockStore) CacheReference(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return nil
}
func (m *mockStore) GetCachedReference(ctx context.Context, key string) ([]byte, error) {
	return nil, nil
}
func (m *mockStore) PurgeExpiredReferences(ctx context.Context) (int64, error) {
	return 0, nil
}
func (m *mockStore) SavePhoto(ctx context.Context, photo *types.OfflinePhoto) error {
	return nil
}
func (m *mockStore) GetPhotos(ctx context.Context, applicationID string) ([]types.OfflinePhoto, error) {
	return nil, nil
}
func (m *mockStore) GetReplayablePhotos(ctx context.Context) ([]types.OfflinePhoto, error) {
	return nil, nil
}
func (m *mockStore) UpdatePhotoStatus(ctx context.Context, id string, status types.PhotoStatus) error {
	return nil
}
func (m *mockStore) DeletePhoto(ctx context.Context, id string) error {
	return nil
}
func (m *mockStore) Close() error {
	return nil
}
