package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldworks/fieldsync/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed implementation of Store.
// It holds the four engine collections: sync queue, drafts, reference cache,
// and pending photos.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable pragmas for performance and safety
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	// Run goose migrations
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sync queue ---

// AddToSyncQueue persists a new queue item. The caller assigns the ID and
// initial status; the store is a dumb durable record of it.
func (s *SQLiteStore) AddToSyncQueue(ctx context.Context, item *types.SyncQueueItem) error {
	if item.ID == "" {
		return fmt.Errorf("%w: missing item id", ErrInvalidInput)
	}

	headers, err := json.Marshal(item.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, type, url, method, body, headers, status, retry_count, max_retries, created_at, last_attempt, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Type, item.URL, item.Method, nullableString(item.Body), string(headers),
		string(item.Status), item.RetryCount, item.MaxRetries,
		item.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTime(item.LastAttempt), nullableString(item.Error))
	if err != nil {
		return fmt.Errorf("insert sync item: %w", err)
	}

	return nil
}

// GetSyncQueue returns all pending items via the status index scan.
// Order is best-effort FIFO only; callers must not rely on strict insertion order.
func (s *SQLiteStore) GetSyncQueue(ctx context.Context) ([]types.SyncQueueItem, error) {
	return s.queryItems(ctx, `SELECT id, type, url, method, body, headers, status, retry_count, max_retries, created_at, last_attempt, error
		FROM sync_queue WHERE status = ?`, string(types.SyncPending))
}

// GetFailedItems returns all terminally failed items.
func (s *SQLiteStore) GetFailedItems(ctx context.Context) ([]types.SyncQueueItem, error) {
	return s.queryItems(ctx, `SELECT id, type, url, method, body, headers, status, retry_count, max_retries, created_at, last_attempt, error
		FROM sync_queue WHERE status = ?`, string(types.SyncFailed))
}

// GetSyncItem returns a single item by ID.
func (s *SQLiteStore) GetSyncItem(ctx context.Context, id string) (*types.SyncQueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, url, method, body, headers, status, retry_count, max_retries, created_at, last_attempt, error
		FROM sync_queue WHERE id = ?`, id)

	item, err := scanSyncItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync item: %w", err)
	}
	return item, nil
}

// UpdateSyncStatus updates the replay state of a queue item.
func (s *SQLiteStore) UpdateSyncStatus(ctx context.Context, id string, status types.SyncStatus, retryCount int, lastAttempt *time.Time, errMsg *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, retry_count = ?, last_attempt = ?, error = ? WHERE id = ?
	`, string(status), retryCount, nullableTime(lastAttempt), nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("update sync status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sync status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveSyncItem deletes a queue item. Used on successful replay; success
// leaves no residue in the store.
func (s *SQLiteStore) RemoveSyncItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove sync item: %w", err)
	}
	return nil
}

// CountByStatus returns the number of queue items in each status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (*types.QueueStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	var qs types.QueueStatus
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		switch types.SyncStatus(status) {
		case types.SyncPending:
			qs.Pending = count
		case types.SyncProcessing:
			qs.Processing = count
		case types.SyncFailed:
			qs.Failed = count
		case types.SyncCompleted:
			qs.Completed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	return &qs, nil
}

// ResetFailed moves every failed item back to pending and clears its error.
// Retry counters restart so the items regain a full retry budget.
func (s *SQLiteStore) ResetFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, retry_count = 0, error = NULL WHERE status = ?
	`, string(types.SyncPending), string(types.SyncFailed))
	if err != nil {
		return 0, fmt.Errorf("reset failed items: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted purges any stray completed rows. Successful replay deletes
// items directly, so this is housekeeping for rows left by interrupted passes.
func (s *SQLiteStore) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ?`, string(types.SyncCompleted))
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) queryItems(ctx context.Context, query string, args ...any) ([]types.SyncQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	var items []types.SyncQueueItem
	for rows.Next() {
		item, err := scanSyncItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}

	return items, nil
}

// scanSyncItem scans a row into a SyncQueueItem, handling nullable columns and
// the JSON headers map.
func scanSyncItem(scanner interface{ Scan(...any) error }) (*types.SyncQueueItem, error) {
	var item types.SyncQueueItem
	var body, lastAttempt, errMsg sql.NullString
	var headersJSON, status, createdAt string

	err := scanner.Scan(
		&item.ID,
		&item.Type,
		&item.URL,
		&item.Method,
		&body,
		&headersJSON,
		&status,
		&item.RetryCount,
		&item.MaxRetries,
		&createdAt,
		&lastAttempt,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	item.Status = types.SyncStatus(status)
	if body.Valid {
		item.Body = &body.String
	}
	if errMsg.Valid {
		item.Error = &errMsg.String
	}
	if err := json.Unmarshal([]byte(headersJSON), &item.Headers); err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}

	item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if lastAttempt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastAttempt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_attempt: %w", err)
		}
		item.LastAttempt = &t
	}

	return &item, nil
}

// --- Drafts ---

// SaveDraft upserts the draft for an application. Last write wins.
func (s *SQLiteStore) SaveDraft(ctx context.Context, id string, formData []byte) error {
	if id == "" {
		return fmt.Errorf("%w: missing draft id", ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, form_data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET form_data = excluded.form_data, updated_at = excluded.updated_at
	`, id, formData, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// GetDraft returns the draft for an application, or ErrNotFound.
func (s *SQLiteStore) GetDraft(ctx context.Context, id string) (*types.DraftSnapshot, error) {
	var draft types.DraftSnapshot
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `SELECT id, form_data, updated_at FROM drafts WHERE id = ?`, id).
		Scan(&draft.ID, &draft.FormData, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}

	draft.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &draft, nil
}

// DeleteDraft removes the draft after successful submission.
func (s *SQLiteStore) DeleteDraft(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// --- Reference cache ---

// CacheReference stores reference data under key with an absolute expiry.
func (s *SQLiteStore) CacheReference(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: missing cache key", ErrInvalidInput)
	}

	expiresAt := time.Now().Add(ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reference_cache (key, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at
	`, key, data, expiresAt)
	if err != nil {
		return fmt.Errorf("cache reference: %w", err)
	}
	return nil
}

// GetCachedReference returns the cached data for key, or ErrNotFound when the
// key is absent or expired. An expired entry is deleted opportunistically;
// failure of that cleanup never fails the read.
func (s *SQLiteStore) GetCachedReference(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var expiresAt int64

	err := s.db.QueryRowContext(ctx, `SELECT data, expires_at FROM reference_cache WHERE key = ?`, key).
		Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached reference: %w", err)
	}

	if expiresAt < time.Now().UnixMilli() {
		// Best-effort lazy eviction
		if _, err := s.db.ExecContext(ctx, `DELETE FROM reference_cache WHERE key = ?`, key); err != nil {
			slog.Warn("failed to evict expired reference entry",
				"key", key,
				"error", err,
				"component", "store",
			)
		}
		return nil, ErrNotFound
	}

	return data, nil
}

// PurgeExpiredReferences deletes every expired entry. Lazy read-side eviction
// remains the primary mechanism; this bounds growth of never-read entries.
func (s *SQLiteStore) PurgeExpiredReferences(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reference_cache WHERE expires_at < ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired references: %w", err)
	}
	return res.RowsAffected()
}

// --- Photos ---

// SavePhoto persists an offline capture with its metadata and GPS fix.
func (s *SQLiteStore) SavePhoto(ctx context.Context, photo *types.OfflinePhoto) error {
	if photo.ID == "" {
		return fmt.Errorf("%w: missing photo id", ErrInvalidInput)
	}

	var lat, lon any
	var gpsTime any
	if photo.GPS != nil {
		lat = photo.GPS.Latitude
		lon = photo.GPS.Longitude
		gpsTime = photo.GPS.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (id, application_id, document_type, blob, file_name, gps_latitude, gps_longitude, gps_timestamp, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, photo.ID, photo.ApplicationID, photo.DocumentType, photo.Blob, photo.FileName,
		lat, lon, gpsTime, string(photo.Status), photo.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save photo: %w", err)
	}
	return nil
}

// GetPhotos returns all photos for an application via the application index.
func (s *SQLiteStore) GetPhotos(ctx context.Context, applicationID string) ([]types.OfflinePhoto, error) {
	return s.queryPhotos(ctx, `SELECT id, application_id, document_type, blob, file_name, gps_latitude, gps_longitude, gps_timestamp, status, created_at
		FROM photos WHERE application_id = ?`, applicationID)
}

// GetReplayablePhotos returns photos awaiting upload: pending plus failed,
// so a later online transition re-drives earlier failures.
func (s *SQLiteStore) GetReplayablePhotos(ctx context.Context) ([]types.OfflinePhoto, error) {
	return s.queryPhotos(ctx, `SELECT id, application_id, document_type, blob, file_name, gps_latitude, gps_longitude, gps_timestamp, status, created_at
		FROM photos WHERE status IN (?, ?)`, string(types.PhotoPending), string(types.PhotoFailed))
}

// UpdatePhotoStatus updates the upload state of a photo.
func (s *SQLiteStore) UpdatePhotoStatus(ctx context.Context, id string, status types.PhotoStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE photos SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update photo status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update photo status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePhoto removes a photo after its upload has been confirmed.
func (s *SQLiteStore) DeletePhoto(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryPhotos(ctx context.Context, query string, args ...any) ([]types.OfflinePhoto, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	var photos []types.OfflinePhoto
	for rows.Next() {
		var p types.OfflinePhoto
		var lat, lon sql.NullFloat64
		var gpsTime sql.NullString
		var status, createdAt string

		if err := rows.Scan(&p.ID, &p.ApplicationID, &p.DocumentType, &p.Blob, &p.FileName,
			&lat, &lon, &gpsTime, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}

		p.Status = types.PhotoStatus(status)
		if lat.Valid && lon.Valid && gpsTime.Valid {
			t, err := time.Parse(time.RFC3339Nano, gpsTime.String)
			if err != nil {
				return nil, fmt.Errorf("parse gps_timestamp: %w", err)
			}
			p.GPS = &types.GPSFix{Latitude: lat.Float64, Longitude: lon.Float64, Timestamp: t}
		}
		p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}

	return photos, nil
}

// --- helpers ---

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
