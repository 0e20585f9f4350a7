package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldworks/fieldsync/internal/types"
)

// PhotoQueueStore defines the photo persistence operations required by the
// coordinator. Implemented by SQLiteStore.
type PhotoQueueStore interface {
	GetReplayablePhotos(ctx context.Context) ([]types.OfflinePhoto, error)
	UpdatePhotoStatus(ctx context.Context, id string, status types.PhotoStatus) error
	DeletePhoto(ctx context.Context, id string) error
}

// PhotoSender uploads a photo to the portal. Implemented by photo.HTTPUploader.
type PhotoSender interface {
	Upload(ctx context.Context, photo *types.OfflinePhoto) error
}

// PhotoArchiver stores a durable copy after a successful upload.
// Implemented by archive.S3Archiver and archive.NoopArchiver.
type PhotoArchiver interface {
	Archive(ctx context.Context, photo *types.OfflinePhoto) error
}

// PhotoUploadCoordinator drains photos captured while disconnected. Pending
// and previously failed photos are both eligible; a pass runs when
// connectivity returns and on a periodic interval.
type PhotoUploadCoordinator struct {
	store    PhotoQueueStore
	uploader PhotoSender
	archiver PhotoArchiver
	network  StatusSource
	interval time.Duration
}

// NewPhotoUploadCoordinator creates a coordinator.
func NewPhotoUploadCoordinator(
	store PhotoQueueStore,
	uploader PhotoSender,
	archiver PhotoArchiver,
	network StatusSource,
	interval time.Duration,
) *PhotoUploadCoordinator {
	return &PhotoUploadCoordinator{
		store:    store,
		uploader: uploader,
		archiver: archiver,
		network:  network,
		interval: interval,
	}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
func (c *PhotoUploadCoordinator) Run(ctx context.Context) {
	slog.Info("photo upload coordinator started",
		"component", "worker",
		"worker", "photo-coordinator",
		"interval", c.interval.String(),
	)

	// Edge detection is seeded from the current state so an offline start
	// drains on the first verified reconnect.
	reconnect := make(chan struct{}, 1)
	wasOnline := c.network.GetStatus().Online
	unsubscribe := c.network.OnStatusChange(func(status types.NetworkStatus) {
		if !wasOnline && status.Online {
			select {
			case reconnect <- struct{}{}:
			default:
			}
		}
		wasOnline = status.Online
	})
	defer unsubscribe()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("photo upload coordinator stopped",
				"component", "worker",
				"worker", "photo-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-reconnect:
			c.drain(ctx)
		case <-ticker.C:
			c.drain(ctx)
		}
	}
}

// drain uploads every eligible photo, continuing past individual failures.
func (c *PhotoUploadCoordinator) drain(ctx context.Context) {
	if !c.network.GetStatus().Online {
		return
	}

	photos, err := c.store.GetReplayablePhotos(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("failed to list photos for upload",
			"component", "worker",
			"worker", "photo-coordinator",
			"error", err,
		)
		return
	}
	if len(photos) == 0 {
		return
	}

	var uploaded, failed int
	for i := range photos {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		if c.uploadOne(ctx, &photos[i]) {
			uploaded++
		} else {
			failed++
		}
	}

	slog.Info("photo upload pass completed",
		"component", "worker",
		"worker", "photo-coordinator",
		"total", len(photos),
		"uploaded", uploaded,
		"failed", failed,
	)
}

// uploadOne replays a single photo. Success archives a durable copy and
// removes the local row so blobs do not accumulate; failure marks the photo
// failed and leaves it eligible for the next pass.
func (c *PhotoUploadCoordinator) uploadOne(ctx context.Context, photo *types.OfflinePhoto) bool {
	if err := c.uploader.Upload(ctx, photo); err != nil {
		slog.Warn("photo upload failed, will retry on next pass",
			"component", "worker",
			"worker", "photo-coordinator",
			"photo_id", photo.ID,
			"error", err,
		)
		if err := c.store.UpdatePhotoStatus(ctx, photo.ID, types.PhotoFailed); err != nil {
			slog.Error("failed to mark photo failed",
				"component", "worker",
				"worker", "photo-coordinator",
				"photo_id", photo.ID,
				"error", err,
			)
		}
		return false
	}

	if err := c.store.UpdatePhotoStatus(ctx, photo.ID, types.PhotoUploaded); err != nil {
		slog.Error("failed to mark photo uploaded",
			"component", "worker",
			"worker", "photo-coordinator",
			"photo_id", photo.ID,
			"error", err,
		)
	}

	// The portal copy is authoritative; archiving is best-effort.
	if err := c.archiver.Archive(ctx, photo); err != nil {
		slog.Warn("photo archive failed",
			"component", "worker",
			"worker", "photo-coordinator",
			"photo_id", photo.ID,
			"error", err,
		)
	}

	if err := c.store.DeletePhoto(ctx, photo.ID); err != nil {
		slog.Error("failed to delete uploaded photo",
			"component", "worker",
			"worker", "photo-coordinator",
			"photo_id", photo.ID,
			"error", err,
		)
	}

	slog.Info("deferred photo uploaded",
		"component", "worker",
		"worker", "photo-coordinator",
		"photo_id", photo.ID,
		"application_id", photo.ApplicationID,
	)
	return true
}
