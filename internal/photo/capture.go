// Package photo implements evidence capture: GPS acquisition with a bounded
// wait, in-memory compression, and online/offline routing of the result.
package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/types"
)

// ErrUpload marks an immediate-upload failure. The photo is not requeued; the
// caller decides whether to retry the capture.
var ErrUpload = errors.New("photo upload failed")

// Locator acquires the device's current position.
type Locator interface {
	CurrentLocation(ctx context.Context) (*types.GPSFix, error)
}

// ConnectivitySource reports the current network view. Satisfied by the
// network monitor.
type ConnectivitySource interface {
	GetStatus() types.NetworkStatus
}

// PhotoStore is the persistence surface the subsystem needs.
type PhotoStore interface {
	SavePhoto(ctx context.Context, photo *types.OfflinePhoto) error
}

var _ PhotoStore = (store.Store)(nil)

// CaptureRequest carries the raw image and its document context.
type CaptureRequest struct {
	ApplicationID string
	DocumentType  string
	FileName      string
	Image         []byte
}

// Options configures a Subsystem.
type Options struct {
	Store    PhotoStore
	Network  ConnectivitySource
	Locator  Locator
	Uploader EvidenceUploader

	// MaxDimension clamps the longer image side. Defaults to 2048.
	MaxDimension int

	// Quality is the JPEG re-encode quality. Defaults to 85.
	Quality int

	// GPSTimeout bounds position acquisition. Defaults to 30s. Acquisition
	// failure never fails the capture; the photo is simply saved untagged.
	GPSTimeout time.Duration
}

// Subsystem captures, geotags, compresses and routes photos.
type Subsystem struct {
	store        PhotoStore
	network      ConnectivitySource
	locator      Locator
	uploader     EvidenceUploader
	maxDimension int
	quality      int
	gpsTimeout   time.Duration
}

// NewSubsystem creates a Subsystem. Zero option fields are filled with defaults.
func NewSubsystem(opts Options) *Subsystem {
	if opts.MaxDimension == 0 {
		opts.MaxDimension = 2048
	}
	if opts.Quality == 0 {
		opts.Quality = 85
	}
	if opts.GPSTimeout == 0 {
		opts.GPSTimeout = 30 * time.Second
	}

	return &Subsystem{
		store:        opts.Store,
		network:      opts.Network,
		locator:      opts.Locator,
		uploader:     opts.Uploader,
		maxDimension: opts.MaxDimension,
		quality:      opts.Quality,
		gpsTimeout:   opts.GPSTimeout,
	}
}

// Capture compresses the image, attaches a GPS fix when one can be acquired in
// time, and routes the photo by connectivity: online captures are uploaded
// immediately, offline captures are persisted as pending for later replay.
//
// An online upload failure is returned to the caller as-is; the photo is not
// silently requeued.
func (s *Subsystem) Capture(ctx context.Context, req CaptureRequest) (*types.OfflinePhoto, error) {
	if req.ApplicationID == "" || req.DocumentType == "" {
		return nil, fmt.Errorf("application ID and document type are required")
	}

	compressed, err := Compress(bytes.NewReader(req.Image), s.maxDimension, s.quality)
	if err != nil {
		return nil, fmt.Errorf("compress photo: %w", err)
	}

	photo := &types.OfflinePhoto{
		ID:            ulid.Make().String(),
		ApplicationID: req.ApplicationID,
		DocumentType:  req.DocumentType,
		Blob:          compressed,
		FileName:      req.FileName,
		GPS:           s.acquireFix(ctx),
		Status:        types.PhotoPending,
		CreatedAt:     time.Now().UTC(),
	}
	if photo.FileName == "" {
		photo.FileName = photo.ID + ".jpg"
	}

	if s.network.GetStatus().Online {
		if err := s.uploader.Upload(ctx, photo); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpload, err)
		}
		photo.Status = types.PhotoUploaded
		slog.Info("photo uploaded",
			"photo_id", photo.ID,
			"application_id", photo.ApplicationID,
			"size_bytes", len(photo.Blob),
			"component", "photo",
		)
		return photo, nil
	}

	if err := s.store.SavePhoto(ctx, photo); err != nil {
		return nil, fmt.Errorf("save offline photo: %w", err)
	}
	slog.Info("photo saved for later upload",
		"photo_id", photo.ID,
		"application_id", photo.ApplicationID,
		"size_bytes", len(photo.Blob),
		"component", "photo",
	)
	return photo, nil
}

// acquireFix tries to get a position within the timeout. Failure is tolerated;
// captures proceed untagged.
func (s *Subsystem) acquireFix(ctx context.Context) *types.GPSFix {
	if s.locator == nil {
		return nil
	}

	gpsCtx, cancel := context.WithTimeout(ctx, s.gpsTimeout)
	defer cancel()

	fix, err := s.locator.CurrentLocation(gpsCtx)
	if err != nil {
		slog.Warn("GPS acquisition failed, capturing without location",
			"error", err,
			"component", "photo",
		)
		return nil
	}
	return fix
}
