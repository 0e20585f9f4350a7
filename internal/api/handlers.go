// Package api exposes the local diagnostics and push-receiver HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldworks/fieldsync/internal/archive"
	"github.com/fieldworks/fieldsync/internal/photo"
	"github.com/fieldworks/fieldsync/internal/types"
)

// QueueControl defines the queue operations the handlers need.
// Implemented by syncqueue.Manager.
type QueueControl interface {
	GetQueueStatus(ctx context.Context) (*types.QueueStatus, error)
	RetryFailed(ctx context.Context) error
	ClearCompleted(ctx context.Context) (int64, error)
}

// NetworkReader reports current connectivity. Implemented by netmon.Monitor.
type NetworkReader interface {
	GetStatus() types.NetworkStatus
}

// PhotoBacklog reports photos awaiting upload. Implemented by SQLiteStore.
type PhotoBacklog interface {
	GetReplayablePhotos(ctx context.Context) ([]types.OfflinePhoto, error)
}

// Notifier delivers a received push payload to the user-facing shell.
type Notifier interface {
	Notify(ctx context.Context, payload types.PushPayload) error
}

// Capturer runs the capture pipeline. Implemented by photo.Subsystem.
type Capturer interface {
	Capture(ctx context.Context, req photo.CaptureRequest) (*types.OfflinePhoto, error)
}

// ArchiveReader resolves links to archived evidence. Implemented by
// archive.S3Archiver and archive.NoopArchiver.
type ArchiveReader interface {
	PresignedURL(ctx context.Context, photo *types.OfflinePhoto) (string, error)
}

// Handler implements the API handlers
type Handler struct {
	queue    QueueControl
	network  NetworkReader
	photos   PhotoBacklog
	capturer Capturer
	archive  ArchiveReader
	notifier Notifier
	version  string
}

// NewHandler creates a new Handler.
func NewHandler(queue QueueControl, network NetworkReader, photos PhotoBacklog, capturer Capturer, archiveReader ArchiveReader, notifier Notifier, version string) *Handler {
	return &Handler{
		queue:    queue,
		network:  network,
		photos:   photos,
		capturer: capturer,
		archive:  archiveReader,
		notifier: notifier,
		version:  version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status":  "healthy",
		"version": h.version,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StatusResponse aggregates connectivity and backlog state for diagnostics.
type StatusResponse struct {
	Network       types.NetworkStatus `json:"network"`
	Queue         types.QueueStatus   `json:"queue"`
	PendingPhotos int                 `json:"pending_photos"`
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.GetQueueStatus(r.Context())
	if err != nil {
		slog.Error("queue status failed", "error", err, "component", "api")
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	photos, err := h.photos.GetReplayablePhotos(r.Context())
	if err != nil {
		slog.Error("photo backlog read failed", "error", err, "component", "api")
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := StatusResponse{
		Network:       h.network.GetStatus(),
		Queue:         *counts,
		PendingPhotos: len(photos),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// RetryQueue handles POST /api/v1/queue/retry. The replay pass can block on
// backoff delays, so it runs detached and the request returns immediately.
func (h *Handler) RetryQueue(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := h.queue.RetryFailed(ctx); err != nil {
			slog.Error("manual retry failed", "error", err, "component", "api")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

// ClearQueue handles POST /api/v1/queue/clear
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.ClearCompleted(r.Context())
	if err != nil {
		slog.Error("queue clear failed", "error", err, "component", "api")
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"cleared": n})
}

// maxPhotoUpload bounds the multipart form held in memory per request.
const maxPhotoUpload = 32 << 20

// CapturePhoto handles POST /api/v1/photos. The multipart form carries the
// raw image under "file" plus application_id and document_type fields.
func (h *Handler) CapturePhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxPhotoUpload); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid multipart form: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "could not read file part")
		return
	}

	captured, err := h.capturer.Capture(r.Context(), photo.CaptureRequest{
		ApplicationID: r.FormValue("application_id"),
		DocumentType:  r.FormValue("document_type"),
		FileName:      header.Filename,
		Image:         image,
	})
	if err != nil {
		slog.Error("capture failed", "error", err, "component", "api")
		if errors.Is(err, photo.ErrUpload) {
			WriteProblem(w, r, http.StatusServiceUnavailable, err.Error())
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(captured)
}

// ArchiveURL handles GET /api/v1/applications/{applicationID}/photos/{photoID}/archive-url.
// Archive objects are keyed by application and photo ID, so the link resolves
// even after the local photo row has been deleted.
func (h *Handler) ArchiveURL(w http.ResponseWriter, r *http.Request) {
	ref := &types.OfflinePhoto{
		ID:            chi.URLParam(r, "photoID"),
		ApplicationID: chi.URLParam(r, "applicationID"),
	}

	url, err := h.archive.PresignedURL(r.Context(), ref)
	if err != nil {
		if errors.Is(err, archive.ErrNotConfigured) {
			WriteProblem(w, r, http.StatusNotFound, "No archive storage is configured")
			return
		}
		slog.Error("archive link failed", "error", err, "photo_id", ref.ID, "component", "api")
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// Push handles POST /api/v1/push. The payload is validated and handed to the
// notifier; what the shell does with it (focus or open a window) is its call.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	var payload types.PushPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if payload.Title == "" || payload.Body == "" {
		WriteProblem(w, r, http.StatusBadRequest, "title and body are required")
		return
	}

	if err := h.notifier.Notify(r.Context(), payload); err != nil {
		slog.Error("push dispatch failed", "error", err, "tag", payload.Tag, "component", "api")
		WriteProblem(w, r, http.StatusServiceUnavailable, "Notification could not be delivered")
		return
	}

	slog.Info("push dispatched",
		"title", payload.Title,
		"tag", payload.Tag,
		"component", "api",
	)
	w.WriteHeader(http.StatusAccepted)
}
