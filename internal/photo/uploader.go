package photo

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldworks/fieldsync/internal/types"
)

// EvidenceUploader sends a captured photo to the document endpoint.
type EvidenceUploader interface {
	Upload(ctx context.Context, photo *types.OfflinePhoto) error
}

// HTTPUploader uploads photos as multipart requests.
type HTTPUploader struct {
	client *http.Client
	url    string
}

var _ EvidenceUploader = (*HTTPUploader)(nil)

// NewHTTPUploader creates an uploader posting to url.
func NewHTTPUploader(client *http.Client, url string) *HTTPUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{client: client, url: url}
}

// Upload posts the photo and its metadata. Any non-2xx response is an error.
func (u *HTTPUploader) Upload(ctx context.Context, photo *types.OfflinePhoto) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", photo.FileName)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(photo.Blob); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}

	fields := map[string]string{
		"application_id": photo.ApplicationID,
		"document_type":  photo.DocumentType,
	}
	if photo.GPS != nil {
		fields["gps_latitude"] = strconv.FormatFloat(photo.GPS.Latitude, 'f', -1, 64)
		fields["gps_longitude"] = strconv.FormatFloat(photo.GPS.Longitude, 'f', -1, 64)
		fields["gps_timestamp"] = photo.GPS.Timestamp.UTC().Format(time.RFC3339)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &buf)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload rejected: %s", resp.Status)
	}

	return nil
}
