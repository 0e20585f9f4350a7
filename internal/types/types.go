package types

import "time"

// SyncStatus represents the lifecycle state of a queued request.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncProcessing SyncStatus = "processing"
	SyncFailed     SyncStatus = "failed"
	SyncCompleted  SyncStatus = "completed"
)

// PhotoStatus represents the lifecycle state of an offline photo.
type PhotoStatus string

const (
	PhotoPending  PhotoStatus = "pending"
	PhotoUploaded PhotoStatus = "uploaded"
	PhotoFailed   PhotoStatus = "failed"
)

// SyncQueueItem is a mutating HTTP request captured while disconnected,
// persisted until it has been replayed against the server.
//
// Status transitions only pending -> processing -> {completed | pending | failed}.
// Completed items are deleted immediately; failed items are retained until an
// explicit retry or clear.
type SyncQueueItem struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Body        *string           `json:"body"` // JSON-serialized request body, nil when absent
	Headers     map[string]string `json:"headers"`
	Status      SyncStatus        `json:"status"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	CreatedAt   time.Time         `json:"created_at"`
	LastAttempt *time.Time        `json:"last_attempt,omitempty"`
	Error       *string           `json:"error,omitempty"`
}

// DraftSnapshot is the last saved form state for one application.
// One draft per application; every save is last-write-wins.
type DraftSnapshot struct {
	ID        string    `json:"id"` // application ID
	FormData  []byte    `json:"form_data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GPSFix is the coordinate triple attached to a photo when acquisition succeeded.
type GPSFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// OfflinePhoto is a compressed, geotagged capture persisted while disconnected.
type OfflinePhoto struct {
	ID            string      `json:"id"`
	ApplicationID string      `json:"application_id"`
	DocumentType  string      `json:"document_type"`
	Blob          []byte      `json:"-"`
	FileName      string      `json:"file_name"`
	GPS           *GPSFix     `json:"gps,omitempty"`
	Status        PhotoStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// QueueStatus is the per-status item count reported by the queue manager.
type QueueStatus struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}

// ConnectionQuality classifies measured link quality.
type ConnectionQuality string

const (
	QualityGood    ConnectionQuality = "good"
	QualitySlow    ConnectionQuality = "slow"
	QualityOffline ConnectionQuality = "offline"
)

// NetworkStatus is the monitor's current view of connectivity.
type NetworkStatus struct {
	Online      bool              `json:"online"`
	Quality     ConnectionQuality `json:"quality"`
	LastChecked time.Time         `json:"last_checked"`
}

// PushPayload is the platform-delivered push notification contract.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}
