package models

import "time"

type UploadStatus string

const (
	UploadStatusPending      UploadStatus = "pending"
	UploadStatusTransferring UploadStatus = "transferring"
	UploadStatusProcessing   UploadStatus = "processing"
	UploadStatusCompleted    UploadStatus = "completed"
	UploadStatusFailed       UploadStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed
}

// UploadSession tracks one file transfer's progress for its owning identity.
type UploadSession struct {
	ID          string       `json:"upload_id"`
	Owner       string       `json:"owner"`
	Filename    string       `json:"filename"`
	TotalSize   int64        `json:"total_size"`
	Transferred int64        `json:"transferred"`
	Status      UploadStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	LastError   string       `json:"last_error,omitempty"`
}
