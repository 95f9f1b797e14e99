package enums

import "fmt"

// UploadStatus describes the lifecycle state of a chunked upload session.
type UploadStatus string

const (
	UploadStatusActive     UploadStatus = "active"
	UploadStatusAssembling UploadStatus = "assembling"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusExpired    UploadStatus = "expired"
	UploadStatusCancelled  UploadStatus = "cancelled"
)

var validUploadStatuses = []UploadStatus{
	UploadStatusActive,
	UploadStatusAssembling,
	UploadStatusCompleted,
	UploadStatusExpired,
	UploadStatusCancelled,
}

// String returns the literal string for the status.
func (u UploadStatus) String() string {
	return string(u)
}

// IsValid reports whether the status is known.
func (u UploadStatus) IsValid() bool {
	for _, candidate := range validUploadStatuses {
		if candidate == u {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session can no longer accept chunks.
func (u UploadStatus) IsTerminal() bool {
	switch u {
	case UploadStatusCompleted, UploadStatusExpired, UploadStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseUploadStatus converts raw input into an UploadStatus.
func ParseUploadStatus(value string) (UploadStatus, error) {
	for _, candidate := range validUploadStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid upload status %q", value)
}
