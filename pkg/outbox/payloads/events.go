package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/enums"
)

// UploadProgressEvent reports chunk receipt progress for an active session.
type UploadProgressEvent struct {
	SessionID      uuid.UUID `json:"session_id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	ReceivedChunks int       `json:"received_chunks"`
	TotalChunks    int       `json:"total_chunks"`
}

// UploadCompletedEvent is emitted once an upload is assembled and stored.
type UploadCompletedEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	VideoID     uuid.UUID `json:"video_id"`
	ContentHash string    `json:"content_hash"`
	FileName    string    `json:"file_name"`
	SizeBytes   int64     `json:"size_bytes"`
}

// DuplicateDetectedEvent signals that a finalized upload matched existing content.
type DuplicateDetectedEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	VideoID     uuid.UUID `json:"video_id"`
	ContentHash string    `json:"content_hash"`
}

// AnalysisQueuedEvent carries a freshly admitted analysis job to the workers.
type AnalysisQueuedEvent struct {
	AnalysisID  uuid.UUID `json:"analysis_id"`
	VideoID     uuid.UUID `json:"video_id"`
	VideoHash   string    `json:"video_hash"`
	DetectorSet []string  `json:"detector_set"`
	RequestedBy uuid.UUID `json:"requested_by"`
	QueuedAt    time.Time `json:"queued_at"`
}

// AnalysisProgressEvent reports stage transitions while detectors run.
type AnalysisProgressEvent struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	VideoHash  string    `json:"video_hash"`
	Progress   int       `json:"progress"`
	Stage      string    `json:"stage"`
}

// AnalysisCompletedEvent carries the fused verdict for a finished analysis.
type AnalysisCompletedEvent struct {
	AnalysisID  uuid.UUID          `json:"analysis_id"`
	VideoHash   string             `json:"video_hash"`
	RequestedBy uuid.UUID          `json:"requested_by"`
	Label       enums.VerdictLabel `json:"label"`
	Score       float64            `json:"score"`
	Confidence  float64            `json:"confidence"`
	Techniques  map[string]float64 `json:"techniques,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// AnalysisFailedEvent reports a terminally failed analysis.
type AnalysisFailedEvent struct {
	AnalysisID  uuid.UUID `json:"analysis_id"`
	VideoHash   string    `json:"video_hash"`
	RequestedBy uuid.UUID `json:"requested_by"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}
