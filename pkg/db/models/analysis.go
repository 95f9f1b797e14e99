package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/veridex/veridex-backend/pkg/enums"
)

// Analysis is one detection run over a video with a fixed detector set.
// DetectorSetKey is the sorted, comma-joined detector list; a partial unique
// index on (video_hash, detector_set_key) over non-terminal rows enforces
// single-flight admission at the database.
type Analysis struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VideoID        uuid.UUID            `gorm:"column:video_id;type:uuid;not null"`
	VideoHash      string               `gorm:"column:video_hash;not null"`
	DetectorSet    pq.StringArray       `gorm:"column:detector_set;type:text[];not null"`
	DetectorSetKey string               `gorm:"column:detector_set_key;not null"`
	Status         enums.AnalysisStatus `gorm:"column:status;type:analysis_status;not null"`
	RequestedBy    uuid.UUID            `gorm:"column:requested_by;type:uuid;not null"`
	Progress       int                  `gorm:"column:progress;not null;default:0"`
	FailureReason  *string              `gorm:"column:failure_reason"`
	QueuedAt       time.Time            `gorm:"column:queued_at;not null"`
	StartedAt      *time.Time           `gorm:"column:started_at"`
	CompletedAt    *time.Time           `gorm:"column:completed_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
