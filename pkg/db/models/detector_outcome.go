package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/enums"
)

// DetectorOutcome is one adapter's raw result inside an analysis. Failed
// adapters keep a row with a nil score so partial-coverage fusion is auditable.
type DetectorOutcome struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AnalysisID   uuid.UUID          `gorm:"column:analysis_id;type:uuid;not null"`
	Detector     enums.DetectorKind `gorm:"column:detector;type:detector_kind;not null"`
	ModelVersion string             `gorm:"column:model_version;not null"`
	Score        *float64           `gorm:"column:score"`
	Certainty    *float64           `gorm:"column:certainty"`
	Weight       *float64           `gorm:"column:weight"`
	Techniques   json.RawMessage    `gorm:"column:techniques;type:jsonb"`
	FramesUsed   int                `gorm:"column:frames_used;not null;default:0"`
	LatencyMS    int64              `gorm:"column:latency_ms;not null;default:0"`
	Failed       bool               `gorm:"column:failed;not null;default:false"`
	ErrorMessage *string            `gorm:"column:error_message"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
}
