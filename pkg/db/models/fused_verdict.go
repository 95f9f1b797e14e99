package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/enums"
)

// FusedVerdict is the write-once ensemble result for an analysis. The
// (video_hash, detector_set_key) unique constraint backs the durable verdict
// cache tier.
type FusedVerdict struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AnalysisID     uuid.UUID          `gorm:"column:analysis_id;type:uuid;not null;unique"`
	VideoHash      string             `gorm:"column:video_hash;not null;uniqueIndex:fused_verdicts_cache_key,priority:1"`
	DetectorSetKey string             `gorm:"column:detector_set_key;not null;uniqueIndex:fused_verdicts_cache_key,priority:2"`
	Label          enums.VerdictLabel `gorm:"column:label;type:verdict_label;not null"`
	Score          float64            `gorm:"column:score;not null"`
	Confidence     float64            `gorm:"column:confidence;not null"`
	Threshold      float64            `gorm:"column:threshold;not null"`
	Techniques     json.RawMessage    `gorm:"column:techniques;type:jsonb"`
	SampledFrames  json.RawMessage    `gorm:"column:sampled_frames;type:jsonb"`
	DetectorCount  int                `gorm:"column:detector_count;not null"`
	FailedCount    int                `gorm:"column:failed_count;not null;default:0"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
}
