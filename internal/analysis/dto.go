package analysis

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/db/models"
	"github.com/veridex/veridex-backend/pkg/enums"
)

// AnalysisDTO is the external shape of an analysis run.
type AnalysisDTO struct {
	ID             uuid.UUID            `json:"id"`
	VideoID        uuid.UUID            `json:"video_id"`
	VideoHash      string               `json:"video_hash"`
	DetectorSet    []string             `json:"detector_set"`
	DetectorSetKey string               `json:"detector_set_key"`
	Status         enums.AnalysisStatus `json:"status"`
	Progress       int                  `json:"progress"`
	FailureReason  *string              `json:"failure_reason,omitempty"`
	QueuedAt       time.Time            `json:"queued_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
}

// OutcomeDTO is one detector's contribution to a run.
type OutcomeDTO struct {
	Detector     enums.DetectorKind `json:"detector"`
	ModelVersion string             `json:"model_version"`
	Score        *float64           `json:"score,omitempty"`
	Certainty    *float64           `json:"certainty,omitempty"`
	Weight       *float64           `json:"weight,omitempty"`
	Techniques   json.RawMessage    `json:"techniques,omitempty"`
	FramesUsed   int                `json:"frames_used"`
	LatencyMS    int64              `json:"latency_ms"`
	Failed       bool               `json:"failed"`
	ErrorMessage *string            `json:"error,omitempty"`
}

// VerdictDTO is the fused ensemble result.
type VerdictDTO struct {
	AnalysisID     uuid.UUID          `json:"analysis_id"`
	VideoHash      string             `json:"video_hash"`
	DetectorSetKey string             `json:"detector_set_key"`
	Label          enums.VerdictLabel `json:"label"`
	Score          float64            `json:"score"`
	Confidence     float64            `json:"confidence"`
	Threshold      float64            `json:"threshold"`
	Techniques     json.RawMessage    `json:"techniques,omitempty"`
	SampledFrames  json.RawMessage    `json:"sampled_frames,omitempty"`
	DetectorCount  int                `json:"detector_count"`
	FailedCount    int                `json:"failed_count"`
	CreatedAt      time.Time          `json:"created_at"`
}

// ViewDTO bundles an analysis with its outcomes and verdict for reads.
type ViewDTO struct {
	Analysis AnalysisDTO  `json:"analysis"`
	Outcomes []OutcomeDTO `json:"outcomes"`
	Verdict  *VerdictDTO  `json:"verdict,omitempty"`
}

// StartResponseDTO reports how an analysis request was admitted.
type StartResponseDTO struct {
	Analysis       *AnalysisDTO `json:"analysis,omitempty"`
	Verdict        *VerdictDTO  `json:"verdict,omitempty"`
	CacheHit       bool         `json:"cache_hit"`
	AlreadyRunning bool         `json:"already_running"`
}

// NewAnalysisDTO maps the storage model to its external shape.
func NewAnalysisDTO(analysis *models.Analysis) *AnalysisDTO {
	if analysis == nil {
		return nil
	}
	return &AnalysisDTO{
		ID:             analysis.ID,
		VideoID:        analysis.VideoID,
		VideoHash:      analysis.VideoHash,
		DetectorSet:    []string(analysis.DetectorSet),
		DetectorSetKey: analysis.DetectorSetKey,
		Status:         analysis.Status,
		Progress:       analysis.Progress,
		FailureReason:  analysis.FailureReason,
		QueuedAt:       analysis.QueuedAt,
		StartedAt:      analysis.StartedAt,
		CompletedAt:    analysis.CompletedAt,
	}
}

// NewVerdictDTO maps the storage model to its external shape.
func NewVerdictDTO(verdict *models.FusedVerdict) *VerdictDTO {
	if verdict == nil {
		return nil
	}
	return &VerdictDTO{
		AnalysisID:     verdict.AnalysisID,
		VideoHash:      verdict.VideoHash,
		DetectorSetKey: verdict.DetectorSetKey,
		Label:          verdict.Label,
		Score:          verdict.Score,
		Confidence:     verdict.Confidence,
		Threshold:      verdict.Threshold,
		Techniques:     verdict.Techniques,
		SampledFrames:  verdict.SampledFrames,
		DetectorCount:  verdict.DetectorCount,
		FailedCount:    verdict.FailedCount,
		CreatedAt:      verdict.CreatedAt,
	}
}

// NewViewDTO maps a read-model view, outcomes included.
func NewViewDTO(view *View) *ViewDTO {
	if view == nil || view.Analysis == nil {
		return nil
	}
	dto := &ViewDTO{
		Analysis: *NewAnalysisDTO(view.Analysis),
		Outcomes: make([]OutcomeDTO, 0, len(view.Outcomes)),
		Verdict:  NewVerdictDTO(view.Verdict),
	}
	for _, outcome := range view.Outcomes {
		dto.Outcomes = append(dto.Outcomes, OutcomeDTO{
			Detector:     outcome.Detector,
			ModelVersion: outcome.ModelVersion,
			Score:        outcome.Score,
			Certainty:    outcome.Certainty,
			Weight:       outcome.Weight,
			Techniques:   outcome.Techniques,
			FramesUsed:   outcome.FramesUsed,
			LatencyMS:    outcome.LatencyMS,
			Failed:       outcome.Failed,
			ErrorMessage: outcome.ErrorMessage,
		})
	}
	return dto
}

// NewStartResponseDTO maps an admission result.
func NewStartResponseDTO(result *StartResult) *StartResponseDTO {
	if result == nil {
		return nil
	}
	return &StartResponseDTO{
		Analysis:       NewAnalysisDTO(result.Analysis),
		Verdict:        NewVerdictDTO(result.Verdict),
		CacheHit:       result.CacheHit,
		AlreadyRunning: result.AlreadyRunning,
	}
}
