package upload

import (
	"time"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/db/models"
)

// ChunkReceiptDTO acknowledges a stored chunk.
type ChunkReceiptDTO struct {
	SessionID   uuid.UUID          `json:"session_id"`
	Index       int                `json:"index"`
	Replay      bool               `json:"replay"`
	Received    int64              `json:"received_chunks"`
	TotalChunks int                `json:"total_chunks"`
	Completed   bool               `json:"completed"`
	Finalized   *FinalizeResultDTO `json:"finalized,omitempty"`
}

// ProgressDTO is the external shape of a session status query.
type ProgressDTO struct {
	Session  *Session `json:"session"`
	Received int64    `json:"received_chunks"`
	Missing  []int    `json:"missing_chunks,omitempty"`
}

// FinalizeResultDTO reports the stored video and whether it deduplicated.
type FinalizeResultDTO struct {
	SessionID uuid.UUID `json:"session_id"`
	Video     VideoDTO  `json:"video"`
	Duplicate bool      `json:"duplicate"`
}

// VideoDTO is the external shape of a stored video.
type VideoDTO struct {
	ID          uuid.UUID  `json:"id"`
	ContentHash string     `json:"content_hash"`
	FileName    string     `json:"file_name"`
	MimeType    string     `json:"mime_type"`
	SizeBytes   int64      `json:"size_bytes"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewVideoDTO maps the storage model to its external shape.
func NewVideoDTO(video *models.Video) VideoDTO {
	if video == nil {
		return VideoDTO{}
	}
	return VideoDTO{
		ID:          video.ID,
		ContentHash: video.ContentHash,
		FileName:    video.FileName,
		MimeType:    video.MimeType,
		SizeBytes:   video.SizeBytes,
		ArchivedAt:  video.ArchivedAt,
		CreatedAt:   video.CreatedAt,
	}
}

// NewChunkReceiptDTO maps a receipt, including an inline finalize result when
// the last chunk auto-finalized the session.
func NewChunkReceiptDTO(receipt *ChunkReceipt) *ChunkReceiptDTO {
	if receipt == nil {
		return nil
	}
	return &ChunkReceiptDTO{
		SessionID:   receipt.SessionID,
		Index:       receipt.Index,
		Replay:      receipt.Replay,
		Received:    receipt.Received,
		TotalChunks: receipt.TotalChunks,
		Completed:   receipt.Completed,
		Finalized:   NewFinalizeResultDTO(receipt.Finalized),
	}
}

// NewFinalizeResultDTO maps a finalize result.
func NewFinalizeResultDTO(result *FinalizeResult) *FinalizeResultDTO {
	if result == nil {
		return nil
	}
	return &FinalizeResultDTO{
		SessionID: result.SessionID,
		Video:     NewVideoDTO(result.Video),
		Duplicate: result.Duplicate,
	}
}

// NewProgressDTO maps a progress read.
func NewProgressDTO(progress *Progress) *ProgressDTO {
	if progress == nil {
		return nil
	}
	return &ProgressDTO{
		Session:  progress.Session,
		Received: progress.Received,
		Missing:  progress.Missing,
	}
}
