package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/api/middleware"
	"github.com/veridex/veridex-backend/api/responses"
	"github.com/veridex/veridex-backend/api/validators"
	"github.com/veridex/veridex-backend/internal/upload"
	pkgerrors "github.com/veridex/veridex-backend/pkg/errors"
	"github.com/veridex/veridex-backend/pkg/logger"
)

const chunkHashHeader = "X-Chunk-Hash"

type initiateUploadRequest struct {
	FileName     string `json:"file_name" validate:"required"`
	MimeType     string `json:"mime_type" validate:"required"`
	TotalSize    int64  `json:"total_size" validate:"required,min=1"`
	ChunkSize    int64  `json:"chunk_size" validate:"required,min=1"`
	DeclaredHash string `json:"declared_hash,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// InitiateUpload opens a chunked upload session.
func InitiateUpload(svc upload.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "upload service unavailable"))
			return
		}

		ownerID := middleware.OwnerIDFromContext(r.Context())

		var payload initiateUploadRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Initiate(r.Context(), upload.InitiateRequest{
			OwnerID:      ownerID,
			FileName:     strings.TrimSpace(payload.FileName),
			MimeType:     strings.TrimSpace(payload.MimeType),
			TotalSize:    payload.TotalSize,
			ChunkSize:    payload.ChunkSize,
			DeclaredHash: strings.TrimSpace(payload.DeclaredHash),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// UploadChunk stores one chunk body for an active session. The raw chunk
// bytes stream through the request body; an optional X-Chunk-Hash header
// carries the client-side SHA-256 for integrity verification.
func UploadChunk(svc upload.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "upload service unavailable"))
			return
		}

		sessionID, err := parseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "chunk index must be a non-negative integer"))
			return
		}

		receipt, err := svc.AcceptChunk(r.Context(), upload.ChunkRequest{
			SessionID: sessionID,
			OwnerID:   middleware.OwnerIDFromContext(r.Context()),
			Index:     index,
			Body:      r.Body,
			ChunkHash: strings.TrimSpace(r.Header.Get(chunkHashHeader)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, upload.NewChunkReceiptDTO(receipt))
	}
}

// FinalizeUpload assembles the chunks, verifies the content hash and stores
// the video, reporting dedup hits.
func FinalizeUpload(svc upload.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "upload service unavailable"))
			return
		}

		sessionID, err := parseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Finalize(r.Context(), sessionID, middleware.OwnerIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, upload.NewFinalizeResultDTO(result))
	}
}

// GetUpload reports session status and received chunk count.
func GetUpload(svc upload.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "upload service unavailable"))
			return
		}

		sessionID, err := parseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		progress, err := svc.Get(r.Context(), sessionID, middleware.OwnerIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, upload.NewProgressDTO(progress))
	}
}

// CancelUpload aborts a session and reclaims its spool space.
func CancelUpload(svc upload.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "upload service unavailable"))
			return
		}

		sessionID, err := parseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Cancel(r.Context(), sessionID, middleware.OwnerIDFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteNoContent(w)
	}
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	value, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "path parameter must be a uuid").WithDetails(map[string]any{"param": name})
	}
	return value, nil
}
