package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veridex/veridex-backend/api/middleware"
	"github.com/veridex/veridex-backend/api/responses"
	"github.com/veridex/veridex-backend/internal/analysis"
	"github.com/veridex/veridex-backend/internal/content"
	pkgerrors "github.com/veridex/veridex-backend/pkg/errors"
	"github.com/veridex/veridex-backend/pkg/logger"
)

// StartAnalysis admits a detection run for a stored video. Cache hits return
// the fused verdict immediately; concurrent requests for the same video and
// detector set join the running analysis.
func StartAnalysis(svc analysis.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analysis service unavailable"))
			return
		}

		videoHash, err := content.Normalize(chi.URLParam(r, "videoHash"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid video hash"))
			return
		}

		result, err := svc.Start(r.Context(), analysis.StartRequest{
			VideoHash:   videoHash,
			RequestedBy: middleware.OwnerIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusAccepted
		if result.CacheHit {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, analysis.NewStartResponseDTO(result))
	}
}

// GetAnalysis returns the run, its detector outcomes and the verdict once
// the run completed.
func GetAnalysis(svc analysis.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analysis service unavailable"))
			return
		}

		analysisID, err := parseUUIDParam(r, "analysisID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), analysisID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, analysis.NewViewDTO(view))
	}
}

// CancelAnalysis cancels a queued or processing run.
func CancelAnalysis(svc analysis.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analysis service unavailable"))
			return
		}

		analysisID, err := parseUUIDParam(r, "analysisID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Cancel(r.Context(), analysisID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}
