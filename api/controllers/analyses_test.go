package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/internal/analysis"
	"github.com/veridex/veridex-backend/pkg/db/models"
	"github.com/veridex/veridex-backend/pkg/enums"
	pkgerrors "github.com/veridex/veridex-backend/pkg/errors"
)

type testAnalysisService struct {
	startFn  func(ctx context.Context, req analysis.StartRequest) (*analysis.StartResult, error)
	getFn    func(ctx context.Context, analysisID uuid.UUID) (*analysis.View, error)
	cancelFn func(ctx context.Context, analysisID uuid.UUID) error
}

func (s *testAnalysisService) Start(ctx context.Context, req analysis.StartRequest) (*analysis.StartResult, error) {
	if s.startFn != nil {
		return s.startFn(ctx, req)
	}
	return &analysis.StartResult{}, nil
}

func (s *testAnalysisService) Get(ctx context.Context, analysisID uuid.UUID) (*analysis.View, error) {
	if s.getFn != nil {
		return s.getFn(ctx, analysisID)
	}
	return &analysis.View{Analysis: &models.Analysis{}}, nil
}

func (s *testAnalysisService) Cancel(ctx context.Context, analysisID uuid.UUID) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, analysisID)
	}
	return nil
}

func TestStartAnalysisAccepted(t *testing.T) {
	ownerID := uuid.New()
	videoHash := strings.Repeat("ab", 32)
	analysisID := uuid.New()
	svc := &testAnalysisService{
		startFn: func(ctx context.Context, req analysis.StartRequest) (*analysis.StartResult, error) {
			if req.VideoHash != videoHash {
				t.Fatalf("unexpected hash %q", req.VideoHash)
			}
			if req.RequestedBy != ownerID {
				t.Fatalf("unexpected requester %s", req.RequestedBy)
			}
			return &analysis.StartResult{
				Analysis: &models.Analysis{ID: analysisID, Status: enums.AnalysisStatusQueued},
			}, nil
		},
	}

	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+videoHash+"/analyses", nil), ownerID)
	req = addRouteParam(req, "videoHash", videoHash)
	resp := httptest.NewRecorder()
	StartAnalysis(svc, testLogger())(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", resp.Code, resp.Body.String())
	}
	var result analysis.StartResponseDTO
	decodeData(t, resp, &result)
	if result.Analysis == nil || result.Analysis.ID != analysisID {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestStartAnalysisCacheHitReturnsOK(t *testing.T) {
	videoHash := strings.Repeat("cd", 32)
	svc := &testAnalysisService{
		startFn: func(ctx context.Context, req analysis.StartRequest) (*analysis.StartResult, error) {
			return &analysis.StartResult{
				CacheHit: true,
				Verdict:  &models.FusedVerdict{Label: enums.VerdictAuthentic, Score: 0.12},
			}, nil
		},
	}

	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+videoHash+"/analyses", nil), uuid.New())
	req = addRouteParam(req, "videoHash", videoHash)
	resp := httptest.NewRecorder()
	StartAnalysis(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var result analysis.StartResponseDTO
	decodeData(t, resp, &result)
	if !result.CacheHit || result.Verdict == nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Verdict.Label != enums.VerdictAuthentic {
		t.Fatalf("unexpected label %s", result.Verdict.Label)
	}
}

func TestStartAnalysisRejectsBadHash(t *testing.T) {
	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/v1/videos/nothex/analyses", nil), uuid.New())
	req = addRouteParam(req, "videoHash", "nothex")
	resp := httptest.NewRecorder()
	StartAnalysis(&testAnalysisService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestGetAnalysisView(t *testing.T) {
	analysisID := uuid.New()
	score := 0.9
	svc := &testAnalysisService{
		getFn: func(ctx context.Context, id uuid.UUID) (*analysis.View, error) {
			if id != analysisID {
				t.Fatalf("unexpected id %s", id)
			}
			return &analysis.View{
				Analysis: &models.Analysis{ID: analysisID, Status: enums.AnalysisStatusCompleted, Progress: 100},
				Outcomes: []models.DetectorOutcome{{Detector: enums.DetectorCLIP, Score: &score}},
				Verdict:  &models.FusedVerdict{AnalysisID: analysisID, Label: enums.VerdictManipulated},
			}, nil
		},
	}

	req := withOwner(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+analysisID.String(), nil), uuid.New())
	req = addRouteParam(req, "analysisID", analysisID.String())
	resp := httptest.NewRecorder()
	GetAnalysis(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var view analysis.ViewDTO
	decodeData(t, resp, &view)
	if view.Analysis.ID != analysisID || len(view.Outcomes) != 1 || view.Verdict == nil {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestCancelAnalysisStateConflict(t *testing.T) {
	svc := &testAnalysisService{
		cancelFn: func(ctx context.Context, analysisID uuid.UUID) error {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "analysis already reached a terminal state")
		},
	}
	analysisID := uuid.New()
	req := withOwner(httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/"+analysisID.String(), nil), uuid.New())
	req = addRouteParam(req, "analysisID", analysisID.String())
	resp := httptest.NewRecorder()
	CancelAnalysis(svc, testLogger())(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}
