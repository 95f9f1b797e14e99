package controllers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/internal/upload"
	pkgerrors "github.com/veridex/veridex-backend/pkg/errors"
)

type testUploadService struct {
	initiateFn func(ctx context.Context, req upload.InitiateRequest) (*upload.Session, error)
	chunkFn    func(ctx context.Context, req upload.ChunkRequest) (*upload.ChunkReceipt, error)
	finalizeFn func(ctx context.Context, sessionID, ownerID uuid.UUID) (*upload.FinalizeResult, error)
	cancelFn   func(ctx context.Context, sessionID, ownerID uuid.UUID) error
	getFn      func(ctx context.Context, sessionID, ownerID uuid.UUID) (*upload.Progress, error)
}

func (s *testUploadService) Initiate(ctx context.Context, req upload.InitiateRequest) (*upload.Session, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, req)
	}
	return &upload.Session{}, nil
}

func (s *testUploadService) AcceptChunk(ctx context.Context, req upload.ChunkRequest) (*upload.ChunkReceipt, error) {
	if s.chunkFn != nil {
		return s.chunkFn(ctx, req)
	}
	return &upload.ChunkReceipt{}, nil
}

func (s *testUploadService) Finalize(ctx context.Context, sessionID, ownerID uuid.UUID) (*upload.FinalizeResult, error) {
	if s.finalizeFn != nil {
		return s.finalizeFn(ctx, sessionID, ownerID)
	}
	return &upload.FinalizeResult{}, nil
}

func (s *testUploadService) Cancel(ctx context.Context, sessionID, ownerID uuid.UUID) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, sessionID, ownerID)
	}
	return nil
}

func (s *testUploadService) Get(ctx context.Context, sessionID, ownerID uuid.UUID) (*upload.Progress, error) {
	if s.getFn != nil {
		return s.getFn(ctx, sessionID, ownerID)
	}
	return &upload.Progress{}, nil
}

func TestInitiateUploadCreated(t *testing.T) {
	ownerID := uuid.New()
	sessionID := uuid.New()
	svc := &testUploadService{
		initiateFn: func(ctx context.Context, req upload.InitiateRequest) (*upload.Session, error) {
			if req.OwnerID != ownerID {
				t.Fatalf("unexpected owner %s", req.OwnerID)
			}
			if req.FileName != "clip.mp4" || req.ChunkSize != 1048576 {
				t.Fatalf("unexpected request %+v", req)
			}
			return &upload.Session{ID: sessionID, OwnerID: ownerID, FileName: req.FileName}, nil
		},
	}

	body := `{"file_name":"clip.mp4","mime_type":"video/mp4","total_size":5242880,"chunk_size":1048576}`
	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(body)), ownerID)
	resp := httptest.NewRecorder()
	InitiateUpload(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var session upload.Session
	decodeData(t, resp, &session)
	if session.ID != sessionID {
		t.Fatalf("unexpected session id %s", session.ID)
	}
}

func TestInitiateUploadRejectsMissingFields(t *testing.T) {
	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(`{"file_name":"x"}`)), uuid.New())
	resp := httptest.NewRecorder()
	InitiateUpload(&testUploadService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestInitiateUploadRejectsBadDeclaredHash(t *testing.T) {
	body := `{"file_name":"clip.mp4","mime_type":"video/mp4","total_size":10,"chunk_size":5,"declared_hash":"zz"}`
	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(body)), uuid.New())
	resp := httptest.NewRecorder()
	InitiateUpload(&testUploadService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestUploadChunkForwardsBodyAndHash(t *testing.T) {
	ownerID := uuid.New()
	sessionID := uuid.New()
	chunkHash := strings.Repeat("ab", 32)
	svc := &testUploadService{
		chunkFn: func(ctx context.Context, req upload.ChunkRequest) (*upload.ChunkReceipt, error) {
			if req.SessionID != sessionID || req.OwnerID != ownerID {
				t.Fatalf("unexpected identifiers %+v", req)
			}
			if req.Index != 2 {
				t.Fatalf("unexpected index %d", req.Index)
			}
			if req.ChunkHash != chunkHash {
				t.Fatalf("unexpected hash %q", req.ChunkHash)
			}
			payload, err := io.ReadAll(req.Body)
			if err != nil || string(payload) != "chunk-bytes" {
				t.Fatalf("unexpected body %q err %v", payload, err)
			}
			return &upload.ChunkReceipt{SessionID: sessionID, Index: 2, Received: 3, TotalChunks: 5}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/uploads/"+sessionID.String()+"/chunks/2", strings.NewReader("chunk-bytes"))
	req.Header.Set("X-Chunk-Hash", chunkHash)
	req = withOwner(req, ownerID)
	req = addRouteParam(req, "sessionID", sessionID.String())
	req = addRouteParam(req, "index", "2")

	resp := httptest.NewRecorder()
	UploadChunk(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var receipt upload.ChunkReceiptDTO
	decodeData(t, resp, &receipt)
	if receipt.Received != 3 || receipt.TotalChunks != 5 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestUploadChunkRejectsBadIndex(t *testing.T) {
	sessionID := uuid.New()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/uploads/"+sessionID.String()+"/chunks/-1", strings.NewReader("x"))
	req = withOwner(req, uuid.New())
	req = addRouteParam(req, "sessionID", sessionID.String())
	req = addRouteParam(req, "index", "-1")

	resp := httptest.NewRecorder()
	UploadChunk(&testUploadService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestFinalizeUploadReportsDuplicate(t *testing.T) {
	sessionID := uuid.New()
	ownerID := uuid.New()
	svc := &testUploadService{
		finalizeFn: func(ctx context.Context, sid, oid uuid.UUID) (*upload.FinalizeResult, error) {
			if sid != sessionID || oid != ownerID {
				t.Fatalf("unexpected identifiers %s %s", sid, oid)
			}
			return &upload.FinalizeResult{SessionID: sessionID, Duplicate: true}, nil
		},
	}

	req := withOwner(httptest.NewRequest(http.MethodPost, "/api/v1/uploads/"+sessionID.String()+"/finalize", nil), ownerID)
	req = addRouteParam(req, "sessionID", sessionID.String())
	resp := httptest.NewRecorder()
	FinalizeUpload(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var result upload.FinalizeResultDTO
	decodeData(t, resp, &result)
	if !result.Duplicate {
		t.Fatal("expected duplicate flag")
	}
}

func TestCancelUploadReturnsNoContent(t *testing.T) {
	svc := &testUploadService{
		cancelFn: func(context.Context, uuid.UUID, uuid.UUID) error { return nil },
	}
	sessionID := uuid.New()
	req := withOwner(httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/"+sessionID.String(), nil), uuid.New())
	req = addRouteParam(req, "sessionID", sessionID.String())
	resp := httptest.NewRecorder()
	CancelUpload(svc, testLogger())(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", resp.Code)
	}
	if resp.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", resp.Body.String())
	}
}

func TestCancelUploadNotFound(t *testing.T) {
	svc := &testUploadService{
		cancelFn: func(ctx context.Context, sessionID, ownerID uuid.UUID) error {
			return pkgerrors.New(pkgerrors.CodeNotFound, "upload session not found")
		},
	}
	sessionID := uuid.New()
	req := withOwner(httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/"+sessionID.String(), nil), uuid.New())
	req = addRouteParam(req, "sessionID", sessionID.String())
	resp := httptest.NewRecorder()
	CancelUpload(svc, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
