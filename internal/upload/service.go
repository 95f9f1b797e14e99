package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veridex/veridex-backend/internal/content"
	"github.com/veridex/veridex-backend/internal/videos"
	"github.com/veridex/veridex-backend/pkg/config"
	dbpkg "github.com/veridex/veridex-backend/pkg/db"
	"github.com/veridex/veridex-backend/pkg/db/models"
	"github.com/veridex/veridex-backend/pkg/enums"
	pkgerrors "github.com/veridex/veridex-backend/pkg/errors"
	"github.com/veridex/veridex-backend/pkg/logger"
	"github.com/veridex/veridex-backend/pkg/metrics"
	"github.com/veridex/veridex-backend/pkg/outbox"
	"github.com/veridex/veridex-backend/pkg/outbox/payloads"
)

// InitiateRequest declares a new chunked upload session.
type InitiateRequest struct {
	OwnerID      uuid.UUID
	FileName     string
	MimeType     string
	TotalSize    int64
	ChunkSize    int64
	DeclaredHash string
}

// ChunkRequest carries one chunk payload for an active session.
type ChunkRequest struct {
	SessionID uuid.UUID
	OwnerID   uuid.UUID
	Index     int
	Body      io.Reader
	ChunkHash string
}

// ChunkReceipt acknowledges a chunk, including replays of already stored indexes.
type ChunkReceipt struct {
	SessionID   uuid.UUID
	Index       int
	Replay      bool
	Received    int64
	TotalChunks int
	Completed   bool
	Finalized   *FinalizeResult
}

// Progress is the read model for session status queries.
type Progress struct {
	Session  *Session
	Received int64
	Missing  []int
}

// FinalizeResult reports the stored video and whether it was already known.
type FinalizeResult struct {
	SessionID uuid.UUID
	Video     *models.Video
	Duplicate bool
}

type objectArchiver interface {
	DefaultBucket() string
	UploadObject(ctx context.Context, bucket, objectKey, contentType string, body io.Reader, size int64) error
}

// Service owns the chunked upload lifecycle from initiation to assembly.
type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (*Session, error)
	AcceptChunk(ctx context.Context, req ChunkRequest) (*ChunkReceipt, error)
	Finalize(ctx context.Context, sessionID, ownerID uuid.UUID) (*FinalizeResult, error)
	Cancel(ctx context.Context, sessionID, ownerID uuid.UUID) error
	Get(ctx context.Context, sessionID, ownerID uuid.UUID) (*Progress, error)
}

type service struct {
	sessions *SessionStore
	chunks   *ChunkStore
	videos   videos.Repository
	dbClient *dbpkg.Client
	outbox   *outbox.Service
	archiver objectArchiver
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
	cfg      config.UploadConfig
}

// NewService validates dependencies and returns the upload service. The
// archiver is optional; every other dependency is required.
func NewService(
	sessions *SessionStore,
	chunks *ChunkStore,
	videoRepo videos.Repository,
	dbClient *dbpkg.Client,
	outboxSvc *outbox.Service,
	archiver objectArchiver,
	pipelineMetrics *metrics.PipelineMetrics,
	logg *logger.Logger,
	cfg config.UploadConfig,
) (Service, error) {
	if sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "session store is required")
	}
	if chunks == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "chunk store is required")
	}
	if videoRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "videos repository is required")
	}
	if dbClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "db client is required")
	}
	if outboxSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service is required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger is required")
	}
	if err := os.MkdirAll(cfg.VideoDir, 0o755); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating video dir")
	}
	return &service{
		sessions: sessions,
		chunks:   chunks,
		videos:   videoRepo,
		dbClient: dbClient,
		outbox:   outboxSvc,
		archiver: archiver,
		metrics:  pipelineMetrics,
		logg:     logg,
		cfg:      cfg,
	}, nil
}

func (s *service) Initiate(ctx context.Context, req InitiateRequest) (*Session, error) {
	if req.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file name is required")
	}
	if req.TotalSize <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total size must be positive")
	}
	if req.TotalSize > s.cfg.MaxUploadBytes() {
		return nil, pkgerrors.New(pkgerrors.CodePayloadTooLarge, "file exceeds maximum upload size")
	}
	if req.ChunkSize <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "chunk size must be positive")
	}
	if req.ChunkSize > s.cfg.MaxChunkBytes() {
		return nil, pkgerrors.New(pkgerrors.CodePayloadTooLarge, "chunk size exceeds maximum")
	}
	if !s.allowedMime(req.MimeType) {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedFormat, fmt.Sprintf("unsupported media type %q", req.MimeType))
	}
	if !s.allowedExt(req.FileName) {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedFormat, fmt.Sprintf("unsupported file extension %q", filepath.Ext(req.FileName)))
	}
	declared := strings.TrimSpace(strings.ToLower(req.DeclaredHash))
	if declared != "" && !content.ValidHash(declared) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "declared hash is not a valid sha-256 digest")
	}

	now := time.Now().UTC()
	totalChunks := int((req.TotalSize + req.ChunkSize - 1) / req.ChunkSize)
	session := &Session{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		FileName:       filepath.Base(req.FileName),
		MimeType:       req.MimeType,
		TotalSize:      req.TotalSize,
		ChunkSize:      req.ChunkSize,
		TotalChunks:    totalChunks,
		DeclaredHash:   declared,
		Status:         enums.UploadStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.cfg.SessionTimeout),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating upload session")
	}

	logCtx := s.logg.WithSessionID(s.logg.WithOwnerID(ctx, req.OwnerID.String()), session.ID.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"file_name":    session.FileName,
		"total_size":   session.TotalSize,
		"total_chunks": session.TotalChunks,
	}), "upload session initiated")
	return session, nil
}

func (s *service) AcceptChunk(ctx context.Context, req ChunkRequest) (*ChunkReceipt, error) {
	session, err := s.loadOwnedSession(ctx, req.SessionID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.UploadStatusActive {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrSessionClosed, "session is not accepting chunks")
	}
	if session.Expired(time.Now().UTC()) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrSessionExpired, "session has expired")
	}
	if req.Index < 0 || req.Index >= session.TotalChunks {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrChunkOutOfRange,
			fmt.Sprintf("chunk index %d outside [0,%d)", req.Index, session.TotalChunks))
	}

	// A committed chunk is immutable; replays are acknowledged without
	// touching the stored bytes.
	if s.chunks.HasChunk(session.ID.String(), req.Index) {
		received, err := s.sessions.Received(ctx, session.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading chunk counter")
		}
		s.countChunk("replay")
		return &ChunkReceipt{
			SessionID:   session.ID,
			Index:       req.Index,
			Replay:      true,
			Received:    received,
			TotalChunks: session.TotalChunks,
			Completed:   received >= int64(session.TotalChunks),
		}, nil
	}

	expected := session.ExpectedChunkSize(req.Index)
	n, digest, err := s.chunks.SaveChunk(session.ID.String(), req.Index, req.Body, expected)
	if err != nil {
		s.countChunk("rejected")
		if errors.Is(err, ErrChunkTooLarge) {
			return nil, pkgerrors.Wrap(pkgerrors.CodePayloadTooLarge, err,
				fmt.Sprintf("chunk %d larger than expected %d bytes", req.Index, expected))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "spooling chunk")
	}
	if n != expected {
		s.countChunk("rejected")
		_ = s.chunks.RemoveChunk(session.ID.String(), req.Index)
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrChunkSizeMismatch,
			fmt.Sprintf("chunk %d is %d bytes, expected %d", req.Index, n, expected))
	}
	if want := strings.TrimSpace(strings.ToLower(req.ChunkHash)); want != "" && want != digest {
		s.countChunk("rejected")
		_ = s.chunks.RemoveChunk(session.ID.String(), req.Index)
		return nil, pkgerrors.Wrap(pkgerrors.CodeChunkIntegrity, ErrChunkIntegrity,
			fmt.Sprintf("chunk %d digest mismatch", req.Index))
	}

	// Accepting a chunk is activity; slide the deadline before the marker
	// write so it inherits the extended TTL.
	if err := s.sessions.Touch(ctx, session, time.Now().UTC(), s.cfg.SessionTimeout); err != nil {
		s.logg.Error(ctx, "sliding session deadline", err)
	}

	first, received, err := s.sessions.MarkChunk(ctx, session, req.Index)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording chunk receipt")
	}
	if first {
		s.countChunk("accepted")
		if err := s.emitProgress(ctx, session, int(received)); err != nil {
			s.logg.Error(ctx, "emitting upload progress event", err)
		}
	} else {
		s.countChunk("replay")
	}

	receipt := &ChunkReceipt{
		SessionID:   session.ID,
		Index:       req.Index,
		Replay:      !first,
		Received:    received,
		TotalChunks: session.TotalChunks,
		Completed:   received >= int64(session.TotalChunks),
	}
	if receipt.Completed && first && s.cfg.AutoFinalize {
		result, err := s.Finalize(ctx, session.ID, session.OwnerID)
		if err != nil {
			return nil, err
		}
		receipt.Finalized = result
	}
	return receipt, nil
}

func (s *service) Finalize(ctx context.Context, sessionID, ownerID uuid.UUID) (*FinalizeResult, error) {
	session, err := s.loadOwnedSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.UploadStatusActive {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrSessionClosed, "session already finalized or closed")
	}
	received, err := s.sessions.Received(ctx, session.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading chunk counter")
	}
	if received < int64(session.TotalChunks) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrIncompleteUpload,
			fmt.Sprintf("received %d of %d chunks", received, session.TotalChunks))
	}

	session.Status = enums.UploadStatusAssembling
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating session state")
	}

	hash, size, storagePath, err := s.assemble(session)
	if err != nil {
		return nil, err
	}

	video := &models.Video{
		ID:          uuid.New(),
		ContentHash: hash,
		OwnerID:     session.OwnerID,
		FileName:    session.FileName,
		MimeType:    session.MimeType,
		SizeBytes:   size,
		StoragePath: storagePath,
	}
	var (
		stored  *models.Video
		created bool
	)
	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		stored, created, txErr = s.videos.WithTx(tx).CreateIfAbsent(ctx, video)
		if txErr != nil {
			return txErr
		}
		if created {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventUploadCompleted,
				AggregateType: enums.AggregateVideo,
				AggregateID:   stored.ID,
				Actor:         &outbox.ActorRef{OwnerID: session.OwnerID},
				Data: payloads.UploadCompletedEvent{
					SessionID:   session.ID,
					OwnerID:     session.OwnerID,
					VideoID:     stored.ID,
					ContentHash: stored.ContentHash,
					FileName:    stored.FileName,
					SizeBytes:   stored.SizeBytes,
				},
				Version: 1,
			})
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDuplicateDetected,
			AggregateType: enums.AggregateVideo,
			AggregateID:   stored.ID,
			Actor:         &outbox.ActorRef{OwnerID: session.OwnerID},
			Data: payloads.DuplicateDetectedEvent{
				SessionID:   session.ID,
				OwnerID:     session.OwnerID,
				VideoID:     stored.ID,
				ContentHash: stored.ContentHash,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing video record")
	}

	if created {
		if s.metrics != nil {
			s.metrics.IncUploadCompleted()
		}
		s.archive(ctx, stored)
	} else if s.metrics != nil {
		s.metrics.IncDuplicateHit()
	}

	session.Status = enums.UploadStatusCompleted
	if err := s.sessions.Update(ctx, session); err != nil {
		s.logg.Error(ctx, "marking session completed", err)
	}
	if err := s.chunks.RemoveSession(session.ID.String()); err != nil {
		s.logg.Error(ctx, "cleaning session spool", err)
	}

	logCtx := s.logg.WithContentHash(s.logg.WithSessionID(ctx, session.ID.String()), hash)
	s.logg.Info(s.logg.WithField(logCtx, "duplicate", !created), "upload finalized")
	return &FinalizeResult{SessionID: session.ID, Video: stored, Duplicate: !created}, nil
}

// Cancel tears down a session. Repeated cancels, cancels of expired or
// unknown sessions, and cancels after completion all succeed.
func (s *service) Cancel(ctx context.Context, sessionID, ownerID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading upload session")
	}
	if session == nil {
		// Nothing to cancel; reclaim any spool the sweeper has not
		// reached yet.
		if err := s.chunks.RemoveSession(sessionID.String()); err != nil {
			s.logg.Error(ctx, "cleaning session spool", err)
		}
		return nil
	}
	if ownerID != uuid.Nil && session.OwnerID != ownerID {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrSessionNotFound, "upload session not found")
	}
	if session.Status.IsTerminal() {
		return nil
	}
	if err := s.sessions.Delete(ctx, session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deleting session state")
	}
	if err := s.chunks.RemoveSession(session.ID.String()); err != nil {
		s.logg.Error(ctx, "cleaning session spool", err)
	}
	s.logg.Info(s.logg.WithSessionID(ctx, session.ID.String()), "upload session cancelled")
	return nil
}

func (s *service) Get(ctx context.Context, sessionID, ownerID uuid.UUID) (*Progress, error) {
	session, err := s.loadOwnedSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	received, err := s.sessions.Received(ctx, session.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading chunk counter")
	}
	progress := &Progress{Session: session, Received: received}
	if session.Status == enums.UploadStatusActive && received < int64(session.TotalChunks) {
		for idx := 0; idx < session.TotalChunks; idx++ {
			if !s.chunks.HasChunk(session.ID.String(), idx) {
				progress.Missing = append(progress.Missing, idx)
			}
		}
	}
	return progress, nil
}

// assemble streams the spooled chunks into the content-addressed video store.
// The file lands under a temp name first so a crashed assembly never leaves a
// partial file at its final path.
func (s *service) assemble(session *Session) (hash string, size int64, path string, err error) {
	tmp, err := os.CreateTemp(s.cfg.VideoDir, "assemble-*.tmp")
	if err != nil {
		return "", 0, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating assembly temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	hash, size, err = s.chunks.Assemble(session.ID.String(), session.TotalChunks, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, "", pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "assembling upload")
	}
	if size != session.TotalSize {
		return "", 0, "", pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("assembled %d bytes, session declared %d", size, session.TotalSize))
	}
	if session.DeclaredHash != "" && session.DeclaredHash != hash {
		return "", 0, "", pkgerrors.Wrap(pkgerrors.CodeChunkIntegrity, ErrContentHashMismatch,
			"assembled content does not match declared hash")
	}

	final := filepath.Join(s.cfg.VideoDir, hash+strings.ToLower(filepath.Ext(session.FileName)))
	if err := os.Rename(tmpName, final); err != nil {
		return "", 0, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "committing assembled video")
	}
	return hash, size, final, nil
}

// archive mirrors a newly stored video to object storage. Archival is best
// effort and never fails the upload.
func (s *service) archive(ctx context.Context, video *models.Video) {
	if s.archiver == nil || !s.cfg.ArchiveOnAssemb {
		return
	}
	f, err := os.Open(video.StoragePath)
	if err != nil {
		s.logg.Error(ctx, "opening video for archive", err)
		return
	}
	defer func() { _ = f.Close() }()

	key := "videos/" + video.ContentHash + strings.ToLower(filepath.Ext(video.FileName))
	bucket := s.archiver.DefaultBucket()
	if err := s.archiver.UploadObject(ctx, bucket, key, video.MimeType, f, video.SizeBytes); err != nil {
		s.logg.Error(s.logg.WithContentHash(ctx, video.ContentHash), "archiving video to object storage", err)
		return
	}
	if err := s.videos.MarkArchived(ctx, video.ID, key, time.Now().UTC()); err != nil {
		s.logg.Error(ctx, "recording archive key", err)
	}
}

func (s *service) emitProgress(ctx context.Context, session *Session, received int) error {
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventUploadProgress,
			AggregateType: enums.AggregateUploadSession,
			AggregateID:   session.ID,
			Actor:         &outbox.ActorRef{OwnerID: session.OwnerID},
			Data: payloads.UploadProgressEvent{
				SessionID:      session.ID,
				OwnerID:        session.OwnerID,
				ReceivedChunks: received,
				TotalChunks:    session.TotalChunks,
			},
			Version: 1,
		})
	})
}

func (s *service) loadOwnedSession(ctx context.Context, sessionID, ownerID uuid.UUID) (*Session, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading upload session")
	}
	if session == nil || (ownerID != uuid.Nil && session.OwnerID != ownerID) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrSessionNotFound, "upload session not found")
	}
	return session, nil
}

func (s *service) allowedMime(mimeType string) bool {
	for _, allowed := range s.cfg.AllowedFormats {
		if strings.EqualFold(strings.TrimSpace(allowed), mimeType) {
			return true
		}
	}
	return false
}

func (s *service) allowedExt(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, allowed := range s.cfg.AllowedExts {
		if strings.TrimSpace(strings.ToLower(allowed)) == ext {
			return true
		}
	}
	return false
}

func (s *service) countChunk(outcome string) {
	if s.metrics != nil {
		s.metrics.IncChunkReceived(outcome)
	}
}
