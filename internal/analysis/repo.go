package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/veridex/veridex-backend/pkg/db"
	"github.com/veridex/veridex-backend/pkg/db/models"
	"github.com/veridex/veridex-backend/pkg/enums"
)

// Repository exposes persistence for analyses and their detector outcomes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// CreateIfAbsent inserts the queued analysis unless a non-terminal run
	// for the same (video_hash, detector_set_key) exists, in which case the
	// existing run is returned and created is false. Admission races resolve
	// through the analyses_singleflight_key partial unique index.
	CreateIfAbsent(ctx context.Context, analysis *models.Analysis) (*models.Analysis, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	FindActive(ctx context.Context, videoHash, setKey string) (*models.Analysis, error)
	FetchQueued(ctx context.Context, limit int) ([]models.Analysis, error)
	// Claim flips queued to processing; false means another worker won or
	// the run was cancelled in the meantime.
	Claim(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	// MarkCompleted and MarkFailed only fire while the run is processing;
	// false means the run reached a terminal state some other way.
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	// Requeue returns a processing run to the queue, clearing its claim.
	// False means the run already reached some other state.
	Requeue(ctx context.Context, id uuid.UUID) (bool, error)
	// RequeueStale requeues every processing row claimed before the cutoff,
	// reclaiming runs orphaned by a crashed worker.
	RequeueStale(ctx context.Context, olderThan time.Time) (int64, error)
	InsertOutcomes(ctx context.Context, outcomes []models.DetectorOutcome) error
	ListOutcomes(ctx context.Context, analysisID uuid.UUID) ([]models.DetectorOutcome, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns the analyses repository.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) CreateIfAbsent(ctx context.Context, analysis *models.Analysis) (*models.Analysis, bool, error) {
	err := r.db.WithContext(ctx).Create(analysis).Error
	if err == nil {
		return analysis, true, nil
	}
	if !dbpkg.IsUniqueViolation(err, "") {
		return nil, false, err
	}
	existing, findErr := r.FindActive(ctx, analysis.VideoHash, analysis.DetectorSetKey)
	if findErr != nil {
		return nil, false, findErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	var analysis models.Analysis
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&analysis).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &analysis, nil
}

func (r *repositoryImpl) FindActive(ctx context.Context, videoHash, setKey string) (*models.Analysis, error) {
	var analysis models.Analysis
	err := r.db.WithContext(ctx).
		Where("video_hash = ? AND detector_set_key = ? AND status IN ?",
			videoHash, setKey, []enums.AnalysisStatus{enums.AnalysisStatusQueued, enums.AnalysisStatusProcessing}).
		First(&analysis).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &analysis, nil
}

func (r *repositoryImpl) FetchQueued(ctx context.Context, limit int) ([]models.Analysis, error) {
	if limit <= 0 {
		limit = 10
	}
	var analyses []models.Analysis
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.AnalysisStatusQueued).
		Order("queued_at ASC").
		Limit(limit).
		Find(&analyses).Error
	if err != nil {
		return nil, err
	}
	return analyses, nil
}

func (r *repositoryImpl) Claim(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Analysis{}).
		Where("id = ? AND status = ?", id, enums.AnalysisStatusQueued).
		Updates(map[string]any{
			"status":     enums.AnalysisStatusProcessing,
			"started_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	return r.db.WithContext(ctx).
		Model(&models.Analysis{}).
		Where("id = ? AND status = ?", id, enums.AnalysisStatusProcessing).
		Update("progress", progress).Error
}

func (r *repositoryImpl) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Analysis{}).
		Where("id = ? AND status = ?", id, enums.AnalysisStatusProcessing).
		Updates(map[string]any{
			"status":       enums.AnalysisStatusCompleted,
			"progress":     100,
			"completed_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Analysis{}).
		Where("id = ? AND status = ?", id, enums.AnalysisStatusProcessing).
		Updates(map[string]any{
			"status":         enums.AnalysisStatusFailed,
			"failure_reason": reason,
			"completed_at":   at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Analysis{}).
		Where("id = ? AND status IN ?", id,
			[]enums.AnalysisStatus{enums.AnalysisStatusQueued, enums.AnalysisStatusProcessing}).
		Update("status", enums.AnalysisStatusCancelled)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Analysis{}).
		Where("id = ? AND status = ?", id, enums.AnalysisStatusProcessing).
		Updates(map[string]any{
			"status":     enums.AnalysisStatusQueued,
			"progress":   0,
			"started_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Analysis{}).
		Where("status = ? AND started_at < ?", enums.AnalysisStatusProcessing, olderThan).
		Updates(map[string]any{
			"status":     enums.AnalysisStatusQueued,
			"progress":   0,
			"started_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) InsertOutcomes(ctx context.Context, outcomes []models.DetectorOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&outcomes).Error
}

func (r *repositoryImpl) ListOutcomes(ctx context.Context, analysisID uuid.UUID) ([]models.DetectorOutcome, error) {
	var outcomes []models.DetectorOutcome
	err := r.db.WithContext(ctx).
		Where("analysis_id = ?", analysisID).
		Order("detector ASC").
		Find(&outcomes).Error
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}
