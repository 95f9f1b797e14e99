package videos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/veridex/veridex-backend/pkg/db"
	"github.com/veridex/veridex-backend/pkg/db/models"
)

// Repository exposes persistence helpers for content-addressed videos.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByHash(ctx context.Context, contentHash string) (*models.Video, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	// CreateIfAbsent inserts the row unless the content hash is already
	// stored, returning the surviving row and whether this call created it.
	CreateIfAbsent(ctx context.Context, video *models.Video) (*models.Video, bool, error)
	MarkArchived(ctx context.Context, id uuid.UUID, gcsKey string, at time.Time) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a videos repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindByHash(ctx context.Context, contentHash string) (*models.Video, error) {
	var video models.Video
	err := r.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &video, nil
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	var video models.Video
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &video, nil
}

func (r *repositoryImpl) CreateIfAbsent(ctx context.Context, video *models.Video) (*models.Video, bool, error) {
	err := r.db.WithContext(ctx).Create(video).Error
	if err == nil {
		return video, true, nil
	}
	if !dbpkg.IsUniqueViolation(err, "") {
		return nil, false, err
	}
	existing, findErr := r.FindByHash(ctx, video.ContentHash)
	if findErr != nil {
		return nil, false, findErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repositoryImpl) MarkArchived(ctx context.Context, id uuid.UUID, gcsKey string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"gcs_key":     gcsKey,
			"archived_at": at,
		}).Error
}
