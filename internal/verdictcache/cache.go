package verdictcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/veridex/veridex-backend/internal/content"
	dbpkg "github.com/veridex/veridex-backend/pkg/db"
	"github.com/veridex/veridex-backend/pkg/db/models"
	"github.com/veridex/veridex-backend/pkg/logger"
	"github.com/veridex/veridex-backend/pkg/metrics"
)

const uniqueCacheConstraint = "fused_verdicts_cache_key"

type cacheRedis interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	VerdictCacheKey(contentHash, setKey string) string
}

// Repository is the durable verdict tier over fused_verdicts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Insert is write-once; a second writer for the same (hash, set key)
	// is a silent no-op.
	Insert(ctx context.Context, verdict *models.FusedVerdict) (bool, error)
	FindByKey(ctx context.Context, videoHash, setKey string) (*models.FusedVerdict, error)
	FindByAnalysisID(ctx context.Context, analysisID string) (*models.FusedVerdict, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns the fused_verdicts repository.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Insert(ctx context.Context, verdict *models.FusedVerdict) (bool, error) {
	err := r.db.WithContext(ctx).Create(verdict).Error
	if err == nil {
		return true, nil
	}
	if dbpkg.IsUniqueViolation(err, "") {
		return false, nil
	}
	return false, err
}

func (r *repositoryImpl) FindByKey(ctx context.Context, videoHash, setKey string) (*models.FusedVerdict, error) {
	var verdict models.FusedVerdict
	err := r.db.WithContext(ctx).
		Where("video_hash = ? AND detector_set_key = ?", videoHash, setKey).
		First(&verdict).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &verdict, nil
}

func (r *repositoryImpl) FindByAnalysisID(ctx context.Context, analysisID string) (*models.FusedVerdict, error) {
	var verdict models.FusedVerdict
	err := r.db.WithContext(ctx).Where("analysis_id = ?", analysisID).First(&verdict).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &verdict, nil
}

// Cache is the two-tier verdict cache: Redis in front of fused_verdicts. The
// Redis tier is a rebuildable index; a flush only costs latency.
type Cache struct {
	redis   cacheRedis
	repo    Repository
	ttl     time.Duration
	metrics *metrics.PipelineMetrics
	logg    *logger.Logger
}

// New wires the cache. A zero TTL keeps Redis entries until eviction.
func New(redis cacheRedis, repo Repository, ttl time.Duration, pipelineMetrics *metrics.PipelineMetrics, logg *logger.Logger) (*Cache, error) {
	if redis == nil {
		return nil, errors.New("redis client required")
	}
	if repo == nil {
		return nil, errors.New("verdict repository required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Cache{redis: redis, repo: repo, ttl: ttl, metrics: pipelineMetrics, logg: logg}, nil
}

// Lookup returns the cached verdict for (hash, set key), or nil on a miss.
// Durable hits are backfilled into Redis.
func (c *Cache) Lookup(ctx context.Context, videoHash, setKey string) (*models.FusedVerdict, error) {
	key := c.redis.VerdictCacheKey(videoHash, setKey)
	raw, err := c.redis.Get(ctx, key)
	switch {
	case err == nil:
		var verdict models.FusedVerdict
		if decodeErr := json.Unmarshal([]byte(raw), &verdict); decodeErr == nil {
			c.count("hit_redis")
			return &verdict, nil
		}
		// Poisoned entry; fall through to the durable tier.
		c.logg.Warn(c.logg.WithContentHash(ctx, videoHash), "discarding undecodable verdict cache entry")
	case !errors.Is(err, goredis.Nil):
		// Redis being down degrades to the durable tier.
		c.logg.Error(ctx, "verdict cache redis lookup", err)
	}

	verdict, err := c.repo.FindByKey(ctx, videoHash, setKey)
	if err != nil {
		return nil, err
	}
	if verdict == nil {
		c.count("miss")
		return nil, nil
	}
	c.count("hit_durable")
	c.Prime(ctx, verdict)
	return verdict, nil
}

// StoreTx persists the verdict in the durable tier inside the caller's
// transaction. Write-once; a concurrent writer losing the race is a no-op.
func (c *Cache) StoreTx(ctx context.Context, tx *gorm.DB, verdict *models.FusedVerdict) error {
	if err := validate(verdict); err != nil {
		return err
	}
	_, err := c.repo.WithTx(tx).Insert(ctx, verdict)
	return err
}

// Store persists the verdict in both tiers outside any transaction.
func (c *Cache) Store(ctx context.Context, verdict *models.FusedVerdict) error {
	if err := validate(verdict); err != nil {
		return err
	}
	if _, err := c.repo.Insert(ctx, verdict); err != nil {
		return err
	}
	c.Prime(ctx, verdict)
	return nil
}

// Prime writes the Redis tier, first writer wins. Failures are logged and
// swallowed; the durable tier stays authoritative.
func (c *Cache) Prime(ctx context.Context, verdict *models.FusedVerdict) {
	if err := validate(verdict); err != nil {
		c.logg.Error(ctx, "refusing to prime verdict cache", err)
		return
	}
	payload, err := json.Marshal(verdict)
	if err != nil {
		c.logg.Error(ctx, "encoding verdict for cache", err)
		return
	}
	key := c.redis.VerdictCacheKey(verdict.VideoHash, verdict.DetectorSetKey)
	if _, err := c.redis.SetNX(ctx, key, string(payload), c.ttl); err != nil {
		c.logg.Error(ctx, "priming verdict cache", err)
	}
}

func validate(verdict *models.FusedVerdict) error {
	if verdict == nil {
		return errors.New("verdict is required")
	}
	if !content.ValidHash(verdict.VideoHash) {
		return fmt.Errorf("verdict carries invalid content hash %q", verdict.VideoHash)
	}
	if verdict.DetectorSetKey == "" {
		return errors.New("verdict is missing its detector set key")
	}
	if !verdict.Label.IsValid() {
		return fmt.Errorf("verdict carries invalid label %q", verdict.Label)
	}
	return nil
}

func (c *Cache) count(result string) {
	if c.metrics != nil {
		c.metrics.IncVerdictCache(result)
	}
}
