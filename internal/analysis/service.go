package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/veridex/veridex-backend/internal/content"
	"github.com/veridex/veridex-backend/internal/detectors"
	"github.com/veridex/veridex-backend/internal/verdictcache"
	"github.com/veridex/veridex-backend/internal/videos"
	dbpkg "github.com/veridex/veridex-backend/pkg/db"
	"github.com/veridex/veridex-backend/pkg/db/models"
	"github.com/veridex/veridex-backend/pkg/enums"
	pkgerrors "github.com/veridex/veridex-backend/pkg/errors"
	"github.com/veridex/veridex-backend/pkg/logger"
	"github.com/veridex/veridex-backend/pkg/metrics"
	"github.com/veridex/veridex-backend/pkg/outbox"
	"github.com/veridex/veridex-backend/pkg/outbox/payloads"
)

// StartRequest asks for an analysis of a stored video by content hash.
type StartRequest struct {
	VideoHash   string
	RequestedBy uuid.UUID
}

// StartResult reports how the request was admitted. Exactly one of the
// three shapes holds: a cache hit with a verdict, an already running
// analysis, or a freshly queued one.
type StartResult struct {
	Analysis       *models.Analysis
	Verdict        *models.FusedVerdict
	CacheHit       bool
	AlreadyRunning bool
}

// View is the read model for analysis status queries.
type View struct {
	Analysis *models.Analysis
	Outcomes []models.DetectorOutcome
	Verdict  *models.FusedVerdict
}

// Service admits and reads analysis runs. The heavy lifting happens in the
// worker-side Runner.
type Service interface {
	Start(ctx context.Context, req StartRequest) (*StartResult, error)
	Get(ctx context.Context, analysisID uuid.UUID) (*View, error)
	Cancel(ctx context.Context, analysisID uuid.UUID) error
}

type service struct {
	repo     Repository
	videos   videos.Repository
	cache    *verdictcache.Cache
	pool     *detectors.Pool
	dbClient *dbpkg.Client
	outbox   *outbox.Service
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
}

// NewService validates dependencies and returns the analysis service.
func NewService(
	repo Repository,
	videoRepo videos.Repository,
	cache *verdictcache.Cache,
	pool *detectors.Pool,
	dbClient *dbpkg.Client,
	outboxSvc *outbox.Service,
	pipelineMetrics *metrics.PipelineMetrics,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "analysis repository is required")
	}
	if videoRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "videos repository is required")
	}
	if cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "verdict cache is required")
	}
	if pool == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "detector pool is required")
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
	return &service{
		repo:     repo,
		videos:   videoRepo,
		cache:    cache,
		pool:     pool,
		dbClient: dbClient,
		outbox:   outboxSvc,
		metrics:  pipelineMetrics,
		logg:     logg,
	}, nil
}

func (s *service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	hash, err := content.Normalize(req.VideoHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid video hash")
	}
	if req.RequestedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requester id is required")
	}

	video, err := s.videos.FindByHash(ctx, hash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up video")
	}
	if video == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no video stored for this content hash")
	}

	setKey := s.pool.SetKey()
	verdict, err := s.cache.Lookup(ctx, hash, setKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "querying verdict cache")
	}
	if verdict != nil {
		completed, err := s.repo.FindByID(ctx, verdict.AnalysisID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading cached analysis")
		}
		return &StartResult{Analysis: completed, Verdict: verdict, CacheHit: true}, nil
	}

	now := time.Now().UTC()
	candidate := &models.Analysis{
		ID:             uuid.New(),
		VideoID:        video.ID,
		VideoHash:      hash,
		DetectorSet:    pq.StringArray(s.pool.Names()),
		DetectorSetKey: setKey,
		Status:         enums.AnalysisStatusQueued,
		RequestedBy:    req.RequestedBy,
		QueuedAt:       now,
	}

	var (
		admitted *models.Analysis
		created  bool
	)
	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		admitted, created, txErr = s.repo.WithTx(tx).CreateIfAbsent(ctx, candidate)
		if txErr != nil {
			return txErr
		}
		if !created {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAnalysisQueued,
			AggregateType: enums.AggregateAnalysis,
			AggregateID:   admitted.ID,
			Actor:         &outbox.ActorRef{OwnerID: req.RequestedBy},
			Data: payloads.AnalysisQueuedEvent{
				AnalysisID:  admitted.ID,
				VideoID:     video.ID,
				VideoHash:   hash,
				DetectorSet: s.pool.Names(),
				RequestedBy: req.RequestedBy,
				QueuedAt:    now,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "admitting analysis")
	}

	if created {
		if s.metrics != nil {
			s.metrics.IncAnalysis("queued")
		}
		logCtx := s.logg.WithAnalysisID(s.logg.WithContentHash(ctx, hash), admitted.ID.String())
		s.logg.Info(logCtx, "analysis queued")
	}
	return &StartResult{Analysis: admitted, AlreadyRunning: !created}, nil
}

func (s *service) Get(ctx context.Context, analysisID uuid.UUID) (*View, error) {
	if analysisID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "analysis id is required")
	}
	analysis, err := s.repo.FindByID(ctx, analysisID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading analysis")
	}
	if analysis == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "analysis not found")
	}

	view := &View{Analysis: analysis}
	view.Outcomes, err = s.repo.ListOutcomes(ctx, analysisID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading detector outcomes")
	}
	if analysis.Status == enums.AnalysisStatusCompleted {
		view.Verdict, err = s.cache.Lookup(ctx, analysis.VideoHash, analysis.DetectorSetKey)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading fused verdict")
		}
	}
	return view, nil
}

func (s *service) Cancel(ctx context.Context, analysisID uuid.UUID) error {
	if analysisID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "analysis id is required")
	}
	analysis, err := s.repo.FindByID(ctx, analysisID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading analysis")
	}
	if analysis == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "analysis not found")
	}
	cancelled, err := s.repo.Cancel(ctx, analysisID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancelling analysis")
	}
	if !cancelled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "analysis already reached a terminal state")
	}
	if s.metrics != nil {
		s.metrics.IncAnalysis("cancelled")
	}
	s.logg.Info(s.logg.WithAnalysisID(ctx, analysisID.String()), "analysis cancelled")
	return nil
}
