package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/veridex/veridex-backend/internal/detectors"
	"github.com/veridex/veridex-backend/internal/fusion"
	"github.com/veridex/veridex-backend/internal/verdictcache"
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

// errAbandoned aborts the terminal transaction when the run left the
// processing state behind our back, typically through cancellation.
var errAbandoned = errors.New("analysis no longer processing")

// terminalGrace bounds the detached transaction that records a terminal
// state after the run context has already expired.
const terminalGrace = 30 * time.Second

// staleSweepInterval paces the requeue scan for processing rows orphaned
// by a crashed worker.
const staleSweepInterval = time.Minute

// terminalContext detaches terminal writes from the run deadline. Without it
// a timed-out analysis could never commit its own failed state and would
// hold the single-flight slot forever.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalGrace)
}

// AuditSink receives one verdict audit row per completed analysis.
type AuditSink interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// auditRow is the BigQuery schema for verdict audits.
type auditRow struct {
	AnalysisID     string    `bigquery:"analysis_id"`
	VideoHash      string    `bigquery:"video_hash"`
	DetectorSetKey string    `bigquery:"detector_set_key"`
	Label          string    `bigquery:"label"`
	Score          float64   `bigquery:"score"`
	Confidence     float64   `bigquery:"confidence"`
	DetectorCount  int       `bigquery:"detector_count"`
	FailedCount    int       `bigquery:"failed_count"`
	CompletedAt    time.Time `bigquery:"completed_at"`
}

// Runner is the worker loop that claims queued analyses, fans detectors out,
// and fuses their outcomes into a verdict.
type Runner struct {
	repo       Repository
	videos     videos.Repository
	pool       *detectors.Pool
	engine     *fusion.Engine
	cache      *verdictcache.Cache
	dbClient   *dbpkg.Client
	outbox     *outbox.Service
	audit      AuditSink
	auditTable string
	metrics    *metrics.PipelineMetrics
	logg       *logger.Logger
	cfg        config.AnalysisConfig
}

// NewRunner wires the analysis worker. The audit sink is optional.
func NewRunner(
	repo Repository,
	videoRepo videos.Repository,
	pool *detectors.Pool,
	engine *fusion.Engine,
	cache *verdictcache.Cache,
	dbClient *dbpkg.Client,
	outboxSvc *outbox.Service,
	audit AuditSink,
	auditTable string,
	pipelineMetrics *metrics.PipelineMetrics,
	logg *logger.Logger,
	cfg config.AnalysisConfig,
) (*Runner, error) {
	if repo == nil || videoRepo == nil || pool == nil || engine == nil || cache == nil {
		return nil, errors.New("runner is missing pipeline dependencies")
	}
	if dbClient == nil || outboxSvc == nil || logg == nil {
		return nil, errors.New("runner is missing infrastructure dependencies")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = 10 * time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Runner{
		repo:       repo,
		videos:     videoRepo,
		pool:       pool,
		engine:     engine,
		cache:      cache,
		dbClient:   dbClient,
		outbox:     outboxSvc,
		audit:      audit,
		auditTable: auditTable,
		metrics:    pipelineMetrics,
		logg:       logg,
		cfg:        cfg,
	}, nil
}

// Run polls for queued analyses until the context is cancelled. In-flight
// runs finish their current terminal transaction before Run returns.
func (r *Runner) Run(ctx context.Context) {
	sem := make(chan struct{}, r.cfg.WorkerCount)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	stale := time.NewTicker(staleSweepInterval)
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain the semaphore so every worker has finished.
			for i := 0; i < r.cfg.WorkerCount; i++ {
				sem <- struct{}{}
			}
			return
		case <-stale.C:
			r.requeueStale(ctx)
		case <-ticker.C:
			r.dispatch(ctx, sem)
		}
	}
}

// requeueStale reclaims processing rows whose claim is old enough that the
// owning worker must have died before committing a terminal state.
func (r *Runner) requeueStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-(r.cfg.OverallTimeout + 2*terminalGrace))
	requeued, err := r.repo.RequeueStale(ctx, cutoff)
	if err != nil {
		r.logg.Error(ctx, "requeueing stale analyses", err)
		return
	}
	if requeued > 0 {
		r.logg.Warn(r.logg.WithField(ctx, "count", requeued), "requeued analyses orphaned in processing")
	}
}

func (r *Runner) dispatch(ctx context.Context, sem chan struct{}) {
	free := cap(sem) - len(sem)
	if free == 0 {
		return
	}
	queued, err := r.repo.FetchQueued(ctx, free)
	if err != nil {
		r.logg.Error(ctx, "fetching queued analyses", err)
		return
	}
	for _, analysis := range queued {
		claimed, err := r.repo.Claim(ctx, analysis.ID, time.Now().UTC())
		if err != nil {
			r.logg.Error(ctx, "claiming analysis", err)
			continue
		}
		if !claimed {
			continue
		}
		sem <- struct{}{}
		analysis := analysis
		go func() {
			defer func() { <-sem }()
			r.Process(ctx, &analysis)
		}()
	}
}

// Process runs one claimed analysis to a terminal state.
func (r *Runner) Process(ctx context.Context, analysis *models.Analysis) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OverallTimeout)
	defer cancel()

	logCtx := r.logg.WithAnalysisID(r.logg.WithContentHash(ctx, analysis.VideoHash), analysis.ID.String())
	r.logg.Info(logCtx, "analysis processing started")

	video, err := r.videos.FindByID(ctx, analysis.VideoID)
	if err != nil || video == nil {
		if err == nil {
			err = errors.New("video record missing")
		}
		r.fail(logCtx, analysis, nil, "video unavailable: "+err.Error())
		return
	}

	request := detectors.EvalRequest{
		AnalysisID:  analysis.ID,
		ContentHash: analysis.VideoHash,
		VideoPath:   video.StoragePath,
		MimeType:    video.MimeType,
		Samples:     r.pool.FramePlan(),
	}

	adapters := r.pool.Detectors()
	outcomes := make([]detectors.Outcome, len(adapters))
	var completed int32

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			outcomes[i] = r.evaluate(gctx, adapter, request)
			done := atomic.AddInt32(&completed, 1)
			r.reportProgress(logCtx, analysis, int(done), len(adapters))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The overall deadline is terminal no matter how many
			// adapters answered in time.
			reason := pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "analysis exceeded the overall deadline").Error()
			r.fail(logCtx, analysis, outcomes, reason)
		} else {
			r.requeue(logCtx, analysis)
		}
		return
	}

	fused, err := r.engine.Fuse(outcomes)
	if err != nil {
		r.fail(logCtx, analysis, outcomes, err.Error())
		return
	}
	r.complete(logCtx, analysis, outcomes, fused)
}

// evaluate runs one adapter under lease with bounded retries. Transient
// failures back off exponentially with jitter; anything else fails fast.
func (r *Runner) evaluate(ctx context.Context, adapter detectors.Detector, request detectors.EvalRequest) detectors.Outcome {
	kind := adapter.Kind()
	var lastErr error
	for attempt := 0; attempt <= r.cfg.AdapterRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.RetryBackoff << (attempt - 1)
			backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}

		outcome, _, err := r.pool.Evaluate(ctx, adapter, request)
		if err == nil {
			if r.metrics != nil {
				r.metrics.ObserveDetectorDuration(kind.String(), outcome.Latency)
			}
			return *outcome
		}
		lastErr = err
		if !detectors.IsTransient(err) {
			break
		}
	}

	if r.metrics != nil {
		r.metrics.IncDetectorFailure(kind.String())
	}
	reason := "evaluation failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return detectors.Outcome{
		Detector:      kind,
		ModelVersion:  adapter.ModelVersion(),
		Failed:        true,
		FailureReason: reason,
	}
}

func (r *Runner) reportProgress(ctx context.Context, analysis *models.Analysis, done, total int) {
	progress := done * 100 / total
	if err := r.repo.UpdateProgress(ctx, analysis.ID, progress); err != nil {
		r.logg.Error(ctx, "updating analysis progress", err)
	}
	err := r.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAnalysisProgress,
			AggregateType: enums.AggregateAnalysis,
			AggregateID:   analysis.ID,
			Actor:         &outbox.ActorRef{OwnerID: analysis.RequestedBy},
			Data: payloads.AnalysisProgressEvent{
				AnalysisID: analysis.ID,
				VideoHash:  analysis.VideoHash,
				Progress:   progress,
				Stage:      "detectors",
			},
			Version: 1,
		})
	})
	if err != nil {
		r.logg.Error(ctx, "emitting analysis progress event", err)
	}
}

func (r *Runner) complete(ctx context.Context, analysis *models.Analysis, outcomes []detectors.Outcome, fused *fusion.Result) {
	ctx, cancel := terminalContext(ctx)
	defer cancel()
	now := time.Now().UTC()
	techniques, err := json.Marshal(fused.Techniques)
	if err != nil {
		r.fail(ctx, analysis, outcomes, "encoding techniques: "+err.Error())
		return
	}
	// The verdict keeps the sampled frame plan so adapters' frame-level
	// findings resolve back to video timestamps.
	sampledFrames, err := json.Marshal(r.pool.FramePlan())
	if err != nil {
		r.fail(ctx, analysis, outcomes, "encoding frame plan: "+err.Error())
		return
	}
	verdict := &models.FusedVerdict{
		AnalysisID:     analysis.ID,
		VideoHash:      analysis.VideoHash,
		DetectorSetKey: analysis.DetectorSetKey,
		Label:          fused.Label,
		Score:          fused.Score,
		Confidence:     fused.Confidence,
		Threshold:      fused.Threshold,
		Techniques:     techniques,
		SampledFrames:  sampledFrames,
		DetectorCount:  fused.DetectorCount,
		FailedCount:    fused.FailedCount,
	}
	rows := outcomeRows(analysis, outcomes, fused)

	err = r.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		flipped, txErr := repo.MarkCompleted(ctx, analysis.ID, now)
		if txErr != nil {
			return txErr
		}
		if !flipped {
			return errAbandoned
		}
		if txErr := repo.InsertOutcomes(ctx, rows); txErr != nil {
			return txErr
		}
		if txErr := r.cache.StoreTx(ctx, tx, verdict); txErr != nil {
			return txErr
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAnalysisCompleted,
			AggregateType: enums.AggregateAnalysis,
			AggregateID:   analysis.ID,
			Actor:         &outbox.ActorRef{OwnerID: analysis.RequestedBy},
			Data: payloads.AnalysisCompletedEvent{
				AnalysisID:  analysis.ID,
				VideoHash:   analysis.VideoHash,
				RequestedBy: analysis.RequestedBy,
				Label:       fused.Label,
				Score:       fused.Score,
				Confidence:  fused.Confidence,
				Techniques:  fused.Techniques,
				CompletedAt: now,
			},
			Version: 1,
		})
	})
	if err != nil {
		if errors.Is(err, errAbandoned) {
			r.logg.Warn(ctx, "abandoning analysis, terminal state changed underneath")
			return
		}
		r.logg.Error(ctx, "persisting analysis completion", err)
		return
	}

	r.cache.Prime(ctx, verdict)
	r.auditVerdict(ctx, verdict, now)
	if r.metrics != nil {
		r.metrics.IncAnalysis("completed")
		r.metrics.IncVerdict(fused.Label.String())
	}
	r.logg.Info(r.logg.WithField(ctx, "label", fused.Label.String()), "analysis completed")
}

func (r *Runner) fail(ctx context.Context, analysis *models.Analysis, outcomes []detectors.Outcome, reason string) {
	ctx, cancel := terminalContext(ctx)
	defer cancel()
	now := time.Now().UTC()
	rows := outcomeRows(analysis, outcomes, nil)

	err := r.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		flipped, txErr := repo.MarkFailed(ctx, analysis.ID, reason, now)
		if txErr != nil {
			return txErr
		}
		if !flipped {
			return errAbandoned
		}
		if txErr := repo.InsertOutcomes(ctx, rows); txErr != nil {
			return txErr
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAnalysisFailed,
			AggregateType: enums.AggregateAnalysis,
			AggregateID:   analysis.ID,
			Actor:         &outbox.ActorRef{OwnerID: analysis.RequestedBy},
			Data: payloads.AnalysisFailedEvent{
				AnalysisID:  analysis.ID,
				VideoHash:   analysis.VideoHash,
				RequestedBy: analysis.RequestedBy,
				Reason:      reason,
				FailedAt:    now,
			},
			Version: 1,
		})
	})
	if err != nil {
		if errors.Is(err, errAbandoned) {
			r.logg.Warn(ctx, "abandoning analysis, terminal state changed underneath")
			return
		}
		r.logg.Error(ctx, "persisting analysis failure", err)
		return
	}
	if r.metrics != nil {
		r.metrics.IncAnalysis("failed")
	}
	r.logg.Warn(r.logg.WithField(ctx, "reason", reason), "analysis failed")
}

// auditVerdict ships the verdict audit row to BigQuery, best effort.
func (r *Runner) auditVerdict(ctx context.Context, verdict *models.FusedVerdict, at time.Time) {
	if r.audit == nil || r.auditTable == "" {
		return
	}
	row := auditRow{
		AnalysisID:     verdict.AnalysisID.String(),
		VideoHash:      verdict.VideoHash,
		DetectorSetKey: verdict.DetectorSetKey,
		Label:          verdict.Label.String(),
		Score:          verdict.Score,
		Confidence:     verdict.Confidence,
		DetectorCount:  verdict.DetectorCount,
		FailedCount:    verdict.FailedCount,
		CompletedAt:    at,
	}
	if err := r.audit.InsertRows(ctx, r.auditTable, []any{row}); err != nil {
		r.logg.Error(ctx, "writing verdict audit row", err)
	}
}

// outcomeRows converts adapter outcomes into audit rows, annotating voters
// with their fusion weight and certainty.
func outcomeRows(analysis *models.Analysis, outcomes []detectors.Outcome, fused *fusion.Result) []models.DetectorOutcome {
	rows := make([]models.DetectorOutcome, 0, len(outcomes))
	for _, outcome := range outcomes {
		row := models.DetectorOutcome{
			AnalysisID:   analysis.ID,
			Detector:     outcome.Detector,
			ModelVersion: outcome.ModelVersion,
			FramesUsed:   outcome.FramesUsed,
			LatencyMS:    outcome.Latency.Milliseconds(),
			Failed:       outcome.Failed,
		}
		if outcome.Failed {
			reason := outcome.FailureReason
			row.ErrorMessage = &reason
		} else {
			score := outcome.Score
			certainty := fusion.Certainty(score)
			row.Score = &score
			row.Certainty = &certainty
			if len(outcome.Techniques) > 0 {
				if encoded, err := json.Marshal(outcome.Techniques); err == nil {
					row.Techniques = encoded
				}
			}
			if fused != nil {
				if weight, ok := fused.Weights[outcome.Detector.String()]; ok {
					w := weight
					row.Weight = &w
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// requeue returns a run interrupted by shutdown to the queue so another
// worker picks it up, clearing the claim it held.
func (r *Runner) requeue(ctx context.Context, analysis *models.Analysis) {
	ctx, cancel := terminalContext(ctx)
	defer cancel()
	flipped, err := r.repo.Requeue(ctx, analysis.ID)
	if err != nil {
		r.logg.Error(ctx, "requeueing interrupted analysis", err)
		return
	}
	if flipped {
		r.logg.Warn(ctx, "analysis requeued after interruption")
	}
}
