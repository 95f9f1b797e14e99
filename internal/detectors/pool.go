package detectors

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/veridex/veridex-backend/pkg/config"
	"github.com/veridex/veridex-backend/pkg/enums"
)

// Pool holds the enabled adapters plus the shared memory lease manager. An
// evaluation through the pool always runs under a lease so concurrent runs
// cannot exceed the residency budget.
type Pool struct {
	detectors []Detector
	leases    *LeaseManager
	stride    int
	budget    int
}

// NewPool builds adapters for every enabled detector in the configuration.
func NewPool(cfg config.DetectorsConfig, httpClient *http.Client) (*Pool, error) {
	if len(cfg.Enabled) == 0 {
		return nil, fmt.Errorf("at least one detector must be enabled")
	}
	leases, err := NewLeaseManager(cfg.MemoryBudgetMB)
	if err != nil {
		return nil, err
	}

	pool := &Pool{
		leases: leases,
		stride: cfg.FrameStride,
		budget: cfg.FrameBudget,
	}
	seen := map[enums.DetectorKind]bool{}
	for _, raw := range cfg.Enabled {
		kind, err := enums.ParseDetectorKind(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true

		var detector Detector
		switch kind {
		case enums.DetectorCLIP:
			detector, err = NewCLIP(cfg.ClipEndpoint, cfg.EvalTimeout, httpClient)
		case enums.DetectorResNet:
			detector, err = NewResNet(cfg.ResNetEndpoint, cfg.EvalTimeout, httpClient)
		case enums.DetectorLAA:
			detector, err = NewLAA(cfg.LAAEndpoint, cfg.EvalTimeout, httpClient)
		default:
			err = fmt.Errorf("no adapter for detector %q", kind)
		}
		if err != nil {
			return nil, err
		}
		pool.detectors = append(pool.detectors, detector)
	}
	return pool, nil
}

// NewPoolWith wires an explicit adapter list, mainly for tests.
func NewPoolWith(leases *LeaseManager, adapters ...Detector) *Pool {
	return &Pool{detectors: adapters, leases: leases}
}

// Detectors returns the enabled adapters.
func (p *Pool) Detectors() []Detector {
	return p.detectors
}

// Names returns the enabled detector names.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.detectors))
	for _, d := range p.detectors {
		names = append(names, d.Kind().String())
	}
	return names
}

// SetKey identifies the detector set. It is the sorted "name@version" list
// joined with "+", so an upgraded model naturally misses stale cached verdicts.
func (p *Pool) SetKey() string {
	parts := make([]string, 0, len(p.detectors))
	for _, d := range p.detectors {
		parts = append(parts, d.Kind().String()+"@"+d.ModelVersion())
	}
	sort.Strings(parts)
	return strings.Join(parts, "+")
}

// SampleFrames plans evaluation frames with the pool's configured stride and
// budget.
func (p *Pool) SampleFrames(totalFrames int) []FrameSample {
	return SampleFrames(totalFrames, p.stride, p.budget)
}

// FramePlan plans the full frame budget for a video whose length is not
// known up front. Backends clamp the plan to the real frame count.
func (p *Pool) FramePlan() []FrameSample {
	stride := p.stride
	if stride <= 0 {
		stride = DefaultFrameStride
	}
	budget := p.budget
	if budget <= 0 {
		budget = DefaultFrameBudget
	}
	return SampleFrames(stride*budget, stride, budget)
}

// Evaluate runs one adapter under a memory lease. Lease waits are bounded by
// the caller's context; lease exhaustion surfaces as a transient failure.
func (p *Pool) Evaluate(ctx context.Context, detector Detector, req EvalRequest) (*Outcome, time.Duration, error) {
	waitStart := time.Now()
	release, err := p.leases.Acquire(ctx, detector.FootprintMB())
	if err != nil {
		return nil, time.Since(waitStart), err
	}
	defer release()
	leaseWait := time.Since(waitStart)

	outcome, err := detector.Evaluate(ctx, req)
	if err != nil {
		return nil, leaseWait, err
	}
	return outcome, leaseWait, nil
}
