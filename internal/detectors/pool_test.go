package detectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veridex/veridex-backend/pkg/config"
	"github.com/veridex/veridex-backend/pkg/enums"
)

type stubDetector struct {
	kind      enums.DetectorKind
	version   string
	footprint int
	outcome   *Outcome
	err       error
	delay     time.Duration
}

func (s *stubDetector) Kind() enums.DetectorKind { return s.kind }
func (s *stubDetector) ModelVersion() string     { return s.version }
func (s *stubDetector) FootprintMB() int         { return s.footprint }

func (s *stubDetector) Evaluate(ctx context.Context, _ EvalRequest) (*Outcome, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.outcome, nil
}

func TestNewPoolBuildsEnabledAdapters(t *testing.T) {
	pool, err := NewPool(config.DetectorsConfig{
		Enabled:        []string{"clip", "resnet", "laa"},
		ClipEndpoint:   "http://clip.internal",
		ResNetEndpoint: "http://resnet.internal",
		LAAEndpoint:    "http://laa.internal",
		EvalTimeout:    time.Second,
		MemoryBudgetMB: 8192,
	}, nil)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	if len(pool.Detectors()) != 3 {
		t.Fatalf("expected 3 adapters, got %d", len(pool.Detectors()))
	}
}

func TestNewPoolRequiresEndpoint(t *testing.T) {
	_, err := NewPool(config.DetectorsConfig{
		Enabled:        []string{"clip"},
		MemoryBudgetMB: 8192,
	}, nil)
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestNewPoolRejectsUnknownDetector(t *testing.T) {
	_, err := NewPool(config.DetectorsConfig{
		Enabled:        []string{"bigfoot"},
		MemoryBudgetMB: 8192,
	}, nil)
	if err == nil {
		t.Fatal("expected error for unknown detector")
	}
}

func TestSetKeyIsSortedAndVersioned(t *testing.T) {
	leases, _ := NewLeaseManager(100)
	pool := NewPoolWith(leases,
		&stubDetector{kind: enums.DetectorResNet, version: "r2", footprint: 10},
		&stubDetector{kind: enums.DetectorCLIP, version: "c1", footprint: 10},
	)

	want := "clip@c1+resnet@r2"
	if got := pool.SetKey(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPoolEvaluateRunsUnderLease(t *testing.T) {
	leases, _ := NewLeaseManager(100)
	detector := &stubDetector{
		kind:      enums.DetectorCLIP,
		version:   "c1",
		footprint: 60,
		outcome:   &Outcome{Detector: enums.DetectorCLIP, Score: 0.3, Label: enums.VerdictAuthentic},
	}
	pool := NewPoolWith(leases, detector)

	outcome, _, err := pool.Evaluate(context.Background(), detector, EvalRequest{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if outcome.Score != 0.3 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if leases.InUseMB() != 0 {
		t.Fatalf("lease not released, %d MB in use", leases.InUseMB())
	}
}

func TestPoolEvaluateSurfacesLeaseExhaustion(t *testing.T) {
	leases, _ := NewLeaseManager(100)
	hog := &stubDetector{kind: enums.DetectorLAA, version: "l1", footprint: 100}
	detector := &stubDetector{kind: enums.DetectorCLIP, version: "c1", footprint: 60}
	pool := NewPoolWith(leases, hog, detector)

	release, err := leases.Acquire(context.Background(), 100)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = pool.Evaluate(ctx, detector, EvalRequest{})
	if !errors.Is(err, ErrLeaseUnavailable) {
		t.Fatalf("expected ErrLeaseUnavailable, got %v", err)
	}
}

func TestPoolEvaluateReleasesLeaseOnFailure(t *testing.T) {
	leases, _ := NewLeaseManager(100)
	detector := &stubDetector{
		kind:      enums.DetectorCLIP,
		version:   "c1",
		footprint: 60,
		err:       Transientf("backend down"),
	}
	pool := NewPoolWith(leases, detector)

	_, _, err := pool.Evaluate(context.Background(), detector, EvalRequest{})
	if !IsTransient(err) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if leases.InUseMB() != 0 {
		t.Fatalf("lease not released after failure, %d MB in use", leases.InUseMB())
	}
}
