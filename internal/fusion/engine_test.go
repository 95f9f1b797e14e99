package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/veridex/veridex-backend/internal/detectors"
	"github.com/veridex/veridex-backend/pkg/config"
	"github.com/veridex/veridex-backend/pkg/enums"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(config.FusionConfig{
		DecisionThreshold: 0.5,
		CertaintyFloor:    0.1,
		ClipPrior:         0.3,
		ResNetPrior:       0.5,
		LAAPrior:          0.2,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func outcome(kind enums.DetectorKind, label enums.VerdictLabel, score float64) detectors.Outcome {
	return detectors.Outcome{Detector: kind, Label: label, Score: score}
}

func failedOutcome(kind enums.DetectorKind, reason string) detectors.Outcome {
	return detectors.Outcome{Detector: kind, Failed: true, FailureReason: reason}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFuseUnanimousManipulated(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Fuse([]detectors.Outcome{
		outcome(enums.DetectorCLIP, enums.VerdictManipulated, 0.9),
		outcome(enums.DetectorResNet, enums.VerdictManipulated, 0.8),
		outcome(enums.DetectorLAA, enums.VerdictManipulated, 0.95),
	})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if result.Label != enums.VerdictManipulated {
		t.Fatalf("expected manipulated, got %s", result.Label)
	}
	if result.Score <= 0.5 || result.Score > 1 {
		t.Fatalf("fused score out of expected range: %f", result.Score)
	}
	if result.DetectorCount != 3 || result.FailedCount != 0 {
		t.Fatalf("unexpected audit counts: %+v", result)
	}
}

func TestFuseWeightsSumToOne(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Fuse([]detectors.Outcome{
		outcome(enums.DetectorCLIP, enums.VerdictManipulated, 0.7),
		outcome(enums.DetectorResNet, enums.VerdictAuthentic, 0.2),
	})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	var total float64
	for _, weight := range result.Weights {
		total += weight
	}
	if !almostEqual(total, 1) {
		t.Fatalf("weights must sum to 1, got %f", total)
	}
}

func TestFuseCertaintyScalesWeights(t *testing.T) {
	engine := newTestEngine(t)

	// laa has the lower prior but the decisive score; certainty scaling
	// must let it outweigh a clip vote sitting on the boundary.
	result, err := engine.Fuse([]detectors.Outcome{
		outcome(enums.DetectorLAA, enums.VerdictManipulated, 0.99),
		outcome(enums.DetectorCLIP, enums.VerdictAuthentic, 0.49),
	})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if result.Weights["laa"] <= result.Weights["clip"] {
		t.Fatalf("decisive laa should outweigh uncertain clip: %+v", result.Weights)
	}
}

func TestFuseExcludesFailuresFromVote(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Fuse([]detectors.Outcome{
		outcome(enums.DetectorResNet, enums.VerdictAuthentic, 0.1),
		failedOutcome(enums.DetectorCLIP, "backend unreachable"),
		failedOutcome(enums.DetectorLAA, "timeout"),
	})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if result.Label != enums.VerdictAuthentic {
		t.Fatalf("expected authentic from sole survivor, got %s", result.Label)
	}
	if result.FailedCount != 2 || result.DetectorCount != 3 {
		t.Fatalf("unexpected audit counts: %+v", result)
	}
	if !almostEqual(result.Weights["resnet"], 1) {
		t.Fatalf("sole survivor must carry full weight: %+v", result.Weights)
	}
}

func TestFuseAllFailed(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Fuse([]detectors.Outcome{
		failedOutcome(enums.DetectorCLIP, "down"),
		failedOutcome(enums.DetectorResNet, "down"),
	})
	if !errors.Is(err, ErrAllDetectorsFailed) {
		t.Fatalf("expected ErrAllDetectorsFailed, got %v", err)
	}
}

func TestFuseAllIndeterminate(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Fuse([]detectors.Outcome{
		outcome(enums.DetectorCLIP, enums.VerdictIndeterminate, 0.5),
		outcome(enums.DetectorResNet, enums.VerdictIndeterminate, 0.5),
	})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if result.Label != enums.VerdictIndeterminate {
		t.Fatalf("expected indeterminate, got %s", result.Label)
	}
}

func TestFuseTieGoesToAuthentic(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Fuse([]detectors.Outcome{
		outcome(enums.DetectorCLIP, enums.VerdictManipulated, 0.5),
	})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if !almostEqual(result.Score, 0.5) {
		t.Fatalf("expected fused score 0.5, got %f", result.Score)
	}
	if result.Label != enums.VerdictAuthentic {
		t.Fatalf("tie at the threshold must stay authentic, got %s", result.Label)
	}
}

func TestFuseTechniqueAttributionTakesMax(t *testing.T) {
	engine := newTestEngine(t)

	clip := outcome(enums.DetectorCLIP, enums.VerdictManipulated, 0.8)
	clip.Techniques = map[string]float64{"face_swap": 0.7, "lip_sync": 0.4}
	laa := outcome(enums.DetectorLAA, enums.VerdictManipulated, 0.9)
	laa.Techniques = map[string]float64{"face_swap": 0.95}

	result, err := engine.Fuse([]detectors.Outcome{clip, laa})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if result.Techniques["face_swap"] != 0.95 {
		t.Fatalf("expected max face_swap score, got %f", result.Techniques["face_swap"])
	}
	if result.Techniques["lip_sync"] != 0.4 {
		t.Fatalf("expected union to keep lip_sync, got %+v", result.Techniques)
	}
}

func TestNewEngineRejectsBadThreshold(t *testing.T) {
	_, err := NewEngine(config.FusionConfig{DecisionThreshold: 1.5})
	if err == nil {
		t.Fatal("expected error for threshold outside (0,1)")
	}
}
