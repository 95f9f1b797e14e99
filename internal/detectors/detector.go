package detectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/enums"
)

// FrameSample identifies one sampled frame and its position in the video.
type FrameSample struct {
	Index       int   `json:"index"`
	TimestampMS int64 `json:"timestamp_ms"`
}

// EvalRequest is the shared input handed to every adapter in a run.
type EvalRequest struct {
	AnalysisID  uuid.UUID
	ContentHash string
	VideoPath   string
	MimeType    string
	Samples     []FrameSample
}

// Outcome is one adapter's judgement of the video. Failed outcomes carry a
// reason and are retained for audit even though they never vote.
type Outcome struct {
	Detector      enums.DetectorKind
	ModelVersion  string
	Label         enums.VerdictLabel
	Score         float64
	Techniques    map[string]float64
	FramesUsed    int
	Latency       time.Duration
	Failed        bool
	FailureReason string
}

// Detector is the closed capability surface of one inference backend.
type Detector interface {
	Kind() enums.DetectorKind
	ModelVersion() string
	// FootprintMB is the resident memory the backend needs while evaluating.
	FootprintMB() int
	Evaluate(ctx context.Context, req EvalRequest) (*Outcome, error)
}

var (
	// ErrLeaseUnavailable means the memory budget could not be acquired in time.
	ErrLeaseUnavailable = errors.New("detector memory lease unavailable")
	// ErrLeaseTooLarge means the requested lease exceeds the whole budget and
	// can never be satisfied.
	ErrLeaseTooLarge = errors.New("detector memory lease exceeds budget")
)

type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }

func (t *transientError) Unwrap() error { return t.err }

// Transient marks an evaluation error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf formats a retryable evaluation error.
func Transientf(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether an evaluation failure is worth retrying.
// Deadline expiry and lease exhaustion always count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLeaseUnavailable)
}
