package enums

import "fmt"

// AnalysisStatus describes the lifecycle state of an analysis job.
type AnalysisStatus string

const (
	AnalysisStatusQueued     AnalysisStatus = "queued"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
	AnalysisStatusCancelled  AnalysisStatus = "cancelled"
)

var validAnalysisStatuses = []AnalysisStatus{
	AnalysisStatusQueued,
	AnalysisStatusProcessing,
	AnalysisStatusCompleted,
	AnalysisStatusFailed,
	AnalysisStatusCancelled,
}

// String returns the literal string for the status.
func (a AnalysisStatus) String() string {
	return string(a)
}

// IsValid reports whether the status is known.
func (a AnalysisStatus) IsValid() bool {
	for _, candidate := range validAnalysisStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the analysis reached an immutable state.
func (a AnalysisStatus) IsTerminal() bool {
	switch a {
	case AnalysisStatusCompleted, AnalysisStatusFailed, AnalysisStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseAnalysisStatus converts raw input into an AnalysisStatus.
func ParseAnalysisStatus(value string) (AnalysisStatus, error) {
	for _, candidate := range validAnalysisStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid analysis status %q", value)
}
