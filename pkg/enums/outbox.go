package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateUploadSession OutboxAggregateType = "upload_session"
	AggregateVideo         OutboxAggregateType = "video"
	AggregateAnalysis      OutboxAggregateType = "analysis"
	AggregateNotification  OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateUploadSession,
	AggregateVideo,
	AggregateAnalysis,
	AggregateNotification,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventUploadProgress    OutboxEventType = "upload_progress"
	EventUploadCompleted   OutboxEventType = "upload_completed"
	EventDuplicateDetected OutboxEventType = "duplicate_detected"
	EventAnalysisQueued    OutboxEventType = "analysis_queued"
	EventAnalysisProgress  OutboxEventType = "analysis_progress"
	EventAnalysisCompleted OutboxEventType = "analysis_completed"
	EventAnalysisFailed    OutboxEventType = "analysis_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventUploadProgress,
	EventUploadCompleted,
	EventDuplicateDetected,
	EventAnalysisQueued,
	EventAnalysisProgress,
	EventAnalysisCompleted,
	EventAnalysisFailed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
