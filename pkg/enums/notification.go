package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeUploadComplete    NotificationType = "upload_complete"
	NotificationTypeDuplicateDetected NotificationType = "duplicate_detected"
	NotificationTypeAnalysisQueued    NotificationType = "analysis_queued"
	NotificationTypeAnalysisProgress  NotificationType = "analysis_progress"
	NotificationTypeAnalysisComplete  NotificationType = "analysis_complete"
	NotificationTypeAnalysisFailed    NotificationType = "analysis_failed"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeUploadComplete,
	NotificationTypeDuplicateDetected,
	NotificationTypeAnalysisQueued,
	NotificationTypeAnalysisProgress,
	NotificationTypeAnalysisComplete,
	NotificationTypeAnalysisFailed,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
