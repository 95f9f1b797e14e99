package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/db/models"
	"github.com/veridex/veridex-backend/pkg/enums"
	"github.com/veridex/veridex-backend/pkg/logger"
	"github.com/veridex/veridex-backend/pkg/outbox"
	"github.com/veridex/veridex-backend/pkg/outbox/idempotency"
	"github.com/veridex/veridex-backend/pkg/outbox/payloads"
	"github.com/veridex/veridex-backend/pkg/outbox/registry"
)

const pipelineNotificationConsumer = "pipeline-notifications"

// Consumer watches pipeline events and turns terminal transitions into
// owner-facing notifications. Progress events are acked without a row since
// clients poll those through the read APIs.
type Consumer struct {
	repo         Repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds a pipeline notification consumer.
func NewConsumer(repo Repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		decoders:     newPipelineDecoders(),
		logg:         logg,
	}, nil
}

func newPipelineDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventUploadCompleted, 1, func(raw json.RawMessage) (interface{}, error) {
		var payload payloads.UploadCompletedEvent
		return &payload, json.Unmarshal(raw, &payload)
	})
	decoders.Register(enums.EventDuplicateDetected, 1, func(raw json.RawMessage) (interface{}, error) {
		var payload payloads.DuplicateDetectedEvent
		return &payload, json.Unmarshal(raw, &payload)
	})
	decoders.Register(enums.EventAnalysisCompleted, 1, func(raw json.RawMessage) (interface{}, error) {
		var payload payloads.AnalysisCompletedEvent
		return &payload, json.Unmarshal(raw, &payload)
	})
	decoders.Register(enums.EventAnalysisFailed, 1, func(raw json.RawMessage) (interface{}, error) {
		var payload payloads.AnalysisFailedEvent
		return &payload, json.Unmarshal(raw, &payload)
	})
	return decoders
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.Attributes["event_type"], msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, rawEventType string, data []byte) processResult {
	eventType, err := enums.ParseOutboxEventType(rawEventType)
	if err != nil {
		c.logg.Error(ctx, "unknown event type", err)
		return processResult{ack: true}
	}
	logCtx := c.logg.WithField(ctx, "event_type", string(eventType))

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	payload, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		// Progress events and other unregistered types carry nothing to persist.
		c.logg.Info(logCtx, "no notification mapping for event")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, pipelineNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notification, err := c.translate(payload)
	if err != nil {
		c.logg.Error(logCtx, "event not translatable", err)
		_ = c.idempotency.Delete(ctx, pipelineNotificationConsumer, eventID)
		return processResult{ack: true}
	}

	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(logCtx, "failed to store notification", err)
		_ = c.idempotency.Delete(ctx, pipelineNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithOwnerID(logCtx, notification.OwnerID.String()), "owner notified")
	return processResult{ack: true}
}

func (c *Consumer) translate(payload interface{}) (*models.Notification, error) {
	switch event := payload.(type) {
	case *payloads.UploadCompletedEvent:
		if event.OwnerID == uuid.Nil {
			return nil, fmt.Errorf("owner id missing")
		}
		return &models.Notification{
			OwnerID: event.OwnerID,
			Type:    enums.NotificationTypeUploadComplete,
			Title:   "Upload complete",
			Message: fmt.Sprintf("%s was uploaded and is ready for analysis.", event.FileName),
			Link:    stringPtr(fmt.Sprintf("/videos/%s", event.VideoID)),
		}, nil
	case *payloads.DuplicateDetectedEvent:
		if event.OwnerID == uuid.Nil {
			return nil, fmt.Errorf("owner id missing")
		}
		return &models.Notification{
			OwnerID: event.OwnerID,
			Type:    enums.NotificationTypeDuplicateDetected,
			Title:   "Duplicate video detected",
			Message: fmt.Sprintf("Your upload matched existing content %s. No new copy was stored.", shortHash(event.ContentHash)),
			Link:    stringPtr(fmt.Sprintf("/videos/%s", event.VideoID)),
		}, nil
	case *payloads.AnalysisCompletedEvent:
		if event.RequestedBy == uuid.Nil {
			return nil, fmt.Errorf("requester missing")
		}
		return &models.Notification{
			OwnerID: event.RequestedBy,
			Type:    enums.NotificationTypeAnalysisComplete,
			Title:   "Analysis complete",
			Message: fmt.Sprintf("Video %s was classified as %s (score %.2f, confidence %.2f).", shortHash(event.VideoHash), event.Label, event.Score, event.Confidence),
			Link:    stringPtr(fmt.Sprintf("/analyses/%s", event.AnalysisID)),
		}, nil
	case *payloads.AnalysisFailedEvent:
		if event.RequestedBy == uuid.Nil {
			return nil, fmt.Errorf("requester missing")
		}
		return &models.Notification{
			OwnerID: event.RequestedBy,
			Type:    enums.NotificationTypeAnalysisFailed,
			Title:   "Analysis failed",
			Message: fmt.Sprintf("Analysis of video %s failed: %s", shortHash(event.VideoHash), event.Reason),
			Link:    stringPtr(fmt.Sprintf("/analyses/%s", event.AnalysisID)),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", payload)
	}
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}

func stringPtr(value string) *string {
	return &value
}
