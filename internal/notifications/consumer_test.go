package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/enums"
	"github.com/veridex/veridex-backend/pkg/logger"
	"github.com/veridex/veridex-backend/pkg/outbox"
	"github.com/veridex/veridex-backend/pkg/outbox/idempotency"
	"github.com/veridex/veridex-backend/pkg/outbox/payloads"
)

type fakeIdempotencyStore struct {
	seen   map[string]struct{}
	setErr error
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{seen: map[string]struct{}{}}
}

func (f *fakeIdempotencyStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeIdempotencyStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.seen[key]; ok {
		return false, nil
	}
	f.seen[key] = struct{}{}
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "vx:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.seen, key)
	}
	return nil
}

func newTestConsumer(t *testing.T, repo Repository, store *fakeIdempotencyStore) *Consumer {
	t.Helper()
	manager, err := idempotency.NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &Consumer{
		repo:        repo,
		idempotency: manager,
		decoders:    newPipelineDecoders(),
		logg:        logger.New(logger.Options{Output: io.Discard}),
	}
}

func envelopeBytes(t *testing.T, eventID uuid.UUID, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestConsumer_AnalysisCompletedCreatesNotification(t *testing.T) {
	repo := &fakeRepository{}
	consumer := newTestConsumer(t, repo, newFakeIdempotencyStore())

	requester := uuid.New()
	analysisID := uuid.New()
	raw := envelopeBytes(t, uuid.New(), payloads.AnalysisCompletedEvent{
		AnalysisID:  analysisID,
		VideoHash:   strings.Repeat("ab", 32),
		RequestedBy: requester,
		Label:       enums.VerdictManipulated,
		Score:       0.91,
		Confidence:  0.84,
		CompletedAt: time.Now().UTC(),
	})

	result := consumer.process(context.Background(), string(enums.EventAnalysisCompleted), raw)
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(repo.created))
	}
	created := repo.created[0]
	if created.OwnerID != requester {
		t.Fatalf("expected owner %s, got %s", requester, created.OwnerID)
	}
	if created.Type != enums.NotificationTypeAnalysisComplete {
		t.Fatalf("unexpected type %s", created.Type)
	}
	if !strings.Contains(created.Message, "manipulated") {
		t.Fatalf("expected label in message, got %q", created.Message)
	}
	if created.Link == nil || *created.Link != "/analyses/"+analysisID.String() {
		t.Fatalf("unexpected link %v", created.Link)
	}
}

func TestConsumer_UploadCompletedCreatesNotification(t *testing.T) {
	repo := &fakeRepository{}
	consumer := newTestConsumer(t, repo, newFakeIdempotencyStore())

	ownerID := uuid.New()
	raw := envelopeBytes(t, uuid.New(), payloads.UploadCompletedEvent{
		SessionID:   uuid.New(),
		OwnerID:     ownerID,
		VideoID:     uuid.New(),
		ContentHash: strings.Repeat("cd", 32),
		FileName:    "clip.mp4",
		SizeBytes:   1024,
	})

	result := consumer.process(context.Background(), string(enums.EventUploadCompleted), raw)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(repo.created))
	}
	if repo.created[0].Type != enums.NotificationTypeUploadComplete {
		t.Fatalf("unexpected type %s", repo.created[0].Type)
	}
	if !strings.Contains(repo.created[0].Message, "clip.mp4") {
		t.Fatalf("expected file name in message, got %q", repo.created[0].Message)
	}
}

func TestConsumer_DuplicateEventProcessedOnce(t *testing.T) {
	repo := &fakeRepository{}
	consumer := newTestConsumer(t, repo, newFakeIdempotencyStore())

	eventID := uuid.New()
	raw := envelopeBytes(t, eventID, payloads.AnalysisFailedEvent{
		AnalysisID:  uuid.New(),
		VideoHash:   strings.Repeat("ef", 32),
		RequestedBy: uuid.New(),
		Reason:      "all detectors failed",
		FailedAt:    time.Now().UTC(),
	})

	first := consumer.process(context.Background(), string(enums.EventAnalysisFailed), raw)
	second := consumer.process(context.Background(), string(enums.EventAnalysisFailed), raw)
	if !first.ack || !second.ack {
		t.Fatalf("expected both deliveries acked, got %+v and %+v", first, second)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected a single notification, got %d", len(repo.created))
	}
}

func TestConsumer_ProgressEventAckedWithoutRow(t *testing.T) {
	repo := &fakeRepository{}
	consumer := newTestConsumer(t, repo, newFakeIdempotencyStore())

	raw := envelopeBytes(t, uuid.New(), payloads.AnalysisProgressEvent{
		AnalysisID: uuid.New(),
		VideoHash:  strings.Repeat("01", 32),
		Progress:   50,
		Stage:      "detectors",
	})

	result := consumer.process(context.Background(), string(enums.EventAnalysisProgress), raw)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(repo.created) != 0 {
		t.Fatalf("expected no notification, got %d", len(repo.created))
	}
}

func TestConsumer_MalformedEnvelopeAcked(t *testing.T) {
	repo := &fakeRepository{}
	consumer := newTestConsumer(t, repo, newFakeIdempotencyStore())

	result := consumer.process(context.Background(), string(enums.EventUploadCompleted), []byte("{not json"))
	if !result.ack {
		t.Fatalf("expected poison message acked, got %+v", result)
	}
	if len(repo.created) != 0 {
		t.Fatalf("expected no notification, got %d", len(repo.created))
	}
}

func TestConsumer_StoreFailureNacksAndUnmarks(t *testing.T) {
	repo := &fakeRepository{createErr: errors.New("db down")}
	store := newFakeIdempotencyStore()
	consumer := newTestConsumer(t, repo, store)

	eventID := uuid.New()
	raw := envelopeBytes(t, eventID, payloads.DuplicateDetectedEvent{
		SessionID:   uuid.New(),
		OwnerID:     uuid.New(),
		VideoID:     uuid.New(),
		ContentHash: strings.Repeat("ff", 32),
	})

	result := consumer.process(context.Background(), string(enums.EventDuplicateDetected), raw)
	if !result.nack {
		t.Fatalf("expected nack, got %+v", result)
	}
	if len(store.seen) != 0 {
		t.Fatal("expected idempotency mark released for redelivery")
	}

	// Redelivery succeeds once the database recovers.
	repo.createErr = nil
	result = consumer.process(context.Background(), string(enums.EventDuplicateDetected), raw)
	if !result.ack {
		t.Fatalf("expected ack after recovery, got %+v", result)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(repo.created))
	}
}

func TestConsumer_IdempotencyErrorNacks(t *testing.T) {
	repo := &fakeRepository{}
	store := newFakeIdempotencyStore()
	store.setErr = errors.New("redis down")
	consumer := newTestConsumer(t, repo, store)

	raw := envelopeBytes(t, uuid.New(), payloads.UploadCompletedEvent{
		OwnerID:  uuid.New(),
		VideoID:  uuid.New(),
		FileName: "clip.mp4",
	})

	result := consumer.process(context.Background(), string(enums.EventUploadCompleted), raw)
	if !result.nack {
		t.Fatalf("expected nack, got %+v", result)
	}
}
