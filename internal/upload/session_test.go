package upload

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/veridex/veridex-backend/pkg/enums"
)

type fakeSessionRedis struct {
	data map[string]string
}

func newFakeSessionRedis() *fakeSessionRedis {
	return &fakeSessionRedis{data: map[string]string{}}
}

func (f *fakeSessionRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.data[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeSessionRedis) Get(_ context.Context, key string) (string, error) {
	value, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (f *fakeSessionRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeSessionRedis) Incr(_ context.Context, key string) (int64, error) {
	current, _ := strconv.ParseInt(f.data[key], 10, 64)
	current++
	f.data[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (f *fakeSessionRedis) Expire(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

func (f *fakeSessionRedis) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeSessionRedis) UploadSessionKey(sessionID string) string {
	return "vx:upload:" + sessionID + ":meta"
}

func (f *fakeSessionRedis) UploadChunkKey(sessionID string, index int) string {
	return "vx:upload:" + sessionID + ":chunk:" + strconv.Itoa(index)
}

func (f *fakeSessionRedis) UploadReceivedKey(sessionID string) string {
	return "vx:upload:" + sessionID + ":received"
}

func newTestSession(totalChunks int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		FileName:    "clip.mp4",
		MimeType:    "video/mp4",
		TotalSize:   int64(totalChunks) * 4,
		ChunkSize:   4,
		TotalChunks: totalChunks,
		Status:      enums.UploadStatusActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestSessionStoreCreateRejectsDuplicateID(t *testing.T) {
	store, err := NewSessionStore(newFakeSessionRedis())
	if err != nil {
		t.Fatalf("NewSessionStore failed: %v", err)
	}
	session := newTestSession(3)

	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if err := store.Create(context.Background(), session); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestSessionStoreGetMissingReturnsNil(t *testing.T) {
	store, _ := NewSessionStore(newFakeSessionRedis())

	session, err := store.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session, got %+v", session)
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, _ := NewSessionStore(newFakeSessionRedis())
	session := newTestSession(2)

	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	loaded, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded == nil || loaded.ID != session.ID || loaded.TotalChunks != 2 {
		t.Fatalf("unexpected session: %+v", loaded)
	}
	if loaded.Status != enums.UploadStatusActive {
		t.Fatalf("expected active status, got %s", loaded.Status)
	}
}

func TestMarkChunkIsIdempotent(t *testing.T) {
	store, _ := NewSessionStore(newFakeSessionRedis())
	session := newTestSession(3)
	ctx := context.Background()

	first, received, err := store.MarkChunk(ctx, session, 0)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !first || received != 1 {
		t.Fatalf("expected first receipt with count 1, got first=%v count=%d", first, received)
	}

	first, received, err = store.MarkChunk(ctx, session, 0)
	if err != nil {
		t.Fatalf("replay mark failed: %v", err)
	}
	if first || received != 1 {
		t.Fatalf("replay must not advance counter, got first=%v count=%d", first, received)
	}

	first, received, err = store.MarkChunk(ctx, session, 2)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !first || received != 2 {
		t.Fatalf("expected second distinct receipt, got first=%v count=%d", first, received)
	}
}

func TestSessionStoreDeleteClearsAllKeys(t *testing.T) {
	redis := newFakeSessionRedis()
	store, _ := NewSessionStore(redis)
	session := newTestSession(2)
	ctx := context.Background()

	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, err := store.MarkChunk(ctx, session, 0); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, _, err := store.MarkChunk(ctx, session, 1); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := store.Delete(ctx, session); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(redis.data) != 0 {
		t.Fatalf("expected no keys after delete, got %v", redis.data)
	}
}

func TestExpectedChunkSize(t *testing.T) {
	session := &Session{TotalSize: 10, ChunkSize: 4, TotalChunks: 3}
	if got := session.ExpectedChunkSize(0); got != 4 {
		t.Fatalf("chunk 0 expected 4 bytes, got %d", got)
	}
	if got := session.ExpectedChunkSize(2); got != 2 {
		t.Fatalf("last chunk expected 2 bytes, got %d", got)
	}

	aligned := &Session{TotalSize: 8, ChunkSize: 4, TotalChunks: 2}
	if got := aligned.ExpectedChunkSize(1); got != 4 {
		t.Fatalf("aligned last chunk expected 4 bytes, got %d", got)
	}
}
