package upload

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/google/uuid"

	"github.com/veridex/veridex-backend/pkg/enums"
)

// Session is the Redis-resident state of one chunked upload. Chunk receipt
// markers and the received counter live in sibling keys so concurrent chunk
// writers never contend on this document.
type Session struct {
	ID           uuid.UUID          `json:"id"`
	OwnerID      uuid.UUID          `json:"owner_id"`
	FileName     string             `json:"file_name"`
	MimeType     string             `json:"mime_type"`
	TotalSize    int64              `json:"total_size"`
	ChunkSize    int64              `json:"chunk_size"`
	TotalChunks  int                `json:"total_chunks"`
	DeclaredHash string             `json:"declared_hash,omitempty"`
	Status       enums.UploadStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	// LastActivityAt is the latest accepted chunk; the deadline slides
	// from it so a steadily progressing upload never expires mid-transfer.
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type sessionRedis interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	UploadSessionKey(sessionID string) string
	UploadChunkKey(sessionID string, index int) string
	UploadReceivedKey(sessionID string) string
}

// SessionStore persists upload sessions and chunk receipt state in Redis.
type SessionStore struct {
	redis sessionRedis
}

// NewSessionStore binds the store to a namespaced Redis client.
func NewSessionStore(redis sessionRedis) (*SessionStore, error) {
	if redis == nil {
		return nil, errors.New("redis client required")
	}
	return &SessionStore{redis: redis}, nil
}

// Create writes a fresh session document, failing if the ID is already live.
func (s *SessionStore) Create(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	key := s.redis.UploadSessionKey(session.ID.String())
	ok, err := s.redis.SetNX(ctx, key, string(payload), session.TTL())
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

// Get loads a session document; a nil session means it expired or never existed.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	raw, err := s.redis.Get(ctx, s.redis.UploadSessionKey(sessionID.String()))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Update rewrites the session document preserving its deadline.
func (s *SessionStore) Update(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.redis.UploadSessionKey(session.ID.String()), string(payload), session.TTL())
}

// Touch slides the session deadline from the given activity instant. The
// document and the received counter pick up the new TTL; chunk markers
// written after the touch inherit it through the session TTL.
func (s *SessionStore) Touch(ctx context.Context, session *Session, now time.Time, timeout time.Duration) error {
	session.LastActivityAt = now
	session.ExpiresAt = now.Add(timeout)
	if err := s.Update(ctx, session); err != nil {
		return err
	}
	return s.redis.Expire(ctx, s.redis.UploadReceivedKey(session.ID.String()), session.TTL())
}

// MarkChunk records receipt of one chunk index. The SETNX marker makes chunk
// replays idempotent; the received counter only advances on first receipt.
func (s *SessionStore) MarkChunk(ctx context.Context, session *Session, index int) (first bool, received int64, err error) {
	marker := s.redis.UploadChunkKey(session.ID.String(), index)
	first, err = s.redis.SetNX(ctx, marker, "1", session.TTL())
	if err != nil {
		return false, 0, err
	}
	if !first {
		count, err := s.receivedCount(ctx, session.ID)
		return false, count, err
	}
	received, err = s.redis.Incr(ctx, s.redis.UploadReceivedKey(session.ID.String()))
	if err != nil {
		return true, 0, err
	}
	return true, received, nil
}

// Received returns how many distinct chunks the session has accepted.
func (s *SessionStore) Received(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	return s.receivedCount(ctx, sessionID)
}

func (s *SessionStore) receivedCount(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	raw, err := s.redis.Get(ctx, s.redis.UploadReceivedKey(sessionID.String()))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	var count int64
	if err := json.Unmarshal([]byte(raw), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Delete removes the session document, counter, and chunk markers.
func (s *SessionStore) Delete(ctx context.Context, session *Session) error {
	keys := []string{
		s.redis.UploadSessionKey(session.ID.String()),
		s.redis.UploadReceivedKey(session.ID.String()),
	}
	for i := 0; i < session.TotalChunks; i++ {
		keys = append(keys, s.redis.UploadChunkKey(session.ID.String(), i))
	}
	return s.redis.Del(ctx, keys...)
}

// TTL reports the remaining lifetime of the session, never below one second
// so terminal-state writes survive long enough to be observed.
func (s *Session) TTL() time.Duration {
	remaining := time.Until(s.ExpiresAt)
	if remaining < time.Second {
		return time.Second
	}
	return remaining
}

// Expired reports whether the session deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ExpectedChunkSize returns the valid byte length for the given chunk index.
func (s *Session) ExpectedChunkSize(index int) int64 {
	if index < s.TotalChunks-1 {
		return s.ChunkSize
	}
	last := s.TotalSize % s.ChunkSize
	if last == 0 {
		return s.ChunkSize
	}
	return last
}
