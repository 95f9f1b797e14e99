package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/veridex/veridex-backend/internal/content"
	"github.com/veridex/veridex-backend/pkg/db/models"
)

func newAnalysisDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	schema := []string{
		`CREATE TABLE videos (
			id TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			storage_path TEXT NOT NULL,
			gcs_key TEXT,
			archived_at DATETIME,
			created_at DATETIME
		)`,
		`CREATE TABLE analyses (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			video_hash TEXT NOT NULL,
			detector_set TEXT NOT NULL,
			detector_set_key TEXT NOT NULL,
			status TEXT NOT NULL,
			requested_by TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			failure_reason TEXT,
			queued_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE UNIQUE INDEX analyses_singleflight_key
			ON analyses (video_hash, detector_set_key)
			WHERE status IN ('queued', 'processing')`,
		`CREATE TABLE detector_outcomes (
			id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
			analysis_id TEXT NOT NULL,
			detector TEXT NOT NULL,
			model_version TEXT NOT NULL,
			score REAL,
			certainty REAL,
			weight REAL,
			techniques TEXT,
			frames_used INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at DATETIME
		)`,
		`CREATE TABLE fused_verdicts (
			id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
			analysis_id TEXT NOT NULL UNIQUE,
			video_hash TEXT NOT NULL,
			detector_set_key TEXT NOT NULL,
			label TEXT NOT NULL,
			score REAL NOT NULL,
			confidence REAL NOT NULL,
			threshold REAL NOT NULL,
			techniques TEXT,
			sampled_frames TEXT,
			detector_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME,
			UNIQUE (video_hash, detector_set_key)
		)`,
		`CREATE TABLE outbox_events (
			id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
			event_type TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME,
			published_at DATETIME,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`,
	}
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}
	return conn
}

func seedVideo(t *testing.T, conn *gorm.DB, payload []byte) *models.Video {
	t.Helper()
	video := &models.Video{
		ID:          uuid.New(),
		ContentHash: content.HashBytes(payload),
		OwnerID:     uuid.New(),
		FileName:    "clip.mp4",
		MimeType:    "video/mp4",
		SizeBytes:   int64(len(payload)),
		StoragePath: "/var/lib/veridex/videos/" + content.HashBytes(payload) + ".mp4",
	}
	if err := conn.Create(video).Error; err != nil {
		t.Fatalf("seeding video: %v", err)
	}
	return video
}

func eventTypes(t *testing.T, conn *gorm.DB) map[string]int {
	t.Helper()
	var types []string
	if err := conn.Raw("SELECT event_type FROM outbox_events").Scan(&types).Error; err != nil {
		t.Fatalf("reading outbox events: %v", err)
	}
	counts := map[string]int{}
	for _, tp := range types {
		counts[tp]++
	}
	return counts
}

type fakeVerdictRedis struct {
	data map[string]string
}

func newFakeVerdictRedis() *fakeVerdictRedis {
	return &fakeVerdictRedis{data: map[string]string{}}
}

func (f *fakeVerdictRedis) Get(_ context.Context, key string) (string, error) {
	value, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (f *fakeVerdictRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	return true, nil
}

func (f *fakeVerdictRedis) VerdictCacheKey(contentHash, setKey string) string {
	return "vx:verdict:" + contentHash + ":" + setKey
}
