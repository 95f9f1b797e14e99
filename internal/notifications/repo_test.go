package notifications

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/veridex/veridex-backend/pkg/db/models"
	"github.com/veridex/veridex-backend/pkg/pagination"
)

func newNotificationsDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	stmt := `CREATE TABLE notifications (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		owner_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		link TEXT,
		read_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if err := conn.Exec(stmt).Error; err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return conn
}

func seedNotifications(t *testing.T, repo Repository, ownerID uuid.UUID, count int) []models.Notification {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	seeded := make([]models.Notification, 0, count)
	for i := 0; i < count; i++ {
		notification := models.Notification{
			ID:        uuid.New(),
			OwnerID:   ownerID,
			Type:      "analysis_complete",
			Title:     fmt.Sprintf("notification %d", i),
			Message:   "message",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(context.Background(), &notification); err != nil {
			t.Fatalf("failed to seed notification: %v", err)
		}
		seeded = append(seeded, notification)
	}
	return seeded
}

func TestRepository_ListPaginatesNewestFirst(t *testing.T) {
	repo := NewRepository(newNotificationsDB(t))
	ownerID := uuid.New()
	seeded := seedNotifications(t, repo, ownerID, 5)

	page, next, err := repo.List(context.Background(), listNotificationsParams{OwnerID: ownerID, Limit: 2})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page))
	}
	if page[0].Title != seeded[4].Title || page[1].Title != seeded[3].Title {
		t.Fatalf("expected newest first, got %q then %q", page[0].Title, page[1].Title)
	}
	if next == nil {
		t.Fatal("expected a next cursor")
	}

	rest, last, err := repo.List(context.Background(), listNotificationsParams{OwnerID: ownerID, Limit: 10, Cursor: next})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rest) != 3 {
		t.Fatalf("expected remaining 3 rows, got %d", len(rest))
	}
	if last != nil {
		t.Fatalf("expected exhausted cursor, got %+v", last)
	}
}

func TestRepository_ListScopedToOwner(t *testing.T) {
	repo := NewRepository(newNotificationsDB(t))
	ownerID := uuid.New()
	seedNotifications(t, repo, ownerID, 2)
	seedNotifications(t, repo, uuid.New(), 3)

	page, _, err := repo.List(context.Background(), listNotificationsParams{OwnerID: ownerID, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 owner rows, got %d", len(page))
	}
}

func TestRepository_ListUnreadOnly(t *testing.T) {
	repo := NewRepository(newNotificationsDB(t))
	ownerID := uuid.New()
	seeded := seedNotifications(t, repo, ownerID, 3)

	if _, err := repo.MarkRead(context.Background(), ownerID, seeded[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}

	page, _, err := repo.List(context.Background(), listNotificationsParams{OwnerID: ownerID, Limit: 10, UnreadOnly: true})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 unread rows, got %d", len(page))
	}
}

func TestRepository_MarkRead(t *testing.T) {
	repo := NewRepository(newNotificationsDB(t))
	ownerID := uuid.New()
	seeded := seedNotifications(t, repo, ownerID, 1)
	now := time.Now().UTC()

	mark, err := repo.MarkRead(context.Background(), ownerID, seeded[0].ID, now)
	if err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}
	if !mark.Found || !mark.Updated {
		t.Fatalf("expected found and updated, got %+v", mark)
	}

	// A second mark finds the row but changes nothing.
	mark, err = repo.MarkRead(context.Background(), ownerID, seeded[0].ID, now)
	if err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}
	if !mark.Found || mark.Updated {
		t.Fatalf("expected found without update, got %+v", mark)
	}

	mark, err = repo.MarkRead(context.Background(), uuid.New(), seeded[0].ID, now)
	if err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}
	if mark.Found {
		t.Fatal("expected foreign owner to miss")
	}
}

func TestRepository_MarkAllReadAndUnreadCount(t *testing.T) {
	repo := NewRepository(newNotificationsDB(t))
	ownerID := uuid.New()
	seedNotifications(t, repo, ownerID, 4)
	seedNotifications(t, repo, uuid.New(), 2)

	count, err := repo.UnreadCount(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 unread, got %d", count)
	}

	updated, err := repo.MarkAllRead(context.Background(), ownerID, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}
	if updated != 4 {
		t.Fatalf("expected 4 updated, got %d", updated)
	}

	count, err = repo.UnreadCount(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 unread after mark all, got %d", count)
	}
}

func TestRepository_CursorRoundTrip(t *testing.T) {
	repo := NewRepository(newNotificationsDB(t))
	ownerID := uuid.New()
	seedNotifications(t, repo, ownerID, 3)

	_, next, err := repo.List(context.Background(), listNotificationsParams{OwnerID: ownerID, Limit: 1})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if next == nil {
		t.Fatal("expected cursor")
	}

	encoded := pagination.EncodeCursor(*next)
	decoded, err := pagination.ParseCursor(encoded)
	if err != nil {
		t.Fatalf("unexpected cursor error: %v", err)
	}
	if decoded.ID != next.ID {
		t.Fatalf("cursor id mismatch: %s vs %s", decoded.ID, next.ID)
	}
}
