package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/llm"
	"github.com/tbourn/go-script-catalog/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// newFileSvcDB opens a migrated database file the way the server does, so
// concurrent tests see real pooled connections and locking.
func newFileSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open sqlite file: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func mustScript(t *testing.T, db *gorm.DB, title, content string) *domain.Script {
	t.Helper()
	sc := &domain.Script{
		Title:       title,
		Language:    "Python",
		Tags:        "a, b, c",
		Description: "description of " + title,
		HowItWorks:  "it does the thing",
		Category:    "Utilities",
		Content:     content,
	}
	if err := repo.CreateScript(context.Background(), db, sc); err != nil {
		t.Fatalf("seed script: %v", err)
	}
	return sc
}

// fakeNotifier records broadcast messages.
type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Broadcast(_ context.Context, msg string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return 1
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

// scriptedExtractor replays replies in order and counts calls.
type scriptedExtractor struct {
	mu      sync.Mutex
	replies []extractReply
	calls   int
}

type extractReply struct {
	md  llm.Metadata
	err error
}

func (s *scriptedExtractor) Extract(_ context.Context, _, _ string) (llm.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i].md, s.replies[i].err
}

func (s *scriptedExtractor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fullMetadata() llm.Metadata {
	return llm.Metadata{
		llm.FieldTitle:       "Bulk Image Resizer",
		llm.FieldLanguage:    "python",
		llm.FieldTags:        "image, resize , Image, pil",
		llm.FieldDescription: "Resizes every image in a folder.",
		llm.FieldHowItWorks:  "Walks the folder and calls thumbnail.",
		llm.FieldCategory:    "image processing",
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}
