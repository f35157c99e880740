package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-script-catalog/internal/domain"
)

// newRepoDB opens a private in-memory database with FKs enforced.
func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func newCatalogDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newRepoDB(t, &domain.Script{}, &domain.Vote{}, &domain.LikeAggregate{}, &domain.DownvoteAggregate{}, &domain.ScriptRequest{})
}

func seedScript(t *testing.T, db *gorm.DB, title, lang, tags, category, content string, created time.Time) *domain.Script {
	t.Helper()
	s := &domain.Script{
		Filename:    title + ".txt",
		Title:       title,
		Language:    lang,
		Tags:        tags,
		Description: "description of " + title,
		HowItWorks:  "it runs",
		Category:    category,
		Content:     content,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if err := CreateScript(context.Background(), db, s); err != nil {
		t.Fatalf("seed script %q: %v", title, err)
	}
	return s
}
