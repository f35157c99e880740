package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Script{}).TableName():            "scripts",
		(Vote{}).TableName():              "votes",
		(LikeAggregate{}).TableName():     "script_likes",
		(DownvoteAggregate{}).TableName(): "script_downvotes",
		(ScriptRequest{}).TableName():     "script_requests",
		(Idempotency{}).TableName():       "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestVoteKind(t *testing.T) {
	if VoteLike.Opposite() != VoteDownvote || VoteDownvote.Opposite() != VoteLike {
		t.Fatalf("Opposite mismatch")
	}
	if !VoteLike.Valid() || !VoteDownvote.Valid() || VoteKind("meh").Valid() {
		t.Fatalf("Valid mismatch")
	}
}

func TestHashContent_Stable(t *testing.T) {
	a := HashContent("print('hi')")
	if a != HashContent("print('hi')") {
		t.Fatalf("hash not stable")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
	if a == HashContent("print('hi') ") {
		t.Fatalf("different content must hash differently")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Script{}, &Vote{}, &LikeAggregate{}, &DownvoteAggregate{}, &ScriptRequest{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	if !m.HasIndex(&Script{}, "ux_scripts_content_hash") {
		t.Fatalf("expected unique index ux_scripts_content_hash on scripts")
	}
	if !m.HasIndex(&Vote{}, "ux_votes_voter_script_kind") {
		t.Fatalf("expected unique index ux_votes_voter_script_kind on votes")
	}

	now := time.Now().UTC()
	s := &Script{ID: "s1", Title: "T", Language: "Go", Tags: "a", Description: "d", HowItWorks: "h",
		Category: "c", Content: "x", ContentHash: HashContent("x"), CreatedAt: now}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("insert script: %v", err)
	}

	// Same content hash is rejected.
	dup := *s
	dup.ID = "s2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique violation on duplicate content hash")
	}

	v := &Vote{ID: "v1", Voter: "10.0.0.1", ScriptID: "s1", Kind: VoteLike, CreatedAt: now}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("insert vote: %v", err)
	}
	again := &Vote{ID: "v2", Voter: "10.0.0.1", ScriptID: "s1", Kind: VoteLike, CreatedAt: now}
	if err := db.Create(again).Error; err == nil {
		t.Fatalf("expected unique violation on (voter, script, kind)")
	}

	// CASCADE: deleting the script removes its ledger rows.
	if err := db.Delete(&Script{}, "id = ?", "s1").Error; err != nil {
		t.Fatalf("delete script: %v", err)
	}
	var cnt int64
	if err := db.Model(&Vote{}).Where("script_id = ?", "s1").Count(&cnt).Error; err != nil {
		t.Fatalf("count votes: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected votes to cascade-delete, got %d", cnt)
	}
}
