package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-script-catalog/internal/domain"
)

func TestGetIdempotency_BlankKey_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	rec, err := GetIdempotency(context.Background(), db, "ip", "upload", "   ", time.Now().UTC())
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:        "expired",
		Origin:    "ip",
		Scope:     "upload",
		Key:       "k1",
		ScriptID:  "s1",
		Status:    201,
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	if rec, err := GetIdempotency(context.Background(), db, "ip", "upload", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "ip", "upload", "missing", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec, err)
	}

	n, err := PurgeExpiredIdempotency(context.Background(), db, now)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpiredIdempotency = %d, %v", n, err)
	}
}

func TestCreateIdempotency_SuccessAndDuplicate(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(context.Background(), db, "ip9", "upload", "k9", "s9", 201, ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec.Origin != "ip9" || rec.Scope != "upload" || rec.Key != "k9" || rec.ScriptID != "s9" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	got, err := GetIdempotency(context.Background(), db, "ip9", "upload", "k9", time.Now().UTC())
	if err != nil || got.ScriptID != "s9" {
		t.Fatalf("GetIdempotency = %+v, %v", got, err)
	}

	if _, err := CreateIdempotency(context.Background(), db, "ip9", "upload", "k9", "sX", 201, ttl); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newRepoDB(t)
	if _, err := CreateIdempotency(context.Background(), db, "ip", "upload", "k", "s", 201, time.Minute); err == nil {
		t.Fatalf("expected error when table is missing")
	}
}

func TestIdempotencyStore_SaveLookupAndDuplicate(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	st := IdempotencyStore{DB: db, TTL: time.Hour}

	if _, ok, err := st.Lookup(ctx, "ip", "upload", "k"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := st.Save(ctx, "ip", "upload", "k", "script-1", 201); err != nil {
		t.Fatalf("save: %v", err)
	}
	// second save with the same key is absorbed
	if err := st.Save(ctx, "ip", "upload", "k", "script-2", 201); err != nil {
		t.Fatalf("duplicate save should be nil, got %v", err)
	}
	id, ok, err := st.Lookup(ctx, "ip", "upload", "k")
	if err != nil || !ok || id != "script-1" {
		t.Fatalf("lookup = (%q, %v, %v), want (script-1, true, nil)", id, ok, err)
	}
	// other origins do not see the key
	if _, ok, _ := st.Lookup(ctx, "other", "upload", "k"); ok {
		t.Fatal("key leaked across origins")
	}
	// after expiry the key is gone
	st.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, ok, _ := st.Lookup(ctx, "ip", "upload", "k"); ok {
		t.Fatal("expected expired key to miss")
	}
}
