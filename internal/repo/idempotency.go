// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for uploads.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-script-catalog/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (origin, scope, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, origin, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("origin = ? AND scope = ? AND key = ? AND expires_at > ?", origin, scope, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, origin, scope, key, scriptID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Origin:    origin,
		Scope:     scope,
		Key:       key,
		ScriptID:  scriptID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records that expired before now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// IdempotencyStore adapts the idempotency helpers to the upload handler.
type IdempotencyStore struct {
	DB  *gorm.DB
	TTL time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultIdempotencyTTL is how long an upload key replays its result.
const DefaultIdempotencyTTL = 24 * time.Hour

// Lookup returns the script id stored for (origin, scope, key).
func (s IdempotencyStore) Lookup(ctx context.Context, origin, scope, key string) (string, bool, error) {
	rec, err := GetIdempotency(ctx, s.DB, origin, scope, key, s.now())
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.ScriptID, true, nil
}

// Save records scriptID for (origin, scope, key). A concurrent writer that
// won the race is not an error.
func (s IdempotencyStore) Save(ctx context.Context, origin, scope, key, scriptID string, status int) error {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	_, err := CreateIdempotency(ctx, s.DB, origin, scope, key, scriptID, status, ttl)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func (s IdempotencyStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
