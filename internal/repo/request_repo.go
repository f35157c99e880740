// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ScriptRequest model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-script-catalog/internal/domain"
)

// CreateRequest stores an unfulfilled request.
func CreateRequest(ctx context.Context, db *gorm.DB, title, description string, language, tags *string) (*domain.ScriptRequest, error) {
	r := &domain.ScriptRequest{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Language:    language,
		Tags:        tags,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRequest fetches a request by id or returns ErrNotFound.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.ScriptRequest, error) {
	var r domain.ScriptRequest
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRequests returns the number of stored requests.
func CountRequests(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.ScriptRequest{}).Count(&n).Error
	return n, err
}

// ListRequestsPage returns requests newest first.
func ListRequestsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.ScriptRequest, error) {
	var out []domain.ScriptRequest
	q := db.WithContext(ctx).Order("created_at desc, id asc")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// MarkRequestFulfilled sets the fulfilled flag. Fulfilling twice is allowed.
// It returns ErrNotFound when no request has the id.
func MarkRequestFulfilled(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.ScriptRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{"fulfilled": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
