// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Script
// model (the catalog store).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: persistence and query composition only.
//
// Error semantics:
//   - When a script is not found, functions return ErrNotFound
//     (gorm.ErrRecordNotFound).
//   - Duplicate content surfaces as the raw unique-violation error; use
//     IsUniqueViolation to detect it.
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

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ScriptFilter narrows ListScripts/SearchScripts. Empty fields are ignored.
// Title, Language and Category match case-insensitive substrings; every tag
// in Tags must occur in the script's tag list.
type ScriptFilter struct {
	Title    string
	Language string
	Category string
	Tags     []string
	IDs      []string
}

// ScriptPatch carries a partial metadata update; nil fields are untouched.
type ScriptPatch struct {
	Title       *string
	Language    *string
	Tags        *string
	Description *string
	HowItWorks  *string
	Category    *string
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// ScriptExists reports whether a script with exactly this content is stored.
func ScriptExists(ctx context.Context, db *gorm.DB, content string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Script{}).
		Where("content_hash = ?", domain.HashContent(content)).
		Count(&n).Error
	return n > 0, err
}

// CreateScript inserts s, filling ID, ContentHash and CreatedAt when unset.
func CreateScript(ctx context.Context, db *gorm.DB, s *domain.Script) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.ContentHash = domain.HashContent(s.Content)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(s).Error
}

// GetScript fetches a script by id or returns ErrNotFound.
func GetScript(ctx context.Context, db *gorm.DB, id string) (*domain.Script, error) {
	var s domain.Script
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteScript removes a script together with its votes and aggregates.
// It returns the number of script rows removed; deleting an absent script
// is not an error and reports 0.
func DeleteScript(ctx context.Context, db *gorm.DB, id string) (int64, error) {
	tx := db.WithContext(ctx)
	// Explicit cleanup keeps drivers without FK enforcement consistent.
	if err := tx.Where("script_id = ?", id).Delete(&domain.Vote{}).Error; err != nil {
		return 0, err
	}
	if err := tx.Where("script_id = ?", id).Delete(&domain.LikeAggregate{}).Error; err != nil {
		return 0, err
	}
	if err := tx.Where("script_id = ?", id).Delete(&domain.DownvoteAggregate{}).Error; err != nil {
		return 0, err
	}
	res := tx.Where("id = ?", id).Delete(&domain.Script{})
	return res.RowsAffected, res.Error
}

// UpdateScript applies the non-nil fields of p. It returns ErrNotFound when
// no script has the id.
func UpdateScript(ctx context.Context, db *gorm.DB, id string, p ScriptPatch) error {
	updates := map[string]any{}
	if p.Title != nil {
		updates["title"] = *p.Title
	}
	if p.Language != nil {
		updates["language"] = *p.Language
	}
	if p.Tags != nil {
		updates["tags"] = *p.Tags
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.HowItWorks != nil {
		updates["how_it_works"] = *p.HowItWorks
	}
	if p.Category != nil {
		updates["category"] = *p.Category
	}

	q := db.WithContext(ctx).Model(&domain.Script{}).Where("id = ?", id)
	if len(updates) == 0 {
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func applyScriptFilter(q *gorm.DB, f ScriptFilter) *gorm.DB {
	if v := strings.TrimSpace(f.Title); v != "" {
		q = q.Where("LOWER(title) LIKE ?", likePattern(v))
	}
	if v := strings.TrimSpace(f.Language); v != "" {
		q = q.Where("LOWER(language) LIKE ?", likePattern(v))
	}
	if v := strings.TrimSpace(f.Category); v != "" {
		q = q.Where("LOWER(category) LIKE ?", likePattern(v))
	}
	for _, tag := range f.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			q = q.Where("LOWER(tags) LIKE ?", likePattern(tag))
		}
	}
	if f.IDs != nil {
		q = q.Where("id IN ?", f.IDs)
	}
	return q
}

func likePattern(v string) string {
	return "%" + strings.ToLower(v) + "%"
}

// CountScripts returns how many scripts match f.
func CountScripts(ctx context.Context, db *gorm.DB, f ScriptFilter) (int64, error) {
	var total int64
	err := applyScriptFilter(db.WithContext(ctx).Model(&domain.Script{}), f).Count(&total).Error
	return total, err
}

// ListScriptsPage returns matching scripts, newest first.
// The caller is responsible for computing offset and limit.
func ListScriptsPage(ctx context.Context, db *gorm.DB, f ScriptFilter, offset, limit int) ([]domain.Script, error) {
	var out []domain.Script
	q := applyScriptFilter(db.WithContext(ctx).Model(&domain.Script{}), f).
		Order("created_at desc, id asc")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListScriptsByIDs returns the scripts whose ids are given, in no particular order.
func ListScriptsByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Script, error) {
	var out []domain.Script
	if len(ids) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// RecentScripts returns scripts created at or after since, newest first.
func RecentScripts(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]domain.Script, error) {
	var out []domain.Script
	q := db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// TrendingScripts returns scripts whose like aggregate is at least minLikes,
// most liked first.
func TrendingScripts(ctx context.Context, db *gorm.DB, minLikes int64) ([]domain.Script, error) {
	var out []domain.Script
	err := db.WithContext(ctx).
		Model(&domain.Script{}).
		Select("scripts.*").
		Joins("JOIN script_likes ON script_likes.script_id = scripts.id").
		Where("script_likes.count >= ?", minLikes).
		Order("script_likes.count desc, scripts.created_at desc").
		Find(&out).Error
	return out, err
}

// AllTagColumns returns the raw comma-separated tags of every script.
func AllTagColumns(ctx context.Context, db *gorm.DB) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).Model(&domain.Script{}).Distinct().Pluck("tags", &out).Error
	return out, err
}
