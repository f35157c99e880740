// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for analytics and for conditional responses (ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-script-catalog/internal/domain"
)

// ScriptsStats returns the number of scripts matching f and the greatest
// UpdatedAt among them (nil when there are none).
func ScriptsStats(ctx context.Context, db *gorm.DB, f ScriptFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	return tableStats(applyScriptFilter(db.WithContext(ctx).Model(&domain.Script{}), f))
}

// RequestsStats returns the number of script requests and the greatest
// UpdatedAt among them.
func RequestsStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	return tableStats(db.WithContext(ctx).Model(&domain.ScriptRequest{}))
}

func tableStats(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// CountScriptsSince returns the number of scripts created at or after since.
func CountScriptsSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Script{}).Where("created_at >= ?", since).Count(&n).Error
	return n, err
}
