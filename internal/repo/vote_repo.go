// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the vote ledger and the per-script
// aggregate counters.
//
// Counter changes use atomic "count = count ± 1" UPDATE expressions so that
// concurrent transactions never lose an increment. A missing aggregate row
// means zero; rows are deleted when they return to zero.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-script-catalog/internal/domain"
)

func aggregateTable(kind domain.VoteKind) (string, error) {
	switch kind {
	case domain.VoteLike:
		return domain.LikeAggregate{}.TableName(), nil
	case domain.VoteDownvote:
		return domain.DownvoteAggregate{}.TableName(), nil
	default:
		return "", fmt.Errorf("unknown vote kind %q", kind)
	}
}

// HasVote reports whether voter already holds a vote of kind on scriptID.
func HasVote(ctx context.Context, db *gorm.DB, voter, scriptID string, kind domain.VoteKind) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Where("voter = ? AND script_id = ? AND kind = ?", voter, scriptID, kind).
		Count(&n).Error
	return n > 0, err
}

// InsertVote appends a ledger entry. A second entry for the same
// (voter, script, kind) violates the unique index.
func InsertVote(ctx context.Context, db *gorm.DB, voter, scriptID string, kind domain.VoteKind) error {
	v := &domain.Vote{
		ID:        uuid.NewString(),
		Voter:     voter,
		ScriptID:  scriptID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(v).Error
}

// DeleteVote removes the voter's entry of kind and reports how many rows went.
func DeleteVote(ctx context.Context, db *gorm.DB, voter, scriptID string, kind domain.VoteKind) (int64, error) {
	res := db.WithContext(ctx).
		Where("voter = ? AND script_id = ? AND kind = ?", voter, scriptID, kind).
		Delete(&domain.Vote{})
	return res.RowsAffected, res.Error
}

// AggregateCount returns the stored total of kind for scriptID, or 0 when
// no aggregate row exists.
func AggregateCount(ctx context.Context, db *gorm.DB, kind domain.VoteKind, scriptID string) (int64, error) {
	table, err := aggregateTable(kind)
	if err != nil {
		return 0, err
	}
	var counts []int64
	if err := db.WithContext(ctx).Table(table).Where("script_id = ?", scriptID).Limit(1).Pluck("count", &counts).Error; err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, nil
	}
	return counts[0], nil
}

// IncrementAggregate adds one to the total of kind for scriptID, creating the
// row at 1 if absent, and returns the new total.
func IncrementAggregate(ctx context.Context, db *gorm.DB, kind domain.VoteKind, scriptID string) (int64, error) {
	table, err := aggregateTable(kind)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	row := map[string]any{"script_id": scriptID, "count": 1, "updated_at": now}
	err = db.WithContext(ctx).Table(table).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "script_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count":      gorm.Expr(table+".count + ?", 1),
				"updated_at": now,
			}),
		}).
		Create(row).Error
	if err != nil {
		return 0, err
	}
	return AggregateCount(ctx, db, kind, scriptID)
}

// DecrementAggregate subtracts one from the total of kind for scriptID,
// never going below zero, and deletes the row when it reaches zero. It
// returns the new total.
func DecrementAggregate(ctx context.Context, db *gorm.DB, kind domain.VoteKind, scriptID string) (int64, error) {
	table, err := aggregateTable(kind)
	if err != nil {
		return 0, err
	}
	tx := db.WithContext(ctx)
	if err := tx.Table(table).Where("script_id = ? AND count > 0", scriptID).
		Updates(map[string]any{"count": gorm.Expr("count - ?", 1), "updated_at": time.Now().UTC()}).Error; err != nil {
		return 0, err
	}
	n, err := AggregateCount(ctx, db, kind, scriptID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if err := tx.Exec("DELETE FROM "+table+" WHERE script_id = ? AND count <= 0", scriptID).Error; err != nil {
			return 0, err
		}
	}
	return n, nil
}

// SumLikes returns the total number of likes across all scripts.
func SumLikes(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.LikeAggregate{}).
		Select("COALESCE(SUM(count), 0)").Scan(&total).Error
	return total, err
}

// CountLikedScripts returns how many scripts have at least one like.
func CountLikedScripts(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.LikeAggregate{}).Where("count > 0").Count(&n).Error
	return n, err
}

// MostLikedScript returns the script with the highest like total, or
// ErrNotFound when nothing has been liked.
func MostLikedScript(ctx context.Context, db *gorm.DB) (*domain.Script, int64, error) {
	var agg domain.LikeAggregate
	err := db.WithContext(ctx).Order("count desc, updated_at asc").First(&agg).Error
	if err != nil {
		return nil, 0, err
	}
	s, err := GetScript(ctx, db, agg.ScriptID)
	if err != nil {
		return nil, 0, err
	}
	return s, agg.Count, nil
}
