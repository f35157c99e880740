package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/repo"
)

// Analytics is a catalog-wide summary.
type Analytics struct {
	TotalScripts    int64          `json:"total_scripts"`
	TotalLikes      int64          `json:"total_likes"`
	MostLikedScript *domain.Script `json:"most_liked_script"`
	MostLikedCount  int64          `json:"most_liked_count"`
	RecentUploads   int64          `json:"recent_uploads"`
	// TrendingScripts counts scripts with at least one like.
	TrendingScripts int64 `json:"trending_scripts"`
}

// AnalyticsService computes catalog summaries.
type AnalyticsService struct {
	DB           *gorm.DB
	RecentWindow time.Duration
	Now          func() time.Time
}

// Summary gathers the totals in one read transaction so the numbers agree.
func (s *AnalyticsService) Summary(ctx context.Context) (Analytics, error) {
	var a Analytics
	window := s.RecentWindow
	if window <= 0 {
		window = DefaultRecentWindow
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if a.TotalScripts, err = repo.CountScripts(ctx, tx, repo.ScriptFilter{}); err != nil {
			return err
		}
		if a.TotalLikes, err = repo.SumLikes(ctx, tx); err != nil {
			return err
		}
		sc, n, err := repo.MostLikedScript(ctx, tx)
		switch {
		case err == nil:
			a.MostLikedScript, a.MostLikedCount = sc, n
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		if a.RecentUploads, err = repo.CountScriptsSince(ctx, tx, now.Add(-window)); err != nil {
			return err
		}
		a.TrendingScripts, err = repo.CountLikedScripts(ctx, tx)
		return err
	})
	return a, err
}
