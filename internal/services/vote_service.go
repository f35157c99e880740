// Package services – VoteService
//
// This file implements the reputation ledger: likes and downvotes cast by a
// voter (the caller's network origin) on catalog scripts. A voter holds at
// most one vote per kind per script, and a like and a downvote by the same
// voter never coexist; casting one withdraws the other.
//
// Each cast runs in a single transaction covering the ledger lookup, the
// opposing-vote withdrawal, the insert, both counter updates, the moderation
// check, and (for downvotes) the threshold deletion. Counters change through
// atomic "count ± 1" statements so concurrent casts never lose updates.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/observability"
	"github.com/tbourn/go-script-catalog/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// VoteResult is the outcome of a cast.
type VoteResult struct {
	ScriptID string
	Kind     domain.VoteKind
	// Count is the new total for Kind. It is 0 when Removed is set.
	Count int64
	// Removed is set when the cast pushed the script over the moderation
	// threshold and it was deleted.
	Removed bool
}

// VoteService records likes and downvotes and enforces moderation.
type VoteService struct {
	DB     *gorm.DB
	Policy ModerationPolicy
	Log    *zerolog.Logger
}

// NewVoteService constructs a VoteService with the given moderation threshold
// (<= 0 selects the default).
func NewVoteService(db *gorm.DB, threshold int64) *VoteService {
	return &VoteService{DB: db, Policy: ModerationPolicy{Threshold: threshold}}
}

// Like records a like by voter. It fails with ErrDuplicateVote when the
// voter already liked the script and ErrScriptNotFound when it does not
// exist. An existing downvote by the same voter is withdrawn first.
func (s *VoteService) Like(ctx context.Context, voter, scriptID string) (VoteResult, error) {
	return s.cast(ctx, voter, scriptID, domain.VoteLike)
}

// Downvote records a downvote by voter, mirroring Like. When the new total
// reaches the moderation threshold the script is deleted in the same
// transaction and the result has Removed set.
func (s *VoteService) Downvote(ctx context.Context, voter, scriptID string) (VoteResult, error) {
	return s.cast(ctx, voter, scriptID, domain.VoteDownvote)
}

// LikeCount returns the like total for scriptID (0 when none).
func (s *VoteService) LikeCount(ctx context.Context, scriptID string) (int64, error) {
	return repo.AggregateCount(ctx, s.DB, domain.VoteLike, scriptID)
}

// DownvoteCount returns the downvote total for scriptID (0 when none).
func (s *VoteService) DownvoteCount(ctx context.Context, scriptID string) (int64, error) {
	return repo.AggregateCount(ctx, s.DB, domain.VoteDownvote, scriptID)
}

func (s *VoteService) cast(ctx context.Context, voter, scriptID string, kind domain.VoteKind) (VoteResult, error) {
	tr := otel.Tracer("services/VoteService")
	ctx, span := tr.Start(ctx, "cast",
		trace.WithAttributes(
			observability.ScriptAttr(scriptID),
			attribute.String("vote.kind", string(kind)),
		),
	)
	defer span.End()

	res := VoteResult{ScriptID: scriptID, Kind: kind}
	voter = strings.TrimSpace(voter)
	if voter == "" {
		return res, ErrInvalidVoter
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetScript(ctx, tx, scriptID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrScriptNotFound
			}
			return err
		}

		has, err := repo.HasVote(ctx, tx, voter, scriptID, kind)
		if err != nil {
			return err
		}
		if has {
			return ErrDuplicateVote
		}

		// Withdraw the opposing vote, if any.
		opposite := kind.Opposite()
		withdrawn, err := repo.DeleteVote(ctx, tx, voter, scriptID, opposite)
		if err != nil {
			return err
		}
		if withdrawn > 0 {
			if _, err := repo.DecrementAggregate(ctx, tx, opposite, scriptID); err != nil {
				return err
			}
		}

		if err := repo.InsertVote(ctx, tx, voter, scriptID, kind); err != nil {
			if repo.IsUniqueViolation(err) {
				return ErrDuplicateVote
			}
			return err
		}

		count, err := repo.IncrementAggregate(ctx, tx, kind, scriptID)
		if err != nil {
			return err
		}
		res.Count = count

		if kind == domain.VoteDownvote && s.Policy.ShouldRemove(count) {
			if _, err := repo.DeleteScript(ctx, tx, scriptID); err != nil {
				return err
			}
			res.Removed = true
			res.Count = 0
		}
		return nil
	})

	observability.ObserveVote(string(kind), voteOutcome(err))
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateVote), errors.Is(err, ErrScriptNotFound):
			return res, err
		default:
			return res, fmt.Errorf("cast %s: %w", kind, err)
		}
	}
	if res.Removed {
		observability.ObserveScriptRemoved()
		s.logger().Info().
			Str("script_id", scriptID).
			Int64("threshold", s.Policy.threshold()).
			Msg("script removed by moderation")
	}
	span.SetAttributes(attribute.Int64("vote.count", res.Count), attribute.Bool("script.removed", res.Removed))
	return res, nil
}

func (s *VoteService) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return &log.Logger
}

func voteOutcome(err error) string {
	switch {
	case err == nil:
		return "recorded"
	case errors.Is(err, ErrDuplicateVote):
		return "duplicate"
	case errors.Is(err, ErrScriptNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Threshold returns the effective moderation threshold.
func (s *VoteService) Threshold() int64 { return s.Policy.threshold() }
