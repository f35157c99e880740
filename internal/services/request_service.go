// Package services – RequestService
//
// Script requests are asks for scripts that do not exist yet. Fulfilling a
// request flips its state and notifies every live subscriber.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/repo"
	"github.com/tbourn/go-script-catalog/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestInput is the payload for creating a script request.
type RequestInput struct {
	Title       string
	Description string
	Language    *string
	Tags        *string
}

// RequestService manages script requests.
type RequestService struct {
	DB       *gorm.DB
	Notifier Notifier
	Log      *zerolog.Logger
}

// NewRequestService constructs a RequestService. n may be nil, in which case
// fulfillment does not notify anyone.
func NewRequestService(db *gorm.DB, n Notifier) *RequestService {
	return &RequestService{DB: db, Notifier: n}
}

// Create validates and stores a new, unfulfilled request.
func (s *RequestService) Create(ctx context.Context, in RequestInput) (*domain.ScriptRequest, error) {
	title := normalizeTitle(in.Title)
	desc := strings.TrimSpace(in.Description)
	if n := utf8.RuneCountInString(title); n < 3 || n > 100 {
		return nil, fmt.Errorf("%w: title must be 3-100 characters", ErrInvalidMetadata)
	}
	if utf8.RuneCountInString(desc) < 10 {
		return nil, fmt.Errorf("%w: description must be at least 10 characters", ErrInvalidMetadata)
	}
	lang := trimOptional(in.Language)
	var tags *string
	if t := trimOptional(in.Tags); t != nil {
		joined := normalizeTags(*t)
		tags = &joined
	}
	return repo.CreateRequest(ctx, s.DB, title, desc, lang, tags)
}

// ListPage returns requests newest first with the total count.
func (s *RequestService) ListPage(ctx context.Context, page, pageSize int) ([]domain.ScriptRequest, int64, error) {
	offset, limit := utils.PageBounds(page, pageSize, DefaultPageSize, MaxPageSize)
	total, err := repo.CountRequests(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ScriptRequest{}, 0, nil
	}
	items, err := repo.ListRequestsPage(ctx, s.DB, offset, limit)
	return items, total, err
}

// Get returns a single request.
func (s *RequestService) Get(ctx context.Context, id string) (*domain.ScriptRequest, error) {
	r, err := repo.GetRequest(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	return r, err
}

// Fulfill marks the request fulfilled and broadcasts
// "Script request '<title>' has been fulfilled!" to every subscriber.
// Broadcast failures never surface to the caller.
func (s *RequestService) Fulfill(ctx context.Context, id string) (*domain.ScriptRequest, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Fulfill", trace.WithAttributes(attribute.String("request.id", id)))
	defer span.End()

	var req *domain.ScriptRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := repo.GetRequest(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if err := repo.MarkRequestFulfilled(ctx, tx, id); err != nil {
			return err
		}
		r.Fulfilled = true
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Notifier != nil {
		delivered := s.Notifier.Broadcast(ctx, FulfilledMessage(req.Title))
		span.SetAttributes(attribute.Int("notify.delivered", delivered))
		s.logger().Debug().Str("request_id", id).Int("delivered", delivered).Msg("fulfillment broadcast")
	}
	return req, nil
}

func (s *RequestService) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return &log.Logger
}

func trimOptional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
