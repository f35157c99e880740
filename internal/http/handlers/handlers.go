// Package handlers exposes the script catalog over HTTP.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses
// and idempotent replays).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/llm"
	"github.com/tbourn/go-script-catalog/internal/notify"
	"github.com/tbourn/go-script-catalog/internal/services"
	"github.com/tbourn/go-script-catalog/internal/utils"
)

//
// Service contracts (context-aware)
//

// ScriptService defines catalog operations consumed by HTTP handlers.
type ScriptService interface {
	Create(ctx context.Context, in services.ScriptInput) (*domain.Script, error)
	Upload(ctx context.Context, in services.UploadInput) (*domain.Script, error)
	Get(ctx context.Context, id string) (*domain.Script, error)
	Update(ctx context.Context, id string, u services.ScriptUpdate) (*domain.Script, error)
	Delete(ctx context.Context, id string) error
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Script, int64, error)
	Search(ctx context.Context, q services.SearchQuery) ([]domain.Script, int64, error)
	Tags(ctx context.Context) ([]string, error)
	Recent(ctx context.Context, limit int) ([]domain.Script, error)
	Trending(ctx context.Context) ([]domain.Script, error)
	// Stats returns the row count and latest update for q, used for ETags.
	Stats(ctx context.Context, q services.SearchQuery) (int64, *time.Time, error)
}

// VoteService defines the reputation ledger operations.
type VoteService interface {
	Like(ctx context.Context, voter, scriptID string) (services.VoteResult, error)
	Downvote(ctx context.Context, voter, scriptID string) (services.VoteResult, error)
	LikeCount(ctx context.Context, scriptID string) (int64, error)
	DownvoteCount(ctx context.Context, scriptID string) (int64, error)
	Threshold() int64
}

// RequestService defines script request operations.
type RequestService interface {
	Create(ctx context.Context, in services.RequestInput) (*domain.ScriptRequest, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.ScriptRequest, int64, error)
	Fulfill(ctx context.Context, id string) (*domain.ScriptRequest, error)
}

// AnalyticsService produces the catalog summary.
type AnalyticsService interface {
	Summary(ctx context.Context) (services.Analytics, error)
}

// Subscriber owns websocket subscribers for their lifetime.
type Subscriber interface {
	Serve(c notify.Conn)
}

// IdempotencyStore persists upload results keyed by (origin, scope, key).
type IdempotencyStore interface {
	// Lookup returns the script id recorded for the key, or ok=false.
	Lookup(ctx context.Context, origin, scope, key string) (scriptID string, ok bool, err error)
	// Save records scriptID for the key; duplicates are ignored.
	Save(ctx context.Context, origin, scope, key, scriptID string, status int) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the catalog.
type Handlers struct {
	scripts   ScriptService
	votes     VoteService
	requests  RequestService
	analytics AnalyticsService
	hub       Subscriber
	idem      IdempotencyStore

	// MaxUploadBytes caps uploaded file size; 0 disables the check.
	MaxUploadBytes int64
	// WSReadLimit caps inbound websocket frames.
	WSReadLimit int64
	// WSPongWait is how long a silent subscriber is kept.
	WSPongWait time.Duration
}

// Deps bundles the services a Handlers instance is bound to. Nil members
// disable the idempotent replay (Idempotency) or the websocket endpoint (Hub).
type Deps struct {
	Scripts     ScriptService
	Votes       VoteService
	Requests    RequestService
	Analytics   AnalyticsService
	Hub         Subscriber
	Idempotency IdempotencyStore
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		scripts:     d.Scripts,
		votes:       d.Votes,
		requests:    d.Requests,
		analytics:   d.Analytics,
		hub:         d.Hub,
		idem:        d.Idempotency,
		WSReadLimit: notify.DefaultReadLimit,
		WSPongWait:  notify.DefaultPongWait,
	}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// DetailResponse is the plain acknowledgement body.
type DetailResponse struct {
	Detail string `json:"detail" example:"Script deleted successfully"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// serviceError maps service and extractor errors onto the error envelope.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrScriptNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "script not found")
	case errors.Is(err, services.ErrRequestNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "script request not found")
	case errors.Is(err, services.ErrDuplicateVote):
		fail(c, http.StatusConflict, ErrCodeDuplicateVote, err.Error())
	case errors.Is(err, services.ErrDuplicateContent):
		fail(c, http.StatusConflict, ErrCodeConflict, "script content already exists")
	case errors.Is(err, services.ErrInvalidMetadata), errors.Is(err, services.ErrInvalidVoter):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrExtractionIncomplete):
		fail(c, http.StatusUnprocessableEntity, ErrCodeExtractionIncomplete, err.Error())
	case errors.Is(err, llm.ErrNotConfigured):
		fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, "metadata extraction is not configured")
	case errors.Is(err, services.ErrExtractionFailed), llm.IsTransient(err):
		fail(c, http.StatusBadGateway, ErrCodeUpstream, "metadata extraction failed")
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeUpstream, "request timed out")
	default:
		failWith(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error", err)
	}
}
