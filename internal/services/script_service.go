// Package services – ScriptService
//
// This file implements the catalog use-cases: uploading a script file whose
// metadata is derived by an llm.Extractor, adding a script with explicit
// metadata, reading, searching, updating, and deleting scripts, plus the
// recent/trending/tags views.
//
// Observability: public methods that do I/O beyond a single query are
// OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/llm"
	"github.com/tbourn/go-script-catalog/internal/observability"
	"github.com/tbourn/go-script-catalog/internal/repo"
	"github.com/tbourn/go-script-catalog/internal/search"
	"github.com/tbourn/go-script-catalog/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Paging and view defaults.
const (
	DefaultPageSize         = 20
	MaxPageSize             = 100
	DefaultRecentLimit      = 10
	DefaultRecentWindow     = 24 * time.Hour
	DefaultTrendingMinLikes = 100

	// maxSearchCandidates caps how many filtered rows feed the ranked search.
	maxSearchCandidates = 1000
)

// ScriptInput carries explicit metadata for a new script.
type ScriptInput struct {
	Title       string
	Language    string
	Tags        string
	Description string
	HowItWorks  string
	Category    string
	Content     string
}

// UploadInput is an uploaded script file.
type UploadInput struct {
	Filename string
	Content  string
	// RequestID, when set, names a script request that this upload fulfills.
	RequestID string
}

// SearchQuery narrows and optionally ranks the catalog. Q, when set, ranks
// matches by relevance instead of recency.
type SearchQuery struct {
	Title    string
	Language string
	Tags     string
	Category string
	Q        string
	Page     int
	PageSize int
}

// ScriptUpdate is a partial metadata update; nil fields are untouched.
type ScriptUpdate struct {
	Title       *string
	Language    *string
	Tags        *string
	Description *string
	HowItWorks  *string
	Category    *string
}

// ScriptService coordinates the catalog store, the metadata extractor, and
// request fulfillment.
type ScriptService struct {
	DB        *gorm.DB
	Extractor llm.Extractor
	Retry     RetryPolicy
	Requests  *RequestService

	RecentWindow     time.Duration
	TrendingMinLikes int64

	// Now is the clock; nil means time.Now.
	Now func() time.Time
	Log *zerolog.Logger
}

// NewScriptService constructs a ScriptService with default views and retry.
func NewScriptService(db *gorm.DB, ex llm.Extractor, requests *RequestService) *ScriptService {
	return &ScriptService{
		DB:               db,
		Extractor:        ex,
		Requests:         requests,
		Retry:            RetryPolicy{Attempts: DefaultExtractAttempts},
		RecentWindow:     DefaultRecentWindow,
		TrendingMinLikes: DefaultTrendingMinLikes,
	}
}

// Create stores a script with explicit metadata after validation.
// Duplicate content fails with ErrDuplicateContent.
func (s *ScriptService) Create(ctx context.Context, in ScriptInput) (*domain.Script, error) {
	in.Title = normalizeTitle(in.Title)
	in.Language = strings.TrimSpace(in.Language)
	in.Tags = normalizeTags(in.Tags)
	in.Description = strings.TrimSpace(in.Description)
	in.HowItWorks = strings.TrimSpace(in.HowItWorks)
	in.Category = strings.TrimSpace(in.Category)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	sc := &domain.Script{
		Filename:    "input_script_" + uuid.NewString() + ".txt",
		Title:       in.Title,
		Language:    in.Language,
		Tags:        in.Tags,
		Description: in.Description,
		HowItWorks:  in.HowItWorks,
		Category:    in.Category,
		Content:     in.Content,
	}
	if err := s.store(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// Upload stores an uploaded file, deriving its metadata with the extractor.
// Extraction is retried per s.Retry; when required fields are still missing
// afterwards it fails with ErrExtractionIncomplete and nothing is stored.
// A non-empty RequestID is fulfilled (and broadcast) after the script is
// stored; an unknown RequestID fails with ErrRequestNotFound before any
// extraction happens.
func (s *ScriptService) Upload(ctx context.Context, in UploadInput) (*domain.Script, error) {
	tr := otel.Tracer("services/ScriptService")
	ctx, span := tr.Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.String("script.filename", in.Filename),
			attribute.Int("script.bytes", len(in.Content)),
		),
	)
	defer span.End()

	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidMetadata)
	}
	exists, err := repo.ScriptExists(ctx, s.DB, in.Content)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateContent
	}
	if in.RequestID != "" && s.Requests != nil {
		if _, err := s.Requests.Get(ctx, in.RequestID); err != nil {
			return nil, err
		}
	}

	md, err := s.extract(ctx, in.Content, strings.ToLower(filepath.Ext(in.Filename)))
	if err != nil {
		return nil, err
	}

	sc := &domain.Script{
		Filename:    filepath.Base(in.Filename),
		Title:       normalizeTitle(md[llm.FieldTitle]),
		Language:    normalizeLabel(md[llm.FieldLanguage]),
		Tags:        normalizeTags(md[llm.FieldTags]),
		Description: strings.TrimSpace(md[llm.FieldDescription]),
		HowItWorks:  strings.TrimSpace(md[llm.FieldHowItWorks]),
		Category:    normalizeLabel(md[llm.FieldCategory]),
		Content:     in.Content,
	}
	if err := s.store(ctx, sc); err != nil {
		return nil, err
	}
	span.SetAttributes(observability.ScriptAttr(sc.ID))

	if in.RequestID != "" && s.Requests != nil {
		if _, err := s.Requests.Fulfill(ctx, in.RequestID); err != nil {
			// The script is stored; report but do not fail the upload.
			s.logger().Warn().Err(err).Str("request_id", in.RequestID).Msg("fulfill after upload failed")
		}
	}
	return sc, nil
}

// extract runs the extractor under the retry policy, merging fields across
// attempts (first non-empty value wins).
func (s *ScriptService) extract(ctx context.Context, content, hint string) (llm.Metadata, error) {
	if s.Extractor == nil {
		return nil, llm.ErrNotConfigured
	}
	merged := llm.Metadata{}
	errIncomplete := errors.New("incomplete")

	err := s.Retry.Do(ctx, func(attempt int) error {
		md, err := s.Extractor.Extract(ctx, content, hint)
		if err != nil {
			observability.ObserveExtraction("error")
			s.logger().Warn().Err(err).Int("attempt", attempt).Msg("metadata extraction failed")
			if llm.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		for k, v := range md {
			if _, ok := merged[k]; !ok && strings.TrimSpace(v) != "" {
				merged[k] = v
			}
		}
		if missing := merged.Missing(); len(missing) > 0 {
			observability.ObserveExtraction("incomplete")
			s.logger().Debug().Int("attempt", attempt).Strs("missing", missing).Msg("metadata incomplete")
			return errIncomplete
		}
		observability.ObserveExtraction("complete")
		return nil
	})
	switch {
	case err == nil:
		return merged, nil
	case errors.Is(err, errIncomplete):
		return nil, fmt.Errorf("%w: missing %s", ErrExtractionIncomplete, strings.Join(merged.Missing(), ", "))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, llm.ErrNotConfigured):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
}

func (s *ScriptService) store(ctx context.Context, sc *domain.Script) error {
	exists, err := repo.ScriptExists(ctx, s.DB, sc.Content)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateContent
	}
	if err := repo.CreateScript(ctx, s.DB, sc); err != nil {
		// Lost a race with an identical upload.
		if repo.IsUniqueViolation(err) {
			return ErrDuplicateContent
		}
		return err
	}
	return nil
}

// Get returns a script by id.
func (s *ScriptService) Get(ctx context.Context, id string) (*domain.Script, error) {
	sc, err := repo.GetScript(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrScriptNotFound
	}
	return sc, err
}

// Update applies a partial metadata update and returns the stored script.
func (s *ScriptService) Update(ctx context.Context, id string, u ScriptUpdate) (*domain.Script, error) {
	p := repo.ScriptPatch{}
	if u.Title != nil {
		v := normalizeTitle(*u.Title)
		if n := utf8.RuneCountInString(v); n < 3 || n > 100 {
			return nil, fmt.Errorf("%w: title must be 3-100 characters", ErrInvalidMetadata)
		}
		p.Title = &v
	}
	if u.Language != nil {
		v := strings.TrimSpace(*u.Language)
		if n := utf8.RuneCountInString(v); n < 2 || n > 50 {
			return nil, fmt.Errorf("%w: language must be 2-50 characters", ErrInvalidMetadata)
		}
		p.Language = &v
	}
	if u.Tags != nil {
		v := normalizeTags(*u.Tags)
		if utf8.RuneCountInString(v) < 3 {
			return nil, fmt.Errorf("%w: tags must be at least 3 characters", ErrInvalidMetadata)
		}
		p.Tags = &v
	}
	if u.Description != nil {
		v := strings.TrimSpace(*u.Description)
		if utf8.RuneCountInString(v) < 10 {
			return nil, fmt.Errorf("%w: description must be at least 10 characters", ErrInvalidMetadata)
		}
		p.Description = &v
	}
	if u.HowItWorks != nil {
		v := strings.TrimSpace(*u.HowItWorks)
		if utf8.RuneCountInString(v) < 10 {
			return nil, fmt.Errorf("%w: how_it_works must be at least 10 characters", ErrInvalidMetadata)
		}
		p.HowItWorks = &v
	}
	if u.Category != nil {
		v := strings.TrimSpace(*u.Category)
		if n := utf8.RuneCountInString(v); n < 3 || n > 50 {
			return nil, fmt.Errorf("%w: category must be 3-50 characters", ErrInvalidMetadata)
		}
		p.Category = &v
	}

	if err := repo.UpdateScript(ctx, s.DB, id, p); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrScriptNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a script with its votes. Unknown ids fail with
// ErrScriptNotFound.
func (s *ScriptService) Delete(ctx context.Context, id string) error {
	var n int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = repo.DeleteScript(ctx, tx, id)
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrScriptNotFound
	}
	return nil
}

// ListPage returns all scripts newest first with the total count.
func (s *ScriptService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Script, int64, error) {
	return s.Search(ctx, SearchQuery{Page: page, PageSize: pageSize})
}

// Search filters by title, language, category (case-insensitive substring)
// and tags (comma-separated; every tag must match). When q.Q is set the
// matches are ranked by relevance to it and non-matching rows are dropped.
func (s *ScriptService) Search(ctx context.Context, q SearchQuery) ([]domain.Script, int64, error) {
	tr := otel.Tracer("services/ScriptService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("query", q.Q),
			attribute.Int("page", q.Page),
			attribute.Int("page_size", q.PageSize),
		),
	)
	defer span.End()

	f := repo.ScriptFilter{
		Title:    q.Title,
		Language: q.Language,
		Category: q.Category,
		Tags:     splitTags(q.Tags),
	}
	offset, limit := utils.PageBounds(q.Page, q.PageSize, DefaultPageSize, MaxPageSize)

	if strings.TrimSpace(q.Q) == "" {
		total, err := repo.CountScripts(ctx, s.DB, f)
		if err != nil {
			return nil, 0, err
		}
		if total == 0 {
			return []domain.Script{}, 0, nil
		}
		items, err := repo.ListScriptsPage(ctx, s.DB, f, offset, limit)
		return items, total, err
	}

	cands, err := repo.ListScriptsPage(ctx, s.DB, f, 0, maxSearchCandidates)
	if err != nil {
		return nil, 0, err
	}
	ranked := rankScripts(cands, q.Q)
	total := int64(len(ranked))
	if offset >= len(ranked) {
		return []domain.Script{}, total, nil
	}
	end := offset + limit
	if end > len(ranked) {
		end = len(ranked)
	}
	return ranked[offset:end], total, nil
}

func rankScripts(scripts []domain.Script, q string) []domain.Script {
	docs := make([]search.Document, len(scripts))
	byID := make(map[string]domain.Script, len(scripts))
	for i, sc := range scripts {
		docs[i] = search.Document{
			ID:    sc.ID,
			Title: sc.Title,
			Body:  strings.Join([]string{sc.Description, sc.HowItWorks, sc.Tags, sc.Category, sc.Language}, " "),
		}
		byID[sc.ID] = sc
	}
	idx := search.NewIndex(docs, search.WithStopwords(search.DefaultStopwords))
	results := idx.TopK(q, 0)
	out := make([]domain.Script, 0, len(results))
	for _, r := range results {
		out = append(out, byID[r.ID])
	}
	return out
}

// Tags returns every distinct tag in the catalog, sorted case-insensitively.
func (s *ScriptService) Tags(ctx context.Context) ([]string, error) {
	cols, err := repo.AllTagColumns(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	fold := cases.Fold()
	seen := map[string]struct{}{}
	out := []string{}
	for _, c := range cols {
		for _, t := range splitTags(c) {
			k := fold.String(t)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return fold.String(out[i]) < fold.String(out[j]) })
	return out, nil
}

// Recent returns scripts uploaded within the recent window, newest first.
func (s *ScriptService) Recent(ctx context.Context, limit int) ([]domain.Script, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return repo.RecentScripts(ctx, s.DB, s.now().Add(-s.recentWindow()), limit)
}

// Trending returns scripts with at least TrendingMinLikes likes, most liked first.
func (s *ScriptService) Trending(ctx context.Context) ([]domain.Script, error) {
	minLikes := s.TrendingMinLikes
	if minLikes <= 0 {
		minLikes = DefaultTrendingMinLikes
	}
	return repo.TrendingScripts(ctx, s.DB, minLikes)
}

// Stats returns the count and latest update of the scripts matching q's
// filters. The HTTP layer uses it for ETags.
func (s *ScriptService) Stats(ctx context.Context, q SearchQuery) (int64, *time.Time, error) {
	return repo.ScriptsStats(ctx, s.DB, repo.ScriptFilter{
		Title:    q.Title,
		Language: q.Language,
		Category: q.Category,
		Tags:     splitTags(q.Tags),
	})
}

func (s *ScriptService) recentWindow() time.Duration {
	if s.RecentWindow <= 0 {
		return DefaultRecentWindow
	}
	return s.RecentWindow
}

func (s *ScriptService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *ScriptService) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return &log.Logger
}

func validateInput(in ScriptInput) error {
	checks := []struct {
		field    string
		value    string
		min, max int
	}{
		{"title", in.Title, 3, 100},
		{"language", in.Language, 2, 50},
		{"tags", in.Tags, 3, 0},
		{"description", in.Description, 10, 0},
		{"how_it_works", in.HowItWorks, 10, 0},
		{"category", in.Category, 3, 50},
		{"script_content", in.Content, 1, 0},
	}
	for _, c := range checks {
		n := utf8.RuneCountInString(c.value)
		if n < c.min {
			return fmt.Errorf("%w: %s must be at least %d characters", ErrInvalidMetadata, c.field, c.min)
		}
		if c.max > 0 && n > c.max {
			return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidMetadata, c.field, c.max)
		}
	}
	return nil
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// normalizeLabel title-cases a model-supplied label without lowering the
// rest of each word ("javaScript" stays "JavaScript").
func normalizeLabel(s string) string {
	s = normalizeTitle(s)
	if s == "" {
		return s
	}
	return cases.Title(language.English, cases.NoLower).String(s)
}

// splitTags splits a comma-separated list, trimming and dropping blanks.
func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeTags trims each tag, drops blanks and case-insensitive
// duplicates, and joins with ", ".
func normalizeTags(s string) string {
	fold := cases.Fold()
	seen := map[string]struct{}{}
	var out []string
	for _, t := range splitTags(s) {
		k := fold.String(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return strings.Join(out, ", ")
}
