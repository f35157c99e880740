// Package search provides a small, deterministic, concurrency-safe in-memory
// ranking index over catalog documents.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options (Option pattern)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// document's token set: score = |Q ∩ D| / |Q ∪ D|. Tokens found in a
// document's title count twice, so title hits outrank body hits.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Document is one rankable unit. ID is opaque to the index.
type Document struct {
	ID    string
	Title string
	Body  string
}

// Result is a ranked document with its similarity score.
type Result struct {
	ID      string
	Snippet string
	Score   float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
	Len() int
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minRunes     int
	stopwords    map[string]struct{}
	maxDocs      int
	snippetRunes int
	titleBoost   float64
}

func defaultConfig() config {
	return config{
		minRunes:     1,
		stopwords:    nil,
		maxDocs:      0,
		snippetRunes: 160,
		titleBoost:   1,
	}
}

// WithMinRunes drops documents whose combined text is shorter than n runes.
func WithMinRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minRunes = n
		}
	}
}

// WithStopwords ignores the given words in both queries and documents.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps how many documents are indexed.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// WithSnippetRunes sets the length of the body excerpt returned in results.
func WithSnippetRunes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.snippetRunes = n
		}
	}
}

// DefaultStopwords is a short English list suited to script metadata.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "in",
	"is", "it", "of", "on", "or", "that", "the", "this", "to", "with",
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	id      string
	snippet string
	tokens  map[string]struct{}
	title   map[string]struct{}
	tLen    int
	order   int
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndex builds an Index over docs. Order of docs breaks score ties.
func NewIndex(docs []Document, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	out := make([]doc, 0, len(docs))
	for i, d := range docs {
		title := strings.TrimSpace(normalizeWhitespace(d.Title))
		body := strings.TrimSpace(normalizeWhitespace(d.Body))
		full := strings.TrimSpace(title + " " + body)
		if full == "" {
			continue
		}
		if cfg.minRunes > 0 && utf8.RuneCountInString(full) < cfg.minRunes {
			continue
		}
		toks := tokenize(full, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		out = append(out, doc{
			id:      d.ID,
			snippet: clip(body, cfg.snippetRunes),
			tokens:  toks,
			title:   tokenize(title, cfg.stopwords),
			tLen:    len(toks),
			order:   i,
		})
		if cfg.maxDocs > 0 && len(out) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: out}
}

func (i *index) Len() int { return len(i.docs) }

// TopK returns up to k best-matching documents. k <= 0 returns all matches.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		d     *doc
		score float64
	}

	buf := make([]scored, 0, len(i.docs))
	for n := range i.docs {
		d := &i.docs[n]
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if hits := overlap(qTokens, d.title); hits > 0 {
			score += i.cfg.titleBoost * float64(hits) / union
		}
		buf = append(buf, scored{d: d, score: score})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		return buf[a].d.order < buf[b].d.order
	})

	if k <= 0 || k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for n := 0; n < k; n++ {
		out[n] = Result{ID: buf[n].d.id, Snippet: buf[n].d.snippet, Score: buf[n].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n])) + "…"
}
