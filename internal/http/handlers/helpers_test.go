package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-script-catalog/internal/http/middleware"
	"github.com/tbourn/go-script-catalog/internal/llm"
	"github.com/tbourn/go-script-catalog/internal/repo"
	"github.com/tbourn/go-script-catalog/internal/services"
)

// ---------- test DB + wiring ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// recordingNotifier captures broadcast messages.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Broadcast(_ context.Context, msg string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return 1
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

// countingExtractor returns md on every call and counts calls.
type countingExtractor struct {
	mu    sync.Mutex
	calls int
	md    llm.Metadata
	err   error
}

func (e *countingExtractor) Extract(context.Context, string, string) (llm.Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.md, e.err
}

func (e *countingExtractor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func fullMetadata() llm.Metadata {
	return llm.Metadata{
		llm.FieldTitle:       "backup home",
		llm.FieldLanguage:    "bash",
		llm.FieldTags:        "backup, cron ,tar",
		llm.FieldDescription: "Archives the home directory nightly.",
		llm.FieldHowItWorks:  "Runs tar with gzip and rotates old archives.",
		llm.FieldCategory:    "utilities",
	}
}

type testEnv struct {
	db       *gorm.DB
	router   *gin.Engine
	handlers *Handlers
	notifier *recordingNotifier
	ex       *countingExtractor
}

type envOption func(*envConfig)

type envConfig struct {
	threshold int64
	ex        llm.Extractor
	maxUpload int64
}

func withThreshold(n int64) envOption { return func(c *envConfig) { c.threshold = n } }
func withExtractor(e llm.Extractor) envOption { return func(c *envConfig) { c.ex = e } }
func withMaxUpload(n int64) envOption { return func(c *envConfig) { c.maxUpload = n } }

// newTestEnv wires real services over an in-memory store behind the same
// routes the server registers. X-Origin overrides the caller origin so tests
// can vote as several clients.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ce := &countingExtractor{md: fullMetadata()}
	cfg := envConfig{ex: ce}
	for _, o := range opts {
		o(&cfg)
	}

	db := newHandlerDB(t)
	notifier := &recordingNotifier{}
	requests := services.NewRequestService(db, notifier)
	scripts := services.NewScriptService(db, cfg.ex, requests)
	scripts.Retry = services.RetryPolicy{Attempts: 1}

	h := New(Deps{
		Scripts:     scripts,
		Votes:       services.NewVoteService(db, cfg.threshold),
		Requests:    requests,
		Analytics:   &services.AnalyticsService{DB: db},
		Idempotency: repo.IdempotencyStore{DB: db},
	})
	h.MaxUploadBytes = cfg.maxUpload

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if o := c.GetHeader("X-Origin"); o != "" {
			middleware.SetOrigin(c, o)
		}
		c.Next()
	})
	r.POST("/scripts/upload", middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: UploadScope}, nil), h.UploadScript)
	r.POST("/scripts", h.CreateScript)
	r.GET("/scripts", h.ListScripts)
	r.GET("/scripts/search", h.SearchScripts)
	r.GET("/scripts/recent", h.RecentScripts)
	r.GET("/scripts/trending", h.TrendingScripts)
	r.GET("/scripts/:id", h.GetScript)
	r.PUT("/scripts/:id", h.UpdateScript)
	r.DELETE("/scripts/:id", h.DeleteScript)
	r.POST("/scripts/:id/like", h.LikeScript)
	r.POST("/scripts/:id/downvote", h.DownvoteScript)
	r.GET("/scripts/:id/likes", h.ScriptLikes)
	r.GET("/scripts/:id/downvotes", h.ScriptDownvotes)
	r.GET("/tags", h.ListTags)
	r.GET("/analytics", h.Analytics)
	r.POST("/requests", h.CreateRequest)
	r.GET("/requests", h.ListRequests)
	r.PUT("/requests/:id/fulfill", h.FulfillRequest)

	return &testEnv{db: db, router: r, handlers: h, notifier: notifier, ex: ce}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	return e.do(t, method, path, body, headers)
}

// upload posts a multipart upload with the given file content.
func (e *testEnv) upload(t *testing.T, filename, content string, fields, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write([]byte(content))
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/scripts/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createScript stores a script through the API and returns its id.
func (e *testEnv) createScript(t *testing.T, title, content string) string {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/scripts", validCreate(title, content), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create %q: status=%d body=%s", title, w.Code, w.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	decode(t, w, &out)
	return out.ID
}

func validCreate(title, content string) CreateScriptRequest {
	return CreateScriptRequest{
		Title:       title,
		Language:    "Python",
		Tags:        " logs ,parse,  cli ",
		Description: "Parses access logs into a summary.",
		HowItWorks:  "Reads lines, splits fields and counts status codes.",
		Category:    "Utilities",
		Content:     content,
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	decode(t, w, &er)
	return er.Code
}
