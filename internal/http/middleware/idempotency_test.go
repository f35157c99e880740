package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	origin, scope, key string
}

// uploadRouter mounts the validator in front of an upload route that echoes
// what the validator stashed.
func uploadRouter(opts IdempotencyOptions, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.POST("/scripts/upload", IdempotencyValidator(opts, lookup), func(c *gin.Context) {
		key, has := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{
			"key":    key,
			"has":    has,
			"scope":  GetIdempotencyScope(c),
			"replay": IsReplay(c),
			"bypass": IsRateBypass(c),
		})
	})
	return r
}

func postUpload(r *gin.Engine, key, addr string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(http.MethodPost, "/scripts/upload", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	if addr != "" {
		req.RemoteAddr = addr
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestIdempotencyContextHelpers_Defaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("unexpected key %q/%v", k, ok)
	}
	if IsReplay(c) || GetIdempotencyScope(c) != "" {
		t.Fatal("fresh context must not look like a replay")
	}
	c.Set(ctxKeyIdemKey, 42)
	c.Set(ctxKeyIdemReplay, "true")
	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) {
		t.Fatal("mistyped context values must be ignored")
	}
}

func TestIdempotencyValidator_NoHeaderSkipsLookup(t *testing.T) {
	called := false
	r := uploadRouter(IdempotencyOptions{Scope: "upload"}, func(context.Context, string, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	})

	w, body := postUpload(r, "", "")
	if w.Code != http.StatusOK || called {
		t.Fatalf("status=%d lookup called=%v", w.Code, called)
	}
	if body["has"] != false || body["replay"] != false {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	digitsOnly := regexp.MustCompile(`^[0-9]+$`)
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long for default cap", IdempotencyOptions{}, strings.Repeat("k", 201)},
		{"too long for custom cap", IdempotencyOptions{MaxLen: 4}, "abcde"},
		{"illegal characters", IdempotencyOptions{}, "upload key/1"},
		{"custom pattern", IdempotencyOptions{Pattern: digitsOnly}, "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := uploadRouter(tc.opts, nil)
			w, body := postUpload(r, tc.key, "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status=%d want 400", w.Code)
			}
			if body["code"] != "bad_idempotency_key" || body["request_id"] == "" {
				t.Fatalf("unexpected envelope %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_ScopesLookupByOrigin(t *testing.T) {
	stored := map[lookupCall]bool{
		{origin: "192.0.2.10", scope: "upload", key: "up-1"}: true,
	}
	var calls []lookupCall
	r := uploadRouter(IdempotencyOptions{Scope: "upload"}, func(_ context.Context, origin, scope, key string, now time.Time) (bool, error) {
		if now.Location() != time.UTC {
			return false, errors.New("lookup must use UTC")
		}
		call := lookupCall{origin, scope, key}
		calls = append(calls, call)
		return stored[call], nil
	})

	// Same key, stored origin: replay and rate bypass.
	_, body := postUpload(r, "up-1", "192.0.2.10:1000")
	if body["replay"] != true || body["bypass"] != true || body["key"] != "up-1" || body["scope"] != "upload" {
		t.Fatalf("expected replay, got %v", body)
	}

	// Same key from another origin is a new operation.
	_, body = postUpload(r, "up-1", "192.0.2.11:1000")
	if body["replay"] != false || body["bypass"] != false || body["has"] != true {
		t.Fatalf("expected fresh operation, got %v", body)
	}

	if len(calls) != 2 || calls[1].origin != "192.0.2.11" {
		t.Fatalf("lookup calls = %+v", calls)
	}
}

func TestIdempotencyValidator_LookupErrorIsAMiss(t *testing.T) {
	r := uploadRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		return true, errors.New("database is locked")
	})

	w, body := postUpload(r, "up-2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	// Scope falls back to the route template.
	if body["scope"] != "/scripts/upload" {
		t.Fatalf("scope = %v", body["scope"])
	}
	if body["replay"] != false {
		t.Fatalf("lookup error must not mark a replay: %v", body)
	}
}
