package handlers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/llm"
)

func TestCreateScript_BadJSON_Validation_Success_Duplicate(t *testing.T) {
	env := newTestEnv(t)

	// bad JSON
	w := env.do(t, http.MethodPost, "/scripts", strings.NewReader("{"), nil)
	if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeBadRequest {
		t.Fatalf("bad json: status=%d body=%s", w.Code, w.Body.String())
	}

	// validation (title too short)
	w = env.doJSON(t, http.MethodPost, "/scripts", validCreate("ab", "print(1)"), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("short title: status=%d body=%s", w.Code, w.Body.String())
	}

	// success, tags normalized
	w = env.doJSON(t, http.MethodPost, "/scripts", validCreate("Log summary", "print(1)"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status=%d body=%s", w.Code, w.Body.String())
	}
	var sc domain.Script
	decode(t, w, &sc)
	if sc.ID == "" || sc.Tags != "logs, parse, cli" || sc.Content != "print(1)" {
		t.Fatalf("unexpected script: %+v", sc)
	}

	// duplicate content
	w = env.doJSON(t, http.MethodPost, "/scripts", validCreate("Other title", "print(1)"), nil)
	if w.Code != http.StatusConflict || errCode(t, w) != ErrCodeConflict {
		t.Fatalf("duplicate: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestUploadScript_Success_And_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	key := map[string]string{"Idempotency-Key": "upload-1"}

	w := env.upload(t, "backup.sh", "#!/bin/sh\ntar czf home.tgz ~", nil, key)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status=%d body=%s", w.Code, w.Body.String())
	}
	var first domain.Script
	decode(t, w, &first)
	if first.Filename != "backup.sh" || first.Title != "backup home" || first.Language != "Bash" || first.Tags != "backup, cron, tar" {
		t.Fatalf("unexpected metadata: %+v", first)
	}

	// same key, same origin: replay without calling the extractor
	w = env.upload(t, "backup.sh", "#!/bin/sh\ntar czf home.tgz ~", nil, key)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: status=%d hdr=%q body=%s", w.Code, w.Header().Get("Idempotency-Replayed"), w.Body.String())
	}
	var second domain.Script
	decode(t, w, &second)
	if second.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", second.ID, first.ID)
	}
	if n := env.ex.count(); n != 1 {
		t.Fatalf("extractor calls=%d, want 1", n)
	}

	// same key from another origin is not a replay; content is a duplicate
	w = env.upload(t, "backup.sh", "#!/bin/sh\ntar czf home.tgz ~", nil,
		map[string]string{"Idempotency-Key": "upload-1", "X-Origin": "10.0.0.9"})
	if w.Code != http.StatusConflict {
		t.Fatalf("other origin: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestUploadScript_FulfillsRequest(t *testing.T) {
	env := newTestEnv(t)

	w := env.doJSON(t, http.MethodPost, "/requests", CreateRequestRequest{
		Title:       "Rotate logs",
		Description: "Compress logs older than a week.",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create request: status=%d body=%s", w.Code, w.Body.String())
	}
	var sr domain.ScriptRequest
	decode(t, w, &sr)

	w = env.upload(t, "rotate.sh", "logrotate -f /etc/logrotate.conf", map[string]string{"request_id": sr.ID}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status=%d body=%s", w.Code, w.Body.String())
	}
	msgs := env.notifier.messages()
	if len(msgs) != 1 || msgs[0] != "Script request 'Rotate logs' has been fulfilled!" {
		t.Fatalf("unexpected broadcasts: %v", msgs)
	}

	// unknown request id fails before extraction
	calls := env.ex.count()
	w = env.upload(t, "x.sh", "echo other", map[string]string{"request_id": uuid.NewString()}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown request: status=%d body=%s", w.Code, w.Body.String())
	}
	if env.ex.count() != calls {
		t.Fatalf("extractor should not run for unknown request id")
	}

	// malformed request id
	w = env.upload(t, "y.sh", "echo y", map[string]string{"request_id": "nope"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad request id: status=%d", w.Code)
	}
}

func TestUploadScript_InputErrors(t *testing.T) {
	env := newTestEnv(t, withMaxUpload(16))

	// missing file field
	w := env.upload(t, "", "", map[string]string{"request_id": ""}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status=%d body=%s", w.Code, w.Body.String())
	}

	// too large
	w = env.upload(t, "big.sh", strings.Repeat("x", 64), nil, nil)
	if w.Code != http.StatusRequestEntityTooLarge || errCode(t, w) != ErrCodePayloadTooLarge {
		t.Fatalf("too large: status=%d body=%s", w.Code, w.Body.String())
	}

	// not UTF-8
	w = env.upload(t, "bin.sh", string([]byte{0xff, 0xfe, 0xfd}), nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("binary: status=%d body=%s", w.Code, w.Body.String())
	}

	// invalid idempotency key rejected by the validator
	w = env.upload(t, "a.sh", "echo a", nil, map[string]string{"Idempotency-Key": "has space"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key: status=%d", w.Code)
	}
}

func TestUploadScript_ExtractorErrorMappings(t *testing.T) {
	cases := []struct {
		name string
		ex   llm.Extractor
		want int
		code string
	}{
		{"not configured", nil, http.StatusServiceUnavailable, ErrCodeNotConfigured},
		{"incomplete", &countingExtractor{md: llm.Metadata{llm.FieldTitle: "only title"}}, http.StatusUnprocessableEntity, ErrCodeExtractionIncomplete},
		{"transient", &countingExtractor{err: llm.NewTransientError(errors.New("503"))}, http.StatusBadGateway, ErrCodeUpstream},
		{"permanent", &countingExtractor{err: errors.New("gemini status 400")}, http.StatusBadGateway, ErrCodeUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, withExtractor(tc.ex))
			w := env.upload(t, "s.py", "print('hi')", nil, nil)
			if w.Code != tc.want || errCode(t, w) != tc.code {
				t.Fatalf("status=%d body=%s, want %d/%s", w.Code, w.Body.String(), tc.want, tc.code)
			}
			var n int64
			env.db.Model(&domain.Script{}).Count(&n)
			if n != 0 {
				t.Fatalf("nothing should be stored, got %d scripts", n)
			}
		})
	}
}

func TestListScripts_Page_And_ETag304(t *testing.T) {
	env := newTestEnv(t)
	env.createScript(t, "First script", "echo 1")
	env.createScript(t, "Second script", "echo 2")

	w := env.do(t, http.MethodGet, "/scripts?page=1&page_size=1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status=%d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag")
	}
	var resp ListScriptsResponse
	decode(t, w, &resp)
	if len(resp.Scripts) != 1 || resp.Pagination.Total != 2 || resp.Pagination.TotalPages != 2 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected page: %+v", resp.Pagination)
	}
	if resp.Scripts[0].Title != "Second script" {
		t.Fatalf("expected newest first, got %q", resp.Scripts[0].Title)
	}

	w = env.do(t, http.MethodGet, "/scripts?page=1&page_size=1", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	// a new script changes the ETag
	env.createScript(t, "Third script", "echo 3")
	w = env.do(t, http.MethodGet, "/scripts?page=1&page_size=1", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after change, got %d", w.Code)
	}
}

func TestSearchScripts_FiltersAndRanked(t *testing.T) {
	env := newTestEnv(t)
	env.createScript(t, "Nginx log parser", "echo nginx")
	other := validCreate("Disk cleanup", "rm -rf /tmp/cache")
	other.Language = "Bash"
	other.Tags = "disk, cleanup"
	other.Description = "Removes cached files to free disk space."
	if w := env.doJSON(t, http.MethodPost, "/scripts", other, nil); w.Code != http.StatusCreated {
		t.Fatalf("seed: %d %s", w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/scripts/search?language=bash", nil, nil)
	var resp ListScriptsResponse
	decode(t, w, &resp)
	if len(resp.Scripts) != 1 || resp.Scripts[0].Title != "Disk cleanup" {
		t.Fatalf("language filter: %+v", resp.Scripts)
	}

	w = env.do(t, http.MethodGet, "/scripts/search?tags=logs,cli", nil, nil)
	decode(t, w, &resp)
	if len(resp.Scripts) != 1 || resp.Scripts[0].Title != "Nginx log parser" {
		t.Fatalf("tags filter: %+v", resp.Scripts)
	}

	w = env.do(t, http.MethodGet, "/scripts/search?q=disk+space", nil, nil)
	decode(t, w, &resp)
	if w.Code != http.StatusOK || len(resp.Scripts) == 0 || resp.Scripts[0].Title != "Disk cleanup" {
		t.Fatalf("ranked: status=%d %+v", w.Code, resp.Scripts)
	}
}

func TestGetUpdateDeleteScript(t *testing.T) {
	env := newTestEnv(t)
	id := env.createScript(t, "Editable script", "echo edit")

	if w := env.do(t, http.MethodGet, "/scripts/not-a-uuid", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/scripts/"+uuid.NewString(), nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", w.Code)
	}

	cat := "Networking"
	w := env.doJSON(t, http.MethodPut, "/scripts/"+id, UpdateScriptRequest{Category: &cat}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status=%d body=%s", w.Code, w.Body.String())
	}
	var sc domain.Script
	decode(t, w, &sc)
	if sc.Category != "Networking" || sc.Title != "Editable script" {
		t.Fatalf("partial update changed wrong fields: %+v", sc)
	}

	short := "x"
	if w := env.doJSON(t, http.MethodPut, "/scripts/"+id, UpdateScriptRequest{Title: &short}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid update: %d", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/scripts/"+id, nil, nil)
	var d DetailResponse
	decode(t, w, &d)
	if w.Code != http.StatusOK || d.Detail != "Script deleted successfully" {
		t.Fatalf("delete: status=%d body=%s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodDelete, "/scripts/"+id, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", w.Code)
	}
}

func TestTags_Recent_Trending(t *testing.T) {
	env := newTestEnv(t)
	env.createScript(t, "Tagged script", "echo tags")

	w := env.do(t, http.MethodGet, "/tags", nil, nil)
	var tags TagsResponse
	decode(t, w, &tags)
	if strings.Join(tags.Tags, ",") != "cli,logs,parse" {
		t.Fatalf("tags: %v", tags.Tags)
	}

	w = env.do(t, http.MethodGet, "/scripts/recent?limit=5", nil, nil)
	var recent []domain.Script
	decode(t, w, &recent)
	if len(recent) != 1 {
		t.Fatalf("recent: %d", len(recent))
	}

	w = env.do(t, http.MethodGet, "/scripts/trending", nil, nil)
	var trending []domain.Script
	decode(t, w, &trending)
	if w.Code != http.StatusOK || len(trending) != 0 {
		t.Fatalf("trending: status=%d n=%d", w.Code, len(trending))
	}
}
