// Script HTTP handlers.
//
// This file exposes the catalog endpoints:
//   - POST   /scripts/upload   (multipart upload, metadata extracted)
//   - POST   /scripts          (explicit metadata)
//   - GET    /scripts          (list, paginated, ETag support)
//   - GET    /scripts/search   (filters and ranked free text)
//   - GET    /scripts/recent, /scripts/trending, /tags
//   - GET    /scripts/{id}, PUT /scripts/{id}, DELETE /scripts/{id}
//
// Idempotency:
// If the client supplies an Idempotency-Key header on upload and a previous
// upload from the same origin used that key, the stored script is returned
// with `Idempotency-Replayed: true` and the extractor is not called again.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/http/middleware"
	"github.com/tbourn/go-script-catalog/internal/services"
	"github.com/tbourn/go-script-catalog/internal/utils"
)

// UploadScope is the idempotency scope of the upload endpoint.
const UploadScope = "upload"

//
// DTOs
//

// CreateScriptRequest is the JSON payload for a script with explicit metadata.
type CreateScriptRequest struct {
	Title       string `json:"title"         binding:"required" example:"Disk usage report"`
	Language    string `json:"language"      binding:"required" example:"Bash"`
	Tags        string `json:"tags"          binding:"required" example:"disk, report, cron"`
	Description string `json:"description"   binding:"required" example:"Prints the largest directories under a path."`
	HowItWorks  string `json:"how_it_works"  binding:"required" example:"Runs du, sorts by size and keeps the top entries."`
	Category    string `json:"category"      binding:"required" example:"Utilities"`
	Content     string `json:"script_content" binding:"required" example:"#!/bin/sh\ndu -sh \"$1\"/* | sort -rh | head"`
}

// UpdateScriptRequest is a partial update; omitted fields are untouched.
type UpdateScriptRequest struct {
	Title       *string `json:"title,omitempty"`
	Language    *string `json:"language,omitempty"`
	Tags        *string `json:"tags,omitempty"`
	Description *string `json:"description,omitempty"`
	HowItWorks  *string `json:"how_it_works,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// ListScriptsResponse wraps a page of scripts and pagination information.
type ListScriptsResponse struct {
	Scripts    []domain.Script `json:"scripts"`
	Pagination Pagination      `json:"pagination"`
}

// TagsResponse lists the distinct tags of the catalog.
type TagsResponse struct {
	Tags []string `json:"tags"`
}

//
// Helpers
//

// scriptID reads and validates the :id path parameter.
func scriptID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "script id must be a UUID")
		return "", false
	}
	return id, true
}

// searchQuery reads the filter and paging query params.
func searchQuery(c *gin.Context) services.SearchQuery {
	page, pageSize := clampPagination(c)
	return services.SearchQuery{
		Title:    strings.TrimSpace(c.Query("title")),
		Language: strings.TrimSpace(c.Query("language")),
		Tags:     strings.TrimSpace(c.Query("tags")),
		Category: strings.TrimSpace(c.Query("category")),
		Q:        strings.TrimSpace(c.Query("q")),
		Page:     page,
		PageSize: pageSize,
	}
}

// notModified sets a weak ETag for the filtered catalog and reports whether
// the client copy is current. Errors skip the ETag (best effort).
func (h *Handlers) notModified(c *gin.Context, q services.SearchQuery) bool {
	count, maxTS, err := h.scripts.Stats(c.Request.Context(), q)
	if err != nil {
		return false
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"scripts:%s:%d:%d:%d:%d"`,
		utils.ShortHash(c.Request.URL.RawQuery), count, ts, q.Page, q.PageSize)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// UploadScript godoc
// @ID          uploadScript
// @Summary     Upload a script file
// @Description Stores an uploaded script; title, language, tags, description, how it works and category are extracted by the LLM.
// @Description When request_id names an open script request it is fulfilled and subscribers are notified.
// @Description Supports idempotency via the Idempotency-Key header (same key → same script).
// @Tags        Scripts
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       file             formData  file    true   "Script file"
// @Param       request_id       formData  string  false  "Script request fulfilled by this upload"  format(uuid)
// @Param       Idempotency-Key  header    string  false  "Idempotency key for safe retries (UUID recommended)"
//
// @Success     201  {object}  domain.Script
// @Success     200  {object}  domain.Script  "Idempotent replay"
// @Header      200  {string}  Idempotency-Replayed  "true when replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Script request not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate content"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Failure     422  {object}  handlers.ErrorResponse  "Metadata extraction incomplete"
// @Failure     502  {object}  handlers.ErrorResponse  "Extractor failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Extractor not configured"
// @Router      /scripts/upload [post]
func (h *Handlers) UploadScript(c *gin.Context) {
	ctx := c.Request.Context()
	origin := middleware.OriginFrom(c)

	// Idempotency (replay path) – key validated upstream.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.GetIdempotencyScope(c)
	if scope == "" {
		scope = UploadScope
	}
	if idemKey != "" && h.idem != nil {
		if id, found, err := h.idem.Lookup(ctx, origin, scope, idemKey); err == nil && found {
			if prev, err := h.scripts.Get(ctx, id); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	if h.MaxUploadBytes > 0 {
		// Multipart framing needs some headroom over the file itself.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+64<<10)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field 'file' is required")
		return
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "file too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read uploaded file")
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read uploaded file")
		return
	}
	if !utf8.Valid(raw) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file must be UTF-8 text")
		return
	}

	reqID := strings.TrimSpace(c.PostForm("request_id"))
	if reqID != "" {
		if _, err := uuid.Parse(reqID); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request_id must be a UUID")
			return
		}
	}

	sc, err := h.scripts.Upload(ctx, services.UploadInput{
		Filename:  fh.Filename,
		Content:   string(raw),
		RequestID: reqID,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.idem != nil {
		if err := h.idem.Save(ctx, origin, scope, idemKey, sc.ID, http.StatusCreated); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency save failed")
		}
	}
	ok(c, http.StatusCreated, sc)
}

// CreateScript godoc
// @ID          createScript
// @Summary     Input a script with metadata
// @Description Stores a script whose metadata is supplied by the caller. Fields are validated and tags normalized.
// @Tags        Scripts
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateScriptRequest  true  "Script and metadata"
// @Success     201  {object}  domain.Script
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate content"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /scripts [post]
func (h *Handlers) CreateScript(c *gin.Context) {
	var req CreateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sc, err := h.scripts.Create(c.Request.Context(), services.ScriptInput{
		Title:       req.Title,
		Language:    req.Language,
		Tags:        req.Tags,
		Description: req.Description,
		HowItWorks:  req.HowItWorks,
		Category:    req.Category,
		Content:     req.Content,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusCreated, sc)
}

// ListScripts godoc
// @ID          listScripts
// @Summary     List scripts (paginated)
// @Description Returns a page of scripts, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Scripts
// @Produce     json
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListScriptsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /scripts [get]
func (h *Handlers) ListScripts(c *gin.Context) {
	page, pageSize := clampPagination(c)
	if h.notModified(c, services.SearchQuery{Page: page, PageSize: pageSize}) {
		return
	}
	items, total, err := h.scripts.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListScriptsResponse{Scripts: items, Pagination: newPagination(page, pageSize, total)})
}

// SearchScripts godoc
// @ID          searchScripts
// @Summary     Search scripts
// @Description Filters by title, language and category (case-insensitive substring) and tags (every tag must match).
// @Description With q the matches are ranked by relevance over title, description and tags.
// @Tags        Scripts
// @Produce     json
// @Param       title      query  string  false  "Title substring"
// @Param       language   query  string  false  "Language substring"
// @Param       tags       query  string  false  "Comma-separated tags"  example(backup,cron)
// @Param       category   query  string  false  "Category substring"
// @Param       q          query  string  false  "Free text, ranked"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListScriptsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /scripts/search [get]
func (h *Handlers) SearchScripts(c *gin.Context) {
	q := searchQuery(c)
	if q.Q == "" && h.notModified(c, q) {
		return
	}
	items, total, err := h.scripts.Search(c.Request.Context(), q)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListScriptsResponse{Scripts: items, Pagination: newPagination(q.Page, q.PageSize, total)})
}

// RecentScripts godoc
// @ID          recentScripts
// @Summary     Recently uploaded scripts
// @Description Scripts uploaded within the recent window (default 24h), newest first.
// @Tags        Scripts
// @Produce     json
// @Param       limit  query  int  false  "Max results"  minimum(1) maximum(100) default(10)
// @Success     200  {array}  domain.Script
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /scripts/recent [get]
func (h *Handlers) RecentScripts(c *gin.Context) {
	items, err := h.scripts.Recent(c.Request.Context(), utils.AtoiDefault(c.Query("limit"), 0))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}

// TrendingScripts godoc
// @ID          trendingScripts
// @Summary     Trending scripts
// @Description Scripts whose like count reaches the trending threshold, most liked first.
// @Tags        Scripts
// @Produce     json
// @Success     200  {array}  domain.Script
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /scripts/trending [get]
func (h *Handlers) TrendingScripts(c *gin.Context) {
	items, err := h.scripts.Trending(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}

// GetScript godoc
// @ID          getScript
// @Summary     Get a script
// @Tags        Scripts
// @Produce     json
// @Param       id  path  string  true  "Script ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Script
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Script not found"
// @Router      /scripts/{id} [get]
func (h *Handlers) GetScript(c *gin.Context) {
	id, valid := scriptID(c)
	if !valid {
		return
	}
	sc, err := h.scripts.Get(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, sc)
}

// UpdateScript godoc
// @ID          updateScript
// @Summary     Update script metadata
// @Description Applies a partial update; only the provided fields change.
// @Tags        Scripts
// @Accept      json
// @Produce     json
// @Param       id    path  string                          true  "Script ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateScriptRequest  true  "Fields to change"
// @Success     200  {object} domain.Script
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Script not found"
// @Router      /scripts/{id} [put]
func (h *Handlers) UpdateScript(c *gin.Context) {
	id, valid := scriptID(c)
	if !valid {
		return
	}
	var req UpdateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sc, err := h.scripts.Update(c.Request.Context(), id, services.ScriptUpdate{
		Title:       req.Title,
		Language:    req.Language,
		Tags:        req.Tags,
		Description: req.Description,
		HowItWorks:  req.HowItWorks,
		Category:    req.Category,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, sc)
}

// DeleteScript godoc
// @ID          deleteScript
// @Summary     Delete a script
// @Tags        Scripts
// @Produce     json
// @Param       id  path  string  true  "Script ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.DetailResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Script not found"
// @Router      /scripts/{id} [delete]
func (h *Handlers) DeleteScript(c *gin.Context) {
	id, valid := scriptID(c)
	if !valid {
		return
	}
	if err := h.scripts.Delete(c.Request.Context(), id); err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, DetailResponse{Detail: "Script deleted successfully"})
}

// ListTags godoc
// @ID          listTags
// @Summary     List tags
// @Description Distinct tags across the catalog, sorted case-insensitively.
// @Tags        Scripts
// @Produce     json
// @Success     200  {object} handlers.TagsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /tags [get]
func (h *Handlers) ListTags(c *gin.Context) {
	tags, err := h.scripts.Tags(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, TagsResponse{Tags: tags})
}
