package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-script-catalog/internal/domain"
	"github.com/tbourn/go-script-catalog/internal/services"
)

// CreateRequestRequest is the JSON payload for requesting a script.
type CreateRequestRequest struct {
	Title       string  `json:"title"       binding:"required" example:"Rotate nginx logs"`
	Description string  `json:"description" binding:"required" example:"Compress and prune logs older than a week."`
	Language    *string `json:"language,omitempty" example:"Bash"`
	Tags        *string `json:"tags,omitempty"     example:"nginx, logs"`
}

// ListRequestsResponse wraps a page of script requests.
type ListRequestsResponse struct {
	Requests   []domain.ScriptRequest `json:"requests"`
	Pagination Pagination             `json:"pagination"`
}

// FulfillResponse acknowledges a fulfilled request.
type FulfillResponse struct {
	Message string `json:"message" example:"Script request 'Rotate nginx logs' fulfilled successfully."`
}

// CreateRequest godoc
// @ID          createScriptRequest
// @Summary     Request a script
// @Tags        Requests
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateRequestRequest  true  "Request payload"
// @Success     201  {object} domain.ScriptRequest
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Router      /requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sr, err := h.requests.Create(c.Request.Context(), services.RequestInput{
		Title:       req.Title,
		Description: req.Description,
		Language:    req.Language,
		Tags:        req.Tags,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusCreated, sr)
}

// ListRequests godoc
// @ID          listScriptRequests
// @Summary     List script requests (paginated)
// @Tags        Requests
// @Produce     json
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListRequestsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.requests.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListRequestsResponse{Requests: items, Pagination: newPagination(page, pageSize, total)})
}

// FulfillRequest godoc
// @ID          fulfillScriptRequest
// @Summary     Fulfill a script request
// @Description Marks the request fulfilled and notifies every websocket subscriber.
// @Tags        Requests
// @Produce     json
// @Param       id  path  string  true  "Request ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.FulfillResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Script request not found"
// @Router      /requests/{id}/fulfill [put]
func (h *Handlers) FulfillRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	sr, err := h.requests.Fulfill(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, FulfillResponse{
		Message: fmt.Sprintf("Script request '%s' fulfilled successfully.", sr.Title),
	})
}
