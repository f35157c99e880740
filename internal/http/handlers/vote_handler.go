// Vote HTTP handlers.
//
// Likes and downvotes are recorded per caller origin (client IP). A voter
// holds at most one vote of each kind per script, and casting one kind
// withdraws the other. A downvote that reaches the moderation threshold
// deletes the script.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-script-catalog/internal/http/middleware"
)

// LikeCountResponse reports a script's like total.
type LikeCountResponse struct {
	ScriptID  string `json:"script_id"  example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	LikeCount int64  `json:"like_count" example:"12"`
}

// DownvoteCountResponse reports a script's downvote total.
type DownvoteCountResponse struct {
	ScriptID      string `json:"script_id"      example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	DownvoteCount int64  `json:"downvote_count" example:"3"`
}

// LikeScript godoc
// @ID          likeScript
// @Summary     Like a script
// @Description Records a like from the caller's origin, withdrawing a previous downvote.
// @Tags        Votes
// @Produce     json
// @Param       id  path  string  true  "Script ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.LikeCountResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Script not found"
// @Failure     409  {object} handlers.ErrorResponse "Already liked"
// @Router      /scripts/{id}/like [post]
func (h *Handlers) LikeScript(c *gin.Context) {
	id, valid := scriptID(c)
	if !valid {
		return
	}
	res, err := h.votes.Like(c.Request.Context(), middleware.OriginFrom(c), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, LikeCountResponse{ScriptID: res.ScriptID, LikeCount: res.Count})
}

// DownvoteScript godoc
// @ID          downvoteScript
// @Summary     Downvote a script
// @Description Records a downvote from the caller's origin, withdrawing a previous like.
// @Description When the downvote total reaches the moderation threshold the script is deleted and the body is {"detail": "..."} instead.
// @Tags        Votes
// @Produce     json
// @Param       id  path  string  true  "Script ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.DownvoteCountResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Script not found"
// @Failure     409  {object} handlers.ErrorResponse "Already downvoted"
// @Router      /scripts/{id}/downvote [post]
func (h *Handlers) DownvoteScript(c *gin.Context) {
	id, valid := scriptID(c)
	if !valid {
		return
	}
	res, err := h.votes.Downvote(c.Request.Context(), middleware.OriginFrom(c), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	if res.Removed {
		ok(c, http.StatusOK, DetailResponse{
			Detail: fmt.Sprintf("Script deleted due to reaching %d downvotes", h.votes.Threshold()),
		})
		return
	}
	ok(c, http.StatusOK, DownvoteCountResponse{ScriptID: res.ScriptID, DownvoteCount: res.Count})
}

// ScriptLikes godoc
// @ID          scriptLikes
// @Summary     Like count
// @Description Returns 0 when the script has no likes.
// @Tags        Votes
// @Produce     json
// @Param       id  path  string  true  "Script ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.LikeCountResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /scripts/{id}/likes [get]
func (h *Handlers) ScriptLikes(c *gin.Context) {
	id, valid := scriptID(c)
	if !valid {
		return
	}
	n, err := h.votes.LikeCount(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, LikeCountResponse{ScriptID: id, LikeCount: n})
}

// ScriptDownvotes godoc
// @ID          scriptDownvotes
// @Summary     Downvote count
// @Description Returns 0 when the script has no downvotes.
// @Tags        Votes
// @Produce     json
// @Param       id  path  string  true  "Script ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.DownvoteCountResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /scripts/{id}/downvotes [get]
func (h *Handlers) ScriptDownvotes(c *gin.Context) {
	id, valid := scriptID(c)
	if !valid {
		return
	}
	n, err := h.votes.DownvoteCount(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, DownvoteCountResponse{ScriptID: id, DownvoteCount: n})
}
