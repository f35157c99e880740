package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Analytics godoc
// @ID          analytics
// @Summary     Catalog analytics
// @Description Totals of scripts and likes, the most liked script, uploads in the recent window and scripts with likes.
// @Tags        Analytics
// @Produce     json
// @Success     200  {object} services.Analytics
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /analytics [get]
func (h *Handlers) Analytics(c *gin.Context) {
	a, err := h.analytics.Summary(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, a)
}
