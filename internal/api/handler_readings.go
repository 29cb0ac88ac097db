package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/auth"
	"aqua-monitor-backend/internal/model"
	"aqua-monitor-backend/internal/store"
)

// ListReadings handles the GET /api/readings request: a paginated list of
// telemetry from devices actively linked to the user's reservoirs, newest
// first. Page size defaults to 10.
func (h *Handler) ListReadings(c *gin.Context) {
	user := auth.CurrentUser(c)

	var filters store.ReadingFilters
	if v, ok := int64QueryParam(c, "reservoirId"); ok {
		owned, err := h.store.ReservoirOwnedBy(c.Request.Context(), v, user.ID)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		if !owned {
			h.abortWithError(c, apperr.Forbidden("you do not have access to this reservoir"))
			return
		}
		filters.ReservoirID = &v
	}

	page := store.Page{}
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		page.Number = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("size", "0")); err == nil {
		page.Size = v
	}

	readings, total, err := h.store.ListReadings(c.Request.Context(), user.ID, filters, page)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": readings,
		"total": total,
		"page":  max(page.Number, 1),
	})
}

// ListStatuses handles the GET /api/statuses request.
func (h *Handler) ListStatuses(c *gin.Context) {
	var statuses []model.ReservoirStatus
	if err := h.store.DB().WithContext(c.Request.Context()).
		Order("id").Find(&statuses).Error; err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}
