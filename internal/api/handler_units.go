package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/auth"
	"aqua-monitor-backend/internal/model"
)

type unitRequest struct {
	Name           string `json:"name" binding:"required"`
	CapacityLiters int    `json:"capacityLiters" binding:"required,gt=0"`
}

// ListUnits handles the GET /api/units request.
func (h *Handler) ListUnits(c *gin.Context) {
	user := auth.CurrentUser(c)

	var units []model.Unit
	if err := h.store.DB().WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID).
		Order("id").
		Find(&units).Error; err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, units)
}

// CreateUnit handles the POST /api/units request.
func (h *Handler) CreateUnit(c *gin.Context) {
	var req unitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	unit := model.Unit{
		Name:           req.Name,
		CapacityLiters: req.CapacityLiters,
		UserID:         auth.CurrentUser(c).ID,
	}
	if err := h.store.CreateUnit(c.Request.Context(), &unit); err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.JSON(http.StatusCreated, unit)
}

// GetUnit handles the GET /api/units/:id request.
func (h *Handler) GetUnit(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit id"})
		return
	}

	unit, err := h.loadOwnedUnit(c, id)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

// UpdateUnit handles the PUT /api/units/:id request.
func (h *Handler) UpdateUnit(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit id"})
		return
	}

	var req unitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	unit, err := h.store.UpdateUnit(c.Request.Context(), id, req.Name, req.CapacityLiters, auth.CurrentUser(c).ID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.JSON(http.StatusOK, unit)
}

// DeleteUnit handles the DELETE /api/units/:id request. The cascade aborts
// in full when any owned reservoir has recorded history.
func (h *Handler) DeleteUnit(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit id"})
		return
	}

	if err := h.store.DeleteUnit(c.Request.Context(), id, auth.CurrentUser(c).ID); err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.Status(http.StatusNoContent)
}

// loadOwnedUnit fetches a unit and re-verifies the ownership chain.
func (h *Handler) loadOwnedUnit(c *gin.Context, id int64) (model.Unit, error) {
	var unit model.Unit
	err := h.store.DB().WithContext(c.Request.Context()).First(&unit, id).Error
	if err == gorm.ErrRecordNotFound {
		return model.Unit{}, apperr.NotFound("unit not found")
	}
	if err != nil {
		return model.Unit{}, err
	}
	if unit.UserID != auth.CurrentUser(c).ID {
		return model.Unit{}, apperr.Forbidden("you do not have access to this unit")
	}
	return unit, nil
}
