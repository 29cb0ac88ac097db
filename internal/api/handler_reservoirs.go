package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/auth"
	"aqua-monitor-backend/internal/model"
)

type createReservoirRequest struct {
	Name           string `json:"name" binding:"required"`
	CapacityLiters int    `json:"capacityLiters" binding:"required,gt=0"`
	UnitID         int64  `json:"unitId" binding:"required"`
}

// CreateReservoir handles the POST /api/reservoirs request. Capacity
// validation and device pairing run atomically in the store.
func (h *Handler) CreateReservoir(c *gin.Context) {
	var req createReservoirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reservoir := model.Reservoir{
		Name:           req.Name,
		CapacityLiters: req.CapacityLiters,
		UnitID:         req.UnitID,
	}
	err := h.store.CreateReservoir(c.Request.Context(), &reservoir, auth.CurrentUser(c).ID, time.Now().UTC())
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.JSON(http.StatusCreated, reservoir)
}

// ListReservoirs handles the GET /api/reservoirs request.
func (h *Handler) ListReservoirs(c *gin.Context) {
	user := auth.CurrentUser(c)

	var reservoirs []model.Reservoir
	err := h.store.DB().WithContext(c.Request.Context()).
		Joins("JOIN units ON units.id = reservoirs.unit_id").
		Where("units.user_id = ?", user.ID).
		Order("reservoirs.id").
		Find(&reservoirs).Error
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservoirs)
}

// GetReservoir handles the GET /api/reservoirs/:id request.
func (h *Handler) GetReservoir(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservoir id"})
		return
	}

	reservoir, err := h.loadOwnedReservoir(c, id)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservoir)
}

type updateReservoirRequest struct {
	Name           string `json:"name" binding:"required"`
	CapacityLiters int    `json:"capacityLiters" binding:"required,gt=0"`
}

// UpdateReservoir handles the PUT /api/reservoirs/:id request.
func (h *Handler) UpdateReservoir(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservoir id"})
		return
	}

	var req updateReservoirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reservoir, err := h.store.UpdateReservoir(c.Request.Context(), id, req.Name, req.CapacityLiters, auth.CurrentUser(c).ID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.JSON(http.StatusOK, reservoir)
}

// DeleteReservoir handles the DELETE /api/reservoirs/:id request. Blocked
// with 409 while the reservoir has recorded history; its device returns to
// the free pool on success.
func (h *Handler) DeleteReservoir(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservoir id"})
		return
	}

	if err := h.store.DeleteReservoir(c.Request.Context(), id, auth.CurrentUser(c).ID); err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.Status(http.StatusNoContent)
}

// loadOwnedReservoir fetches a reservoir and walks the ownership chain up
// to the user.
func (h *Handler) loadOwnedReservoir(c *gin.Context, id int64) (model.Reservoir, error) {
	var reservoir model.Reservoir
	err := h.store.DB().WithContext(c.Request.Context()).Preload("Unit").First(&reservoir, id).Error
	if err == gorm.ErrRecordNotFound {
		return model.Reservoir{}, apperr.NotFound("reservoir not found")
	}
	if err != nil {
		return model.Reservoir{}, err
	}
	if reservoir.Unit.UserID != auth.CurrentUser(c).ID {
		return model.Reservoir{}, apperr.Forbidden("you do not have access to this reservoir")
	}
	return reservoir, nil
}
