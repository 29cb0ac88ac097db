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
	"aqua-monitor-backend/internal/store"
)

// ListSnapshots handles the GET /api/snapshots request with optional exact
// filters (reservoirId, levelLiters, statusId). An explicitly supplied
// reservoir filter is ownership-checked before the query is built; the
// query itself only scopes by the ownership chain.
func (h *Handler) ListSnapshots(c *gin.Context) {
	user := auth.CurrentUser(c)

	var filters store.SnapshotFilters
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
	if v, ok := int64QueryParam(c, "levelLiters"); ok {
		level := int(v)
		filters.LevelLiters = &level
	}
	if v, ok := int64QueryParam(c, "statusId"); ok {
		filters.StatusID = &v
	}

	snapshots, err := h.store.ListSnapshots(c.Request.Context(), user.ID, filters)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

type snapshotRequest struct {
	LevelLiters *int       `json:"levelLiters" binding:"required"`
	ReservoirID int64      `json:"reservoirId" binding:"required"`
	StatusID    int64      `json:"statusId" binding:"required"`
	RecordedAt  *time.Time `json:"recordedAt"`
}

// CreateSnapshot handles the POST /api/snapshots request, the manual
// counterpart of the daily generator.
func (h *Handler) CreateSnapshot(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reservoir, err := h.loadOwnedReservoir(c, req.ReservoirID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	status, err := h.loadStatus(c, req.StatusID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if *req.LevelLiters < 0 || *req.LevelLiters > reservoir.CapacityLiters {
		h.abortWithError(c, apperr.BadRequest(
			"level must be between 0 and the reservoir capacity of %d liters", reservoir.CapacityLiters))
		return
	}

	recordedAt := time.Now().UTC()
	if req.RecordedAt != nil {
		recordedAt = *req.RecordedAt
	}
	snapshot := model.ReservoirSnapshot{
		LevelLiters: *req.LevelLiters,
		RecordedAt:  recordedAt,
		ReservoirID: reservoir.ID,
		StatusID:    status.ID,
	}
	if err := h.store.DB().WithContext(c.Request.Context()).Create(&snapshot).Error; err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.JSON(http.StatusCreated, snapshot)
}

// GetSnapshot handles the GET /api/snapshots/:id request.
func (h *Handler) GetSnapshot(c *gin.Context) {
	snapshot, err := h.loadOwnedSnapshot(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// UpdateSnapshot handles the PUT /api/snapshots/:id request: a full-record
// replace, the only mutation the append-only history admits.
func (h *Handler) UpdateSnapshot(c *gin.Context) {
	snapshot, err := h.loadOwnedSnapshot(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reservoir, err := h.loadOwnedReservoir(c, req.ReservoirID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	status, err := h.loadStatus(c, req.StatusID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if *req.LevelLiters < 0 || *req.LevelLiters > reservoir.CapacityLiters {
		h.abortWithError(c, apperr.BadRequest(
			"level must be between 0 and the reservoir capacity of %d liters", reservoir.CapacityLiters))
		return
	}

	snapshot.LevelLiters = *req.LevelLiters
	snapshot.ReservoirID = reservoir.ID
	snapshot.StatusID = status.ID
	if req.RecordedAt != nil {
		snapshot.RecordedAt = *req.RecordedAt
	}
	snapshot.Reservoir = model.Reservoir{}
	snapshot.Status = model.ReservoirStatus{}
	if err := h.store.DB().WithContext(c.Request.Context()).Save(&snapshot).Error; err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.JSON(http.StatusOK, snapshot)
}

// DeleteSnapshot handles the DELETE /api/snapshots/:id request.
func (h *Handler) DeleteSnapshot(c *gin.Context) {
	snapshot, err := h.loadOwnedSnapshot(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	if err := h.store.DB().WithContext(c.Request.Context()).
		Delete(&model.ReservoirSnapshot{}, snapshot.ID).Error; err != nil {
		h.abortWithError(c, err)
		return
	}

	h.flushReadCache()
	c.Status(http.StatusNoContent)
}

// loadOwnedSnapshot fetches the snapshot from the :id path parameter and
// walks the snapshot→reservoir→unit→user chain.
func (h *Handler) loadOwnedSnapshot(c *gin.Context) (model.ReservoirSnapshot, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return model.ReservoirSnapshot{}, apperr.BadRequest("invalid snapshot id")
	}

	var snapshot model.ReservoirSnapshot
	err = h.store.DB().WithContext(c.Request.Context()).
		Preload("Reservoir.Unit").Preload("Status").
		First(&snapshot, id).Error
	if err == gorm.ErrRecordNotFound {
		return model.ReservoirSnapshot{}, apperr.NotFound("snapshot not found")
	}
	if err != nil {
		return model.ReservoirSnapshot{}, err
	}
	if snapshot.Reservoir.Unit.UserID != auth.CurrentUser(c).ID {
		return model.ReservoirSnapshot{}, apperr.Forbidden("you do not have access to this snapshot")
	}
	return snapshot, nil
}

// loadStatus fetches a status vocabulary entry.
func (h *Handler) loadStatus(c *gin.Context, id int64) (model.ReservoirStatus, error) {
	var status model.ReservoirStatus
	err := h.store.DB().WithContext(c.Request.Context()).First(&status, id).Error
	if err == gorm.ErrRecordNotFound {
		return model.ReservoirStatus{}, apperr.NotFound("status not found")
	}
	return status, err
}

// int64QueryParam parses an optional integer query parameter.
func int64QueryParam(c *gin.Context, key string) (int64, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
