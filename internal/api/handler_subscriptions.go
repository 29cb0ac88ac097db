package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aqua-monitor-backend/internal/auth"
	"aqua-monitor-backend/internal/model"
)

type putSubscriptionRequest struct {
	Endpoint             string  `json:"endpoint" binding:"required"`
	P256DH               string  `json:"p256dh" binding:"required"`
	Auth                 string  `json:"auth" binding:"required"`
	SubscribedReservoirs []int64 `json:"subscribed_reservoirs"`
}

// PutSubscription handles the creation or replacement of a level-alert
// subscription. Only the caller's own reservoirs can be subscribed to.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := auth.CurrentUser(c)
	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}

	err := h.store.DB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(&subscription).Error; err != nil {
			return err
		}

		var reservoirs []*model.Reservoir
		if len(req.SubscribedReservoirs) > 0 {
			if err := tx.
				Joins("JOIN units ON units.id = reservoirs.unit_id").
				Where("units.user_id = ?", user.ID).
				Find(&reservoirs, req.SubscribedReservoirs).Error; err != nil {
				return err
			}
		}

		return tx.Model(&subscription).Association("Reservoirs").Replace(reservoirs)
	})

	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.DB().WithContext(c.Request.Context()).
		Delete(&model.PushSubscription{Endpoint: req.Endpoint}).Error; err != nil {
		h.abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam pulls a query value without URL decoding; push endpoints
// routinely contain encoded characters that must round-trip untouched.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription handles the retrieval of a subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	var subscription model.PushSubscription
	if err := h.store.DB().WithContext(c.Request.Context()).
		Preload("Reservoirs").
		First(&subscription, "endpoint = ?", raw).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		} else {
			h.abortWithError(c, err)
		}
		return
	}

	reservoirIDs := make([]int64, len(subscription.Reservoirs))
	for i, reservoir := range subscription.Reservoirs {
		reservoirIDs[i] = reservoir.ID
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_reservoirs": reservoirIDs})
}
