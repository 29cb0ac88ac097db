package api

import (
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/auth"
	"aqua-monitor-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	auth      *auth.Service
	webpush   *webpush.Options
	readCache *cache.Cache
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, authSvc *auth.Service, webpushOptions *webpush.Options, readCache *cache.Cache) *Handler {
	return &Handler{
		store:     s,
		auth:      authSvc,
		webpush:   webpushOptions,
		readCache: readCache,
	}
}

// abortWithError maps the application error taxonomy onto transport
// statuses. Untagged errors surface generically without leaking internals.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindBadRequest:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Printf("internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// flushReadCache drops all cached read responses after a successful write.
func (h *Handler) flushReadCache() {
	if h.readCache != nil {
		h.readCache.Flush()
	}
}
