package api

import (
	"fmt"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"aqua-monitor-backend/config"
	"aqua-monitor-backend/internal/auth"
	"aqua-monitor-backend/internal/mw"
	"aqua-monitor-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, authSvc *auth.Service, readCache *cache.Cache, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, authSvc, webpushOptions, readCache)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	// Read responses are ownership-scoped, so the cache key carries the
	// authenticated user's id next to the request URI.
	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	caching := mw.Cache(readCache, cacheTTL, func(c *gin.Context) string {
		return fmt.Sprintf("%d:%s", auth.CurrentUser(c).ID, c.Request.RequestURI)
	})

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/users", handler.Register)
		api.POST("/login", handler.Login)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	authed := api.Group("")
	authed.Use(authSvc.Middleware())
	{
		authed.GET("/units", handler.ListUnits)
		authed.POST("/units", handler.CreateUnit)
		authed.GET("/units/:id", handler.GetUnit)
		authed.PUT("/units/:id", handler.UpdateUnit)
		authed.DELETE("/units/:id", handler.DeleteUnit)

		authed.GET("/reservoirs", handler.ListReservoirs)
		authed.POST("/reservoirs", handler.CreateReservoir)
		authed.GET("/reservoirs/:id", handler.GetReservoir)
		authed.PUT("/reservoirs/:id", handler.UpdateReservoir)
		authed.DELETE("/reservoirs/:id", handler.DeleteReservoir)

		authed.GET("/snapshots", caching, handler.ListSnapshots)
		authed.POST("/snapshots", handler.CreateSnapshot)
		authed.GET("/snapshots/:id", handler.GetSnapshot)
		authed.PUT("/snapshots/:id", handler.UpdateSnapshot)
		authed.DELETE("/snapshots/:id", handler.DeleteSnapshot)

		authed.GET("/readings", caching, handler.ListReadings)
		authed.GET("/statuses", caching, handler.ListStatuses)

		authed.GET("/subscriptions", handler.GetSubscription)
		authed.PUT("/subscriptions", handler.PutSubscription)
		authed.DELETE("/subscriptions", handler.DeleteSubscription)
	}

	return r
}
