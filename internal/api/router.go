package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/mw"
	"presence-tracker-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, presence PresenceSource, runner PipelineRunner, cfg *config.Config, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, presence, runner, cfg, webpushOptions)

	rps := cfg.Server.RateLimitPerSec
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Server.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}
	rateLimiter := mw.RateLimiter(rate.Limit(rps), burst)

	ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cacheStore := cache.New(ttl, 2*ttl)
	// The live snapshot and pipeline state change every tick; caching them
	// would only serve stale reads.
	caching := mw.Cache(cacheStore, ttl, "/api/presence/snapshot", "/api/pipeline/state")

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/presence/snapshot", handler.GetPresence)
		api.GET("/presence/stats", caching, handler.GetPresenceStats)

		api.GET("/sleep/latest", caching, handler.GetLatestSleep)

		api.GET("/pipeline/state", handler.GetPipelineState)
		api.POST("/pipeline/stages/:id/run", handler.RunPipelineStage)

		api.POST("/chat/messages", handler.PostChatMessage)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
