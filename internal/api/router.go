// Package api wires together all HTTP routes for the audit trail service.
//
// Route grouping philosophy:
//   - POST /api/v1/records is the machine surface. It authenticates with a
//     service key (X-API-Key) and never with a user JWT; submitting services
//     are not users and get no read access through this path.
//   - Everything else under /api/v1/ is the human surface behind a Bearer
//     JWT, with row visibility decided by the caller's role scope.
//   - /api/v1/admin/ additionally requires the SuperAdmin role, except the
//     bootstrap exchange, which is authenticated by the bootstrap token
//     itself.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/audit-trail/audit-trail/internal/api/admin"
	"github.com/audit-trail/audit-trail/internal/api/records"
	"github.com/audit-trail/audit-trail/internal/api/summaries"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/jobs"
	"github.com/audit-trail/audit-trail/internal/middleware"
	"github.com/audit-trail/audit-trail/internal/safego"
	"github.com/audit-trail/audit-trail/internal/services"
)

// BackgroundServices holds background jobs and resources that must be
// stopped during graceful shutdown. The caller (cmd/server) calls Shutdown()
// after the HTTP server has drained.
type BackgroundServices struct {
	aggregatorJob *jobs.SummaryAggregator
	rateLimiter   *middleware.RateLimiter
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.aggregatorJob != nil {
		bg.aggregatorJob.Stop()
	}
	if bg.rateLimiter != nil {
		bg.rateLimiter.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. rdb may be nil; rate
// limiting and deduplication then run without their Redis fast paths.
func NewRouter(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Repositories
	auditRepo := repositories.NewAuditRepository(db)
	actionTypeRepo := repositories.NewActionTypeRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)
	summaryRepo := repositories.NewSummaryRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	dedupRepo := repositories.NewDedupRepository(db)

	// Services
	dedupService := services.NewDedupService(dedupRepo, rdb, cfg.Dedup.RetentionDays)
	recordService := services.NewRecordService(auditRepo, actionTypeRepo, dedupService)
	credentialService := services.NewCredentialService(credentialRepo)
	aggregator := services.NewAggregator(summaryRepo)

	// Handlers
	recordHandler := records.NewHandler(recordService)
	summaryHandler := summaries.NewHandler(summaryRepo)
	credentialHandler := admin.NewCredentialHandler(credentialService)
	aggregationHandler := admin.NewAggregationHandler(aggregator)
	bootstrapHandler := admin.NewBootstrapHandler(settingsRepo)
	actionTypeHandler := admin.NewActionTypeHandler(actionTypeRepo)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, rdb)

	router.GET("/health", healthHandler(db))
	router.GET("/ready", readinessHandler(db, rdb))

	v1 := router.Group("/api/v1")
	v1.Use(rateLimiter.Middleware())

	// Machine surface: record intake with a write-capable service key.
	v1.POST("/records",
		middleware.ServiceKeyMiddleware(credentialService, true),
		recordHandler.Submit)

	// Bootstrap exchange authenticates with the token itself.
	v1.POST("/admin/bootstrap", bootstrapHandler.Exchange)

	// Human surface: everything else requires a user JWT.
	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware())
	{
		authed.GET("/records", recordHandler.List)
		authed.GET("/records/search", recordHandler.Search)
		authed.GET("/records/stats", recordHandler.Stats)
		authed.GET("/records/:id", recordHandler.Get)
		authed.GET("/records/history/:entityType/:entityId", recordHandler.History)

		authed.GET("/summaries", summaryHandler.List)
		authed.GET("/summaries/stats", summaryHandler.Stats)
		authed.GET("/summaries/recent", summaryHandler.Recent)

		authed.GET("/action-types", actionTypeHandler.List)
	}

	adminGroup := authed.Group("/admin")
	adminGroup.Use(middleware.RequireSuperAdmin())
	{
		adminGroup.POST("/credentials", credentialHandler.Issue)
		adminGroup.GET("/credentials", credentialHandler.List)
		adminGroup.GET("/credentials/:id", credentialHandler.Get)
		adminGroup.POST("/credentials/:id/revoke", credentialHandler.Revoke)
		adminGroup.DELETE("/credentials/:id", credentialHandler.Delete)

		adminGroup.POST("/aggregate", aggregationHandler.Run)
		adminGroup.POST("/action-types", actionTypeHandler.Create)
		adminGroup.DELETE("/records/:id", recordHandler.Delete)
	}

	// Background aggregation runs inside the server process.
	aggregatorJob := jobs.NewSummaryAggregator(aggregator, dedupService, &cfg.Aggregation)
	safego.Go(func() { aggregatorJob.Start(context.Background()) })

	return router, &BackgroundServices{
		aggregatorJob: aggregatorJob,
		rateLimiter:   rateLimiter,
	}
}

func healthHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also probes Redis when it is configured, so a readiness
// gate fails while the dedup fast path and shared rate limiting would error.
// Redis is optional; when absent the check is reported as skipped.
func readinessHandler(db *sqlx.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		} else {
			checks["redis"] = "skipped"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
