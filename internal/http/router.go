// Package httpapi wires the Gin transport to the handlers and middleware of
// the forms backend: public form routes, the Zapier API and the operator API.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger (PII and api keys masked)
//  4. Recovery
//  5. Body size limit
//  6. gzip
//  7. Metrics
//  8. Idempotency validator (before the limiter so replays bypass it)
//  9. Rate limiter (per API key or IP)
//  10. CORS and security headers
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/config"
	"github.com/tbourn/go-forms-backend/internal/http/handlers"
	"github.com/tbourn/go-forms-backend/internal/http/middleware"
	"github.com/tbourn/go-forms-backend/internal/repo"
)

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		"X-API-Key", middleware.HeaderIdempotencyKey,
	}
	corsExpose = []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotencyReplayed}
)

// RegisterRoutes attaches middleware and endpoints to r. db backs the
// idempotency lookup; the handlers receive their services through deps.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, deps handlers.Deps) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics(middleware.MetricsOptions{Skip: []string{"/metrics", "/health"}}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByAPIKeyOrIP())
	r.Use(rl.Handler())

	useCORS(r, cfg.CORS.AllowedOrigins)

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Local uploads are served from disk under their public prefix.
	if (cfg.Uploads.Provider == "" || cfg.Uploads.Provider == "local") && isPathPrefix(cfg.Uploads.PublicBaseURL) {
		r.Static(cfg.Uploads.PublicBaseURL, cfg.Uploads.Dir)
	}

	h := handlers.New(deps)

	if deps.Forms != nil {
		api := groupWithPrefix(r, cfg.APIBasePath)
		api.GET("/forms/:id", h.GetForm)
		api.POST("/forms/:id/validate", h.ValidateAnswers)
		api.POST("/forms/:id/responses", h.SubmitResponse)
	}

	if deps.Zapier != nil {
		zap := r.Group("/api")
		zap.POST("/webhooks/subscribe", h.Subscribe)
		zap.DELETE("/webhooks/unsubscribe", h.Unsubscribe)
		zap.GET("/forms", h.ListForms)
		zap.GET("/forms/:id/responses/recent", h.RecentResponses)
	}

	if deps.Admin != nil {
		admin := r.Group("/admin", middleware.AdminAuth(cfg.AdminToken))
		admin.GET("/jobs/webhooks", h.ListWebhookJobs)
		admin.GET("/jobs/emails", h.ListEmailJobs)
		admin.GET("/stats", h.QueueStats)
		admin.GET("/issues", h.ListIssues)
		admin.POST("/run", h.RunDispatcher)
		admin.POST("/run/webhooks", h.RunWebhooks)
		admin.POST("/run/emails", h.RunEmails)
		admin.GET("/responses/:id", h.GetResponse)
		admin.DELETE("/responses/:id", h.DeleteResponse)
		if deps.Email != nil {
			admin.POST("/responses/:id/email", h.SendResponseEmail)
		}
		if deps.Keys != nil {
			admin.POST("/clients/:id/api-keys", h.IssueAPIKey)
			admin.DELETE("/api-keys/:key_id", h.RevokeAPIKey)
		}
	}
}

// useCORS allows every origin when none are configured, otherwise echoes
// allowlisted origins only.
func useCORS(r *gin.Engine, origins []string) {
	if len(origins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    corsMethods,
			AllowHeaders:    corsHeaders,
			ExposeHeaders:   corsExpose,
			MaxAge:          12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: corsExpose,
		MaxAge:        12 * time.Hour,
	}))
}

// limitBody caps request bodies, multipart included. Reads past the cap fail
// with *http.MaxBytesError.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// isPathPrefix reports whether p is a rooted path such as "/uploads" rather
// than an absolute URL served elsewhere.
func isPathPrefix(p string) bool {
	return len(p) > 1 && p[0] == '/'
}
