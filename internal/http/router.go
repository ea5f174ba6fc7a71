// Package httpapi assembles the Gin engine: middleware chain, service
// construction, and route registration for the connection and messaging API.
// Cross-cutting concerns (tracing, correlation IDs, redacted logging, panic
// recovery, metrics, idempotency, rate limiting, CORS, security headers) all
// mount here so the ordering is visible in one place.
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
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-connect-backend/internal/config"
	"github.com/tbourn/go-connect-backend/internal/http/handlers"
	"github.com/tbourn/go-connect-backend/internal/http/middleware"
	"github.com/tbourn/go-connect-backend/internal/repo"
	"github.com/tbourn/go-connect-backend/internal/services"
	"github.com/tbourn/go-connect-backend/internal/storage"
)

// RegisterRoutes mounts the full middleware chain and every endpoint on the
// given engine. Ordering constraints worth keeping in mind: RequestID runs
// before the logger so every line carries the correlation id, Recovery runs
// after the logger so panics are logged with request context, and the
// idempotency validator runs before the rate limiter so a recognized retry
// is never throttled into a duplicate send.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())

	// JSON payloads are small; attachment blobs are staged out of band, so a
	// 1 MiB body cap is generous.
	r.Use(limitBody(1 << 20))

	// Inbox and message pages compress well.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Replay detection is sender-scoped here; the handler re-checks with the
	// exact (sender, receiver, key) tuple once the body is parsed.
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
			exists, err := repo.SenderKeyExists(ctx, db, userID, key, now)
			if err != nil {
				return false, nil
			}
			return exists, nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// No configured origins means open CORS, suitable for dev and demos.
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Set ACAO even for requests without an Origin header so plain
		// health checks see it too.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo the request Origin when allowlisted, alongside gin-contrib/cors.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
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
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// NoStore stays off: conversation and message GETs rely on ETag
	// revalidation, which no-store would defeat.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Unknown routes and wrong methods answer with the standard envelope
	// instead of Gin's plain-text defaults.
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

	connSvc := &services.ConnectionService{
		DB:             db,
		AllowReRequest: cfg.AllowReRequest,
		NameLocale:     language.English,
	}
	convSvc := services.NewConversationService(db, connSvc)
	msgSvc := &services.MessageService{
		DB:                 db,
		Gate:               connSvc,
		Conversations:      convSvc,
		Attachments:        storage.NewLocalStore(cfg.UploadDir),
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		MaxBodyRunes:       cfg.MaxBodyRunes,
	}
	h := handlers.New(connSvc, convSvc, msgSvc)
	h.PageDefault = cfg.DefaultPageSize
	h.PageMax = cfg.MaxPageSize

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Connections
		api.POST("/connections", h.CreateConnection)
		api.GET("/connections", h.ListConnections)
		api.POST("/connections/:id/respond", h.RespondConnection)
		api.POST("/connections/:id/cancel", h.CancelConnection)

		// Conversations
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:otherUserId", h.GetConversation)
		api.GET("/conversations/:otherUserId/messages", h.FetchMessages)

		// Messages
		api.POST("/messages", h.PostMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)
	}
}

// limitBody caps every request body at maxBytes via http.MaxBytesReader;
// oversized bodies error out of the downstream read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix treats "/" and empty as the root group.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
