package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"insight-backend/internal/analysis"
	"insight-backend/internal/documents"
	"insight-backend/internal/insights"
	"insight-backend/internal/shared/config"
	"insight-backend/internal/shared/metrics"
	"insight-backend/internal/shared/server/middleware"
	"insight-backend/internal/shared/server/respond"
)

// RouterDeps carries the pre-built handlers the router wires up.
type RouterDeps struct {
	Config           config.Config
	DocumentsHandler *documents.Handler
	InsightsHandler  *insights.Handler
	AnalysisHandler  *analysis.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			GroupFor: rateLimitGroup,
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT": {Rate: 10, Burst: 30},
				"POLLING": {Rate: 50, Burst: 100},
			},
		}),
	)

	r.GET("/healthz", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true, "env": deps.Config.Env})
	})
	r.GET("/metrics", metrics.Handler())

	project := r.Group("/v1/projects/:projectId")
	deps.DocumentsHandler.RegisterRoutes(project)
	deps.InsightsHandler.RegisterRoutes(project)
	deps.AnalysisHandler.RegisterRoutes(project)

	return r
}

// rateLimitGroup gives run polling more headroom than mutating routes.
func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodGet && c.FullPath() == "/v1/projects/:projectId/analyses/:id" {
		return "POLLING"
	}
	return "DEFAULT"
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
