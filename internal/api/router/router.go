package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joetabora/CreatorCast/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "upload-api-service",
		})
	})

	// Initialize upload handler
	uploadHandler := handler.NewUploadHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(OwnerMiddleware())
	{
		uploads := v1.Group("/uploads")
		{
			// POST /api/v1/uploads - Create a new upload job
			uploads.POST("", uploadHandler.CreateUpload)

			// GET /api/v1/uploads - List upload jobs with filtering and pagination
			uploads.GET("", uploadHandler.ListUploads)

			// GET /api/v1/uploads/:job_id - Get upload job details
			uploads.GET("/:job_id", uploadHandler.GetUpload)

			// POST /api/v1/uploads/:job_id/cancel - Cancel an upload job
			uploads.POST("/:job_id/cancel", uploadHandler.CancelUpload)

			// POST /api/v1/uploads/:job_id/retry - Retry a failed upload job
			uploads.POST("/:job_id/retry", uploadHandler.RetryUpload)
		}
	}

	return r
}
