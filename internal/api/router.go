package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gaiageo/gaia/internal/api/handler"
	"github.com/gaiageo/gaia/internal/api/middleware"
	"github.com/gaiageo/gaia/internal/logger"
	"github.com/gaiageo/gaia/internal/service"
	"github.com/gaiageo/gaia/internal/storage"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	jobService *service.JobService,
	db *gorm.DB,
	store storage.ObjectStorage,
	log *logger.Logger,
	cors middleware.CORSConfig,
	mode string,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	// Create handlers
	healthHandler := handler.NewHealthHandler(db, store)
	jobHandler := handler.NewJobHandler(jobService)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", jobHandler.CreateJob)
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.GET("/jobs/:id/status", jobHandler.GetJobStatus)
		v1.GET("/jobs/:id/result", jobHandler.GetJobResult)
		v1.DELETE("/jobs/:id", jobHandler.DeleteJob)
	}

	return r
}
