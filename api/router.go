package api

import (
	"patreonviewer/config"
	"patreonviewer/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(jobs *task.Manager, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(jobs, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	dl := r.Group("/download")
	dl.Use(AuthMiddleware(cfg))
	{
		dl.GET("/progress", h.handleProgress)
		dl.GET("/state", h.handleState)
		dl.POST("/start", h.handleStart)
		dl.POST("/abort", h.handleAbort)

		dl.GET("/settings", h.handleGetSettings)
		dl.POST("/settings", h.handleSaveSettings)
		dl.PUT("/settings", h.handleSaveSettings)
	}
	return r
}
