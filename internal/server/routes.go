package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))

	api := s.Router.Group("/api/v1")
	api.Use(s.authMiddleware())
	{
		projects := api.Group("/projects")
		{
			projects.POST("", s.handleCreateProject)
			projects.GET("/:id", s.handleGetProject)
			projects.DELETE("/:id", s.handleDeleteProject)
			projects.PUT("/:id/templates", s.handleUpdateTemplates)
			projects.POST("/:id/thumbnail", s.handleUploadThumbnail)
			projects.POST("/:id/dataset", s.handleUploadDataset)
			projects.GET("/:id/columns", s.handleListColumns)
			projects.GET("/:id/rows", s.handleListRows)
			projects.POST("/:id/generate", s.handleGenerate)
			projects.GET("/:id/contents", s.handleListContents)
			projects.GET("/:id/export", s.handleExport)
			projects.POST("/:id/export", s.handleStoreExport)
			projects.POST("/:id/publish", s.handlePublish)
			projects.GET("/:id/publish-jobs", s.handleListJobs)
			projects.GET("/:id/publish-jobs/active", s.handleActiveJob)
		}

		jobs := api.Group("/publish-jobs")
		{
			jobs.GET("/:id", s.handleGetJob)
			jobs.POST("/:id/pause", s.handlePauseJob)
			jobs.POST("/:id/resume", s.handleResumeJob)
			jobs.POST("/:id/cancel", s.handleCancelJob)
			jobs.DELETE("/:id", s.handleDeleteJob)
		}

		contents := api.Group("/contents")
		{
			contents.POST("/unpublish", s.handleUnpublish)
			contents.GET("/:id", s.handleGetContent)
			contents.PUT("/:id", s.handleUpdateContent)
			contents.DELETE("/:id", s.handleDeleteContent)
		}

		api.GET("/errors", s.handleListErrors)
		api.POST("/errors/:id/resolve", s.handleResolveError)
	}
}
