// Package rpc exposes the Service as an HTTP surface: unary JSON
// handlers for request/response methods, and chunked-JSON-lines
// streaming handlers for the two server-streaming methods
// (StreamTranscription, DownloadModel).
package rpc

import (
	"github.com/gin-gonic/gin"

	"scribe/internal/service"
	"scribe/pkg/logger"
	"scribe/pkg/middleware"
)

// NewRouter builds the gin engine bound to svc. The surface is
// loopback-only by contract (see cmd/server), so no auth middleware
// or CORS allowlist is wired here.
func NewRouter(svc *service.Service) *gin.Engine {
	logger.SetGinOutput()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger(), middleware.CompressionMiddleware())

	h := &handler{svc: svc}

	r.GET("/v1/health", h.healthCheck)

	jobs := r.Group("/v1/jobs")
	{
		jobs.POST("", h.startTranscription)
		jobs.GET("", h.listJobs)
		jobs.GET("/:id", h.getJob)
		jobs.DELETE("/:id", h.deleteJob)
		jobs.POST("/:id/cancel", h.cancelJob)
		jobs.GET("/:id/stream", h.streamTranscription)
		jobs.GET("/:id/transcript", h.getTranscript)
		jobs.POST("/:id/transcript/edits", h.saveTranscriptEdits)
		jobs.POST("/:id/translate", h.translateTranscript)
	}

	settings := r.Group("/v1/settings")
	{
		settings.GET("", h.getSettings)
		settings.PUT("", h.updateSettings)
	}

	models := r.Group("/v1/models")
	{
		models.GET("", h.listModels)
		models.POST("/:name/download", h.downloadModel)
		models.POST("/:name/cancel-download", h.cancelDownload)
		models.DELETE("/:name", h.deleteModel)
	}

	return r
}
