package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pdfqa/internal/middleware"
)

type RouterDeps struct {
	Documents    *DocumentHandler
	Ask          *AskHandler
	Sessions     *SessionHandler
	Files        *FileHandler
	AskRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/documents", deps.Documents.Upload)
	api.GET("/documents/status", deps.Documents.Status)

	api.POST("/ask", middleware.RateLimit(deps.AskRateLimit), deps.Ask.Ask)

	api.POST("/sessions", deps.Sessions.Create)
	api.GET("/sessions", deps.Sessions.List)
	api.GET("/sessions/:id", deps.Sessions.Get)
	api.PUT("/sessions/:id/history", deps.Sessions.UpdateHistory)
	api.PUT("/sessions/:id/metadata", deps.Sessions.UpdateMetadata)
	api.DELETE("/sessions/:id", deps.Sessions.Delete)

	if deps.Files != nil {
		api.GET("/files/:key", deps.Files.Get)
	}
}
