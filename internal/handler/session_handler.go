package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pdfqa/internal/model"
	"github.com/xxxsen/pdfqa/internal/pkg/errcode"
	"github.com/xxxsen/pdfqa/internal/pkg/response"
	"github.com/xxxsen/pdfqa/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type historyRequest struct {
	ChatHistory []model.ChatTurn `json:"chat_history"`
}

type metadataRequest struct {
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req service.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	items, err := h.sessions.List(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if items == nil {
		items = []model.ChatSession{}
	}
	response.Success(c, items)
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *SessionHandler) UpdateHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if err := h.sessions.UpdateHistory(c.Request.Context(), c.Param("id"), req.ChatHistory); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *SessionHandler) UpdateMetadata(c *gin.Context) {
	var req metadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if err := h.sessions.UpdateMetadata(c.Request.Context(), c.Param("id"), req.Metadata); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
