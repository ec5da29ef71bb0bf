package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pdfqa/internal/pkg/errcode"
	"github.com/xxxsen/pdfqa/internal/pkg/response"
	"github.com/xxxsen/pdfqa/internal/service"
)

type AskHandler struct {
	qa *service.QAService
}

func NewAskHandler(qa *service.QAService) *AskHandler {
	return &AskHandler{qa: qa}
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

func (h *AskHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	answer, err := h.qa.Ask(c.Request.Context(), req.SessionID, req.Question)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, askResponse{Answer: answer})
}
