package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pdfqa/internal/filestore"
	"github.com/xxxsen/pdfqa/internal/pkg/errcode"
	"github.com/xxxsen/pdfqa/internal/pkg/response"
	"github.com/xxxsen/pdfqa/internal/service"
)

type DocumentHandler struct {
	qa        *service.QAService
	files     filestore.Store
	maxUpload int64
}

func NewDocumentHandler(qa *service.QAService, files filestore.Store, maxUpload int64) *DocumentHandler {
	return &DocumentHandler{qa: qa, files: files, maxUpload: maxUpload}
}

type uploadResponse struct {
	*service.UploadResult
	FileURL string `json:"file_url,omitempty"`
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	if h.maxUpload > 0 {
		// room for multipart framing
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1024*1024)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, errcode.ErrFileTooLarge, "file exceeds "+formatUploadLimit(h.maxUpload))
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxUpload > 0 && file.Size > h.maxUpload {
		response.Error(c, errcode.ErrFileTooLarge, "file exceeds "+formatUploadLimit(h.maxUpload))
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()

	res, err := h.qa.Upload(c.Request.Context(), file.Filename, opened)
	if err != nil {
		handleError(c, err)
		return
	}
	out := uploadResponse{UploadResult: res}
	if res.FileKey != "" && h.files != nil {
		out.FileURL = h.files.URL(res.FileKey, requestBaseURL(c))
	}
	response.Success(c, out)
}

func (h *DocumentHandler) Status(c *gin.Context) {
	status, err := h.qa.Status(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

func requestBaseURL(c *gin.Context) string {
	proto := c.GetHeader("X-Forwarded-Proto")
	if proto == "" {
		if c.Request.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	return proto + "://" + host
}

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	return strconv.FormatInt(max(bytes/mb, 1), 10) + "MB"
}
