package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pdfqa/internal/filestore"
	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

type FileHandler struct {
	store filestore.Store
}

func NewFileHandler(store filestore.Store) *FileHandler {
	return &FileHandler{store: store}
}

// Get serves archived documents. Only stores that can open files locally
// answer, others publish their own urls.
func (h *FileHandler) Get(c *gin.Context) {
	key := c.Param("key")
	file, err := h.store.Open(c.Request.Context(), key)
	switch {
	case err == nil:
	case errors.Is(err, appErr.ErrInvalid):
		c.Status(http.StatusBadRequest)
		return
	default:
		c.Status(http.StatusNotFound)
		return
	}
	defer file.Close()
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}
