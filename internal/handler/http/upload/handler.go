// Package upload accepts multipart file uploads from call participants and
// stores them through the storage service.
package upload

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/service/storage"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/response"
)

// MaxUploadSize caps a single shared file at 50 MB
const MaxUploadSize = 50 << 20

// Handler handles upload HTTP requests
type Handler struct {
	storage *storage.Service
}

// NewHandler creates a new upload handler
func NewHandler(storage *storage.Service) *Handler {
	return &Handler{storage: storage}
}

// Upload stores a multipart file and returns its name and download URL
// POST /api/upload
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ValidationError(c, "Request must carry a file field")
		return
	}
	if fileHeader.Size > MaxUploadSize {
		response.ValidationError(c, "File exceeds maximum upload size")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.InternalError(c, "Failed to read uploaded file")
		return
	}
	defer file.Close()

	ref, err := h.storage.Put(c.Request.Context(), file, fileHeader.Size, fileHeader.Filename)
	if err != nil {
		logger.Error("upload failed",
			zap.String("filename", fileHeader.Filename),
			zap.Int64("size", fileHeader.Size),
			zap.Error(err))
		response.UploadError(c, "Failed to store file")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"name": ref.Name,
		"url":  ref.URL,
	})
}
