package ginserver

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crmsync/internal/infra/storage/s3"
)

// maxUploadBytes caps attachment size at 32 MiB.
const maxUploadBytes = 32 << 20

// UploadHandler stores multipart attachments in object storage.
type UploadHandler struct {
	Uploader s3.Uploader
}

// Upload accepts a "file" form part plus an optional "mime_type" field and
// responds with the stored object's URL, filename and mime type.
func (h UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file part is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file part"})
		return
	}
	defer file.Close()

	mimeType := c.PostForm("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	// Object keys are unique per upload; the original filename survives
	// only as the key's suffix and in the response.
	key := fmt.Sprintf("attachments/%s/%s", uuid.NewString(), filepath.Base(header.Filename))
	url, err := h.Uploader.Upload(c.Request.Context(), key, file, mimeType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"url":       url,
		"filename":  header.Filename,
		"mime_type": mimeType,
	})
}

var _ UploadHTTP = UploadHandler{}
