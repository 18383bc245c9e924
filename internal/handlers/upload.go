package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/frozenbots60-source/kust-chat/internal/blob"
)

// Upload stores an attachment and returns its time-limited download URL.
// The relay core never interprets the URL; clients attach it to messages.
func (s *Server) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	defer f.Close()

	meta, err := s.Blobs.Put(f, fileHeader.Filename, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		log.Printf("Blob upload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": s.Blobs.SignedPath(meta.ID)})
}

// ServeFile streams a blob back if the signed URL is intact and unexpired.
func (s *Server) ServeFile(c *gin.Context) {
	id := c.Param("id")
	exp, err := strconv.ParseInt(c.Query("exp"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expiry"})
		return
	}

	if err := s.Blobs.Verify(id, exp, c.Query("sig")); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, blob.ErrExpired) {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	f, meta, err := s.Blobs.Open(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	defer f.Close()

	c.DataFromReader(http.StatusOK, meta.SizeBytes, meta.ContentType, f, nil)
}
