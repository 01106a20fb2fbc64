// Package knowledge manages the company knowledge base: document uploads to
// object storage, full-text indexing, and embedding notifications.
package knowledge

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxUploadSize caps document uploads at 20 MiB.
const MaxUploadSize = 20 << 20

var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".html": "text/html",
}

// ValidateUpload checks the filename and declared size of an upload and
// returns the content type to store the object with.
func ValidateUpload(filename string, size int64) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	if size <= 0 {
		return "", fmt.Errorf("file is empty")
	}
	if size > MaxUploadSize {
		return "", fmt.Errorf("file exceeds the %d MB limit", MaxUploadSize>>20)
	}

	ext := strings.ToLower(filepath.Ext(name))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q", ext)
	}
	return contentType, nil
}
