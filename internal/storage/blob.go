// Package storage persists avatars and message attachments in a blob store.
package storage

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// BlobStore stores opaque objects by key.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".zip":  "application/zip",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

const defaultContentType = "application/octet-stream"

// ContentTypeFor picks the content type of an upload. A concrete header value
// wins, then the extension table, then the system mime table.
func ContentTypeFor(filename, header string) string {
	header = strings.TrimSpace(header)
	if header != "" && header != defaultContentType {
		return header
	}
	ext := strings.ToLower(path.Ext(filename))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}

// KeyFromURL strips prefix from a stored locator and returns the blob key.
// ok is false when the locator does not belong to this store.
func KeyFromURL(prefix, locator string) (string, bool) {
	if locator == "" || !strings.HasPrefix(locator, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(locator, prefix)
	return strings.TrimPrefix(key, "/"), key != ""
}
