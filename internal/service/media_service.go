package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"mime"
	"net/http"
	"path"
	"strings"

	"intouch/internal/config"
	"intouch/internal/models"
	"intouch/internal/observability"
	"intouch/internal/repository"
	"intouch/internal/storage"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	AvatarSize        = 256
	AvatarWebPQuality = 80
	maxExtensionLen   = 10
)

// UploadInput is a file received from a client.
type UploadInput struct {
	UserID      string
	Filename    string
	ContentType string
	Content     []byte
}

// AvatarService normalizes profile pictures and keeps them in the blob store.
type AvatarService struct {
	users     repository.UserRepository
	blobs     storage.BlobStore
	urlPrefix string
	maxBytes  int64
}

func NewAvatarService(users repository.UserRepository, blobs storage.BlobStore, cfg *config.Config) *AvatarService {
	maxMB := cfg.AvatarMaxUploadSizeMB
	if maxMB <= 0 {
		maxMB = 5
	}
	return &AvatarService{
		users:     users,
		blobs:     blobs,
		urlPrefix: cfg.AvatarURLPrefix,
		maxBytes:  int64(maxMB) * 1024 * 1024,
	}
}

// Upload center-crops the image to a square, scales it to AvatarSize and
// stores it as WebP. The previous avatar blob is removed once the new one is
// recorded. Returns the public URL.
func (s *AvatarService) Upload(ctx context.Context, in UploadInput) (string, error) {
	if len(in.Content) == 0 {
		return "", models.NewValidationError("No file uploaded")
	}
	if int64(len(in.Content)) > s.maxBytes {
		return "", models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxBytes/(1024*1024)))
	}
	if !isAllowedImageMIME(http.DetectContentType(in.Content)) {
		return "", models.NewValidationError("Invalid image type")
	}

	decoded, format, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return "", models.NewValidationError("Invalid image file")
	}
	if provided := normalizeContentType(in.ContentType); strings.HasPrefix(provided, "image/") && !isMatchingContentType(provided, decodedFormatToMime(format)) {
		return "", models.NewValidationError("Image content type mismatch")
	}

	square := scaleTo(cropSquare(decoded), AvatarSize)
	encoded, err := encodeWebP(square, AvatarWebPQuality)
	if err != nil {
		return "", models.NewInternalError(err)
	}

	key := path.Join("avatars", in.UserID, uuid.NewString()+".webp")
	if err := s.blobs.Put(ctx, key, encoded, "image/webp"); err != nil {
		return "", models.NewUnavailableError(err)
	}
	observability.UploadBytes.WithLabelValues("avatar").Observe(float64(len(encoded)))

	previous, err := s.users.SetAvatar(ctx, in.UserID, key)
	if err != nil {
		s.discard(ctx, key)
		return "", err
	}
	if previous != "" && previous != key {
		s.discard(ctx, previous)
	}
	return resolveURL(s.urlPrefix, key), nil
}

// Delete removes the user's avatar. NOT_FOUND when there is none.
func (s *AvatarService) Delete(ctx context.Context, userID string) error {
	previous, err := s.users.DeleteAvatar(ctx, userID)
	if err != nil {
		return err
	}
	s.discard(ctx, previous)
	return nil
}

// discard deletes a stored blob. Failures only leave an orphan behind and are
// logged.
func (s *AvatarService) discard(ctx context.Context, source string) {
	key := source
	if k, ok := storage.KeyFromURL(s.urlPrefix, source); ok {
		key = k
	}
	if key == "" || strings.Contains(key, "://") {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to delete avatar blob",
			"key", key, "error", err)
	}
}

// FileService stores chat attachments.
type FileService struct {
	blobs     storage.BlobStore
	urlPrefix string
	maxBytes  int64
}

func NewFileService(blobs storage.BlobStore, cfg *config.Config) *FileService {
	maxMB := cfg.FileMaxUploadSizeMB
	if maxMB <= 0 {
		maxMB = 10
	}
	return &FileService{
		blobs:     blobs,
		urlPrefix: cfg.FilesURLPrefix,
		maxBytes:  int64(maxMB) * 1024 * 1024,
	}
}

// MaxBytes is the accepted attachment size.
func (s *FileService) MaxBytes() int64 {
	return s.maxBytes
}

// StoreMessageFile uploads an attachment under messages/<chatID>/ and returns
// the locator to record on the FILE message.
func (s *FileService) StoreMessageFile(ctx context.Context, chatID string, in UploadInput) (string, error) {
	if len(in.Content) == 0 {
		return "", models.NewValidationError("No file uploaded")
	}
	if int64(len(in.Content)) > s.maxBytes {
		return "", models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxBytes/(1024*1024)))
	}

	ext := strings.ToLower(path.Ext(path.Base(in.Filename)))
	if len(ext) > maxExtensionLen || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	key := path.Join("messages", chatID, uuid.NewString()+ext)
	if err := s.blobs.Put(ctx, key, in.Content, storage.ContentTypeFor(in.Filename, in.ContentType)); err != nil {
		return "", models.NewUnavailableError(err)
	}
	observability.UploadBytes.WithLabelValues("file").Observe(float64(len(in.Content)))
	return resolveURL(s.urlPrefix, key), nil
}

// cropSquare cuts the largest centered square out of src.
func cropSquare(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	side := w
	if h < side {
		side = h
	}
	if side <= 0 {
		return src
	}
	x := b.Min.X + (w-side)/2
	y := b.Min.Y + (h-side)/2
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), src, image.Point{X: x, Y: y}, draw.Src)
	return dst
}

// scaleTo resamples a square image to size x size.
func scaleTo(src image.Image, size int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isMatchingContentType(provided, detected string) bool {
	if provided == "image/jpg" {
		provided = "image/jpeg"
	}
	return provided == detected
}

func decodedFormatToMime(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}
