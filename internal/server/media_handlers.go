package server

import (
	"errors"
	"io"
	"strings"

	"intouch/internal/cache"
	"intouch/internal/models"
	"intouch/internal/service"
	"intouch/internal/storage"

	"github.com/gofiber/fiber/v2"
)

// readUpload reads the multipart file under field. On failure it writes a
// 400 and returns errResponseWritten.
func readUpload(c *fiber.Ctx, field, userID string) (service.UploadInput, error) {
	file, err := c.FormFile(field)
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("No file uploaded"))
		return service.UploadInput{}, errResponseWritten
	}

	src, err := file.Open()
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
		return service.UploadInput{}, errResponseWritten
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
		return service.UploadInput{}, errResponseWritten
	}

	return service.UploadInput{
		UserID:      userID,
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

// UploadAvatar handles POST /api/account/avatar (multipart field "avatar")
// @Summary Upload avatar
// @Description Square-cropped, resized to 256px and stored as WebP. Replaces the previous avatar.
// @Tags account
// @Accept mpfd
// @Produce json
// @Security BearerAuth
// @Param avatar formData file true "Image"
// @Success 200 {object} object{avatar_source=string}
// @Failure 400 {object} models.ErrorResponse
// @Router /account/avatar [post]
func (s *Server) UploadAvatar(c *fiber.Ctx) error {
	userID := currentUserID(c)
	in, err := readUpload(c, "avatar", userID)
	if err != nil {
		return nil
	}

	url, err := s.avatarService.Upload(c.UserContext(), in)
	if err != nil {
		return respond(c, err)
	}
	cache.InvalidateUser(c.UserContext(), userID)
	return c.JSON(fiber.Map{"avatar_source": url})
}

// DeleteAvatar handles DELETE /api/account/avatar
func (s *Server) DeleteAvatar(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if err := s.avatarService.Delete(c.UserContext(), userID); err != nil {
		return respond(c, err)
	}
	cache.InvalidateUser(c.UserContext(), userID)
	return succeeded(c)
}

// UploadFile handles POST /api/chat/:chatId/files (multipart field "file",
// optional "content"). The attachment is stored, recorded as a FILE message
// and broadcast to the chat.
// @Summary Send a file
// @Tags chat
// @Accept mpfd
// @Produce json
// @Security BearerAuth
// @Param chatId path string true "Chat ID"
// @Param file formData file true "Attachment"
// @Param content formData string false "Caption"
// @Success 201 {object} models.MessageView
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/{chatId}/files [post]
func (s *Server) UploadFile(c *fiber.Ctx) error {
	chatID, err := parseUUID(c, "chatId")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)
	ctx := c.UserContext()

	member, err := s.chatService.IsMember(ctx, chatID, userID)
	if err != nil {
		return respond(c, err)
	}
	if !member {
		return respond(c, models.NewNotFoundError("Chat", chatID))
	}

	in, err := readUpload(c, "file", userID)
	if err != nil {
		return nil
	}
	source, err := s.fileService.StoreMessageFile(ctx, chatID, in)
	if err != nil {
		return respond(c, err)
	}

	msg, err := s.sendMessage(ctx, chatID, userID, c.FormValue("content"), source)
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// ServeBlob handles GET /api/blobs/* for deployments where the blob store is
// not publicly reachable.
func (s *Server) ServeBlob(c *fiber.Ctx) error {
	key := strings.TrimPrefix(c.Params("*"), "/")
	if key == "" || strings.Contains(key, "..") {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid blob key"))
	}

	body, contentType, err := s.blobs.Get(c.UserContext(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return respond(c, models.NewNotFoundMessage("File not found"))
	}
	if err != nil {
		return respond(c, models.NewUnavailableError(err))
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=86400, immutable")
	return c.Send(body)
}
