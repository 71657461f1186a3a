package server

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"intouch/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

const paginationHeader = "X-Pagination"

// currentUserID returns the authenticated user set by AuthRequired.
func currentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

// parsePage reads pageNumber and pageSize, clamped into the accepted range.
func parsePage(c *fiber.Ctx) models.PageRequest {
	return models.NewPageRequest(
		c.QueryInt("pageNumber", 1),
		c.QueryInt("pageSize", models.DefaultPageSize),
	)
}

// writePage sends a paged result and mirrors its metadata in X-Pagination.
func writePage[T any](c *fiber.Ctx, page models.PagedResult[T]) error {
	if meta, err := json.Marshal(page.PageMeta); err == nil {
		c.Set(paginationHeader, string(meta))
	}
	return c.JSON(page)
}

// respond writes the error derived from a service failure.
func respond(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, 0, err)
}

// succeeded writes the empty success result.
func succeeded(c *fiber.Ctx) error {
	return c.JSON(models.Success())
}

// parseUUID extracts a route parameter that must be a UUID and returns it in
// the canonical lowercase form ids are stored in.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func parseUUID(c *fiber.Ctx, param string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Params(param)))
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return "", errResponseWritten
	}
	return id.String(), nil
}

// parseBody decodes the JSON body into dst, writing a 400 on failure.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID", "chatId" -> "chat ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}
