package server

import "github.com/gofiber/fiber/v2"

// GetFeatureFlags godoc
// @Summary Feature flags for the current user
// @Tags features
// @Produce json
// @Success 200 {array} featureflags.State
// @Security BearerAuth
// @Router /features [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(s.featureFlags.Snapshot(currentUserID(c)))
}
