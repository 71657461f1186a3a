package server

import (
	"intouch/internal/cache"
	"intouch/internal/models"
	"intouch/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UserProfileResponse is a profile as seen by another user.
type UserProfileResponse struct {
	models.UserProfile
	Online   bool                `json:"online"`
	Relation models.RelationType `json:"relation,omitempty"`
}

// profile serves a user profile through the read-through cache.
func (s *Server) profile(c *fiber.Ctx, userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	err := cache.Aside(c.UserContext(), cache.UserProfileKey(userID), &p, cache.UserProfileTTL, func() error {
		fetched, err := s.userService.GetProfile(c.UserContext(), userID)
		if err != nil {
			return err
		}
		p = *fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetMyProfile handles GET /api/users/me
// @Summary Current user profile
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.UserProfile
// @Router /users/me [get]
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	p, err := s.profile(c, currentUserID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(p)
}

// GetUserProfile handles GET /api/users/:id
// @Summary User profile
// @Description Profile of another user with their presence and the caller's relation to them
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} UserProfileResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /users/{id} [get]
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return nil
	}

	p, err := s.profile(c, id)
	if err != nil {
		return respond(c, err)
	}
	resp := UserProfileResponse{
		UserProfile: *p,
		Online:      s.gateway.IsOnline(c.UserContext(), id),
	}
	if rel, err := s.relationSvc.RelationBetween(c.UserContext(), currentUserID(c), id); err == nil && rel != nil {
		resp.Relation = rel.Type
	}
	return c.JSON(resp)
}

// SearchUsers handles GET /api/users/search?query=&pageNumber=&pageSize=
// @Summary Search users
// @Description Email prefix search when the query contains "@", name prefix search otherwise
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param query query string true "Search query"
// @Param pageNumber query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} models.PagedResult[models.UserProfile]
// @Router /users/search [get]
func (s *Server) SearchUsers(c *fiber.Ctx) error {
	page, err := s.userService.Search(c.UserContext(), currentUserID(c), c.Query("query"), parsePage(c))
	if err != nil {
		return respond(c, err)
	}
	return writePage(c, page)
}

// UpdateAccount handles PUT /api/account
func (s *Server) UpdateAccount(c *fiber.Ctx) error {
	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Age       int    `json:"age"`
		Sex       string `json:"sex"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	userID := currentUserID(c)
	p, err := s.userService.UpdateProfile(c.UserContext(), service.UpdateProfileInput{
		UserID:    userID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Age:       req.Age,
		Sex:       req.Sex,
	})
	if err != nil {
		return respond(c, err)
	}
	cache.InvalidateUser(c.UserContext(), userID)
	return c.JSON(p)
}

// ChangePassword handles POST /api/account/change-password. Every refresh
// token of the account is revoked.
func (s *Server) ChangePassword(c *fiber.Ctx) error {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.userService.ChangePassword(c.UserContext(), currentUserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		return respond(c, err)
	}
	return succeeded(c)
}

// ChangeEmail handles POST /api/account/change-email. The address changes
// once the token mailed to it is redeemed at /api/auth/confirm-email-change.
// @Summary Request an email change
// @Tags account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{password=string,newEmail=string} true "New address"
// @Success 202 {object} models.Result
// @Failure 400 {object} models.ErrorResponse
// @Router /account/change-email [post]
func (s *Server) ChangeEmail(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
		NewEmail string `json:"newEmail"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	if err := s.authService.RequestEmailChange(c.UserContext(), currentUserID(c), req.Password, req.NewEmail); err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(models.Success())
}

// InviteToPlatform handles POST /api/users/invite?email=, inviting someone
// without an account to join.
// @Summary Invite a person to inTouch
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param email query string true "Address to invite"
// @Success 200 {object} models.Result
// @Failure 400 {object} models.ErrorResponse
// @Router /users/invite [post]
func (s *Server) InviteToPlatform(c *fiber.Ctx) error {
	if err := s.authService.InviteToPlatform(c.UserContext(), currentUserID(c), c.Query("email")); err != nil {
		return respond(c, err)
	}
	return succeeded(c)
}

// DeleteAccount handles DELETE /api/account. Open connections of the
// account are left to expire with the access token.
func (s *Server) DeleteAccount(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	userID := currentUserID(c)
	if err := s.userService.DeleteAccount(c.UserContext(), userID, req.Password); err != nil {
		return respond(c, err)
	}
	cache.InvalidateUser(c.UserContext(), userID)
	jti, _ := c.Locals("jti").(string)
	_ = s.authService.Logout(c.UserContext(), "", jti)
	return succeeded(c)
}
