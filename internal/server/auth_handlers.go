package server

import (
	"intouch/internal/models"
	"intouch/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Register handles POST /api/auth/register
// @Summary Register
// @Description Create an account and send an email confirmation token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.RegisterInput true "Registration"
// @Success 201 {object} models.UserProfile
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/register [post]
func (s *Server) Register(c *fiber.Ctx) error {
	var req service.RegisterInput
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	profile, err := s.authService.Register(c.UserContext(), req)
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(profile)
}

// ConfirmEmail handles GET /api/auth/confirm-email?userId=&token=
// @Summary Confirm email
// @Tags auth
// @Produce json
// @Param userId query string true "User ID"
// @Param token query string true "Confirmation token"
// @Success 200 {object} models.Result
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/confirm-email [get]
func (s *Server) ConfirmEmail(c *fiber.Ctx) error {
	userID, token := c.Query("userId"), c.Query("token")
	if userID == "" || token == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("userId and token are required"))
	}
	if err := s.authService.ConfirmEmail(c.UserContext(), userID, token); err != nil {
		return respond(c, err)
	}
	return succeeded(c)
}

// ConfirmEmailChange handles GET /api/auth/confirm-email-change?userId=&email=&token=
// @Summary Confirm an email change
// @Tags auth
// @Produce json
// @Param userId query string true "User ID"
// @Param email query string true "New email"
// @Param token query string true "Change token"
// @Success 200 {object} models.Result
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/confirm-email-change [get]
func (s *Server) ConfirmEmailChange(c *fiber.Ctx) error {
	userID, email, token := c.Query("userId"), c.Query("email"), c.Query("token")
	if userID == "" || email == "" || token == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("userId, email and token are required"))
	}
	if err := s.authService.ConfirmEmailChange(c.UserContext(), userID, email, token); err != nil {
		return respond(c, err)
	}
	return succeeded(c)
}

// Login handles POST /api/auth/login
// @Summary User login
// @Description Authenticate user and return an access and refresh token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string} true "Login credentials"
// @Success 200 {object} service.TokenPair
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	pair, err := s.authService.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(pair)
}

// Refresh handles POST /api/auth/refresh
// @Summary Rotate refresh token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{refresh_token=string} true "Refresh token"
// @Success 200 {object} service.TokenPair
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/refresh [post]
func (s *Server) Refresh(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.RefreshToken == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("refresh_token is required"))
	}

	pair, err := s.authService.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(pair)
}

// Logout handles POST /api/auth/logout. The refresh token in the body is
// revoked and the presented access token is blacklisted until it expires.
func (s *Server) Logout(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return nil
		}
	}

	jti, _ := c.Locals("jti").(string)
	if err := s.authService.Logout(c.UserContext(), req.RefreshToken, jti); err != nil {
		return respond(c, err)
	}
	return succeeded(c)
}
