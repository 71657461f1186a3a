package server

import (
	"context"

	"intouch/internal/middleware"
	"intouch/internal/models"
	"intouch/internal/notifications"
	"intouch/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePrivateChat handles POST /api/chat/private
// @Summary Create a private chat
// @Description Opens a two-member chat with a friend identified by email
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{email=string} true "Recipient email"
// @Success 201 {object} models.ChatView
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/private [post]
func (s *Server) CreatePrivateChat(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	userID := currentUserID(c)
	view, err := s.chatService.CreatePrivateChat(c.UserContext(), userID, req.Email)
	if err != nil {
		return respond(c, err)
	}
	s.chatCreated(c.UserContext(), userID, view)
	return c.Status(fiber.StatusCreated).JSON(view)
}

// CreateGroupChat handles POST /api/chat/group
// @Summary Create a group chat
// @Description All members must be friends of the creator; nothing is created otherwise
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{name=string,memberIds=[]string} true "Group"
// @Success 201 {object} models.ChatView
// @Failure 400 {object} models.ErrorResponse
// @Router /chat/group [post]
func (s *Server) CreateGroupChat(c *fiber.Ctx) error {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	userID := currentUserID(c)
	view, err := s.chatService.CreateGroupChat(c.UserContext(), userID, req.Name, req.MemberIDs)
	if err != nil {
		return respond(c, err)
	}
	s.chatCreated(c.UserContext(), userID, view)
	return c.Status(fiber.StatusCreated).JSON(view)
}

// UpdateGroupChat handles PUT /api/chat/:chatId. The member list, when it
// differs from the current one, replaces it entirely.
// @Summary Update a group chat
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param chatId path string true "Chat ID"
// @Param request body object{name=string,memberIds=[]string} true "New name and members"
// @Success 200 {object} models.ChatView
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /chat/{chatId} [put]
func (s *Server) UpdateGroupChat(c *fiber.Ctx) error {
	chatID, err := parseUUID(c, "chatId")
	if err != nil {
		return nil
	}
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	userID := currentUserID(c)
	ctx := c.UserContext()
	view, change, err := s.chatService.UpdateGroupChat(ctx, chatID, userID, req.Name, req.MemberIDs)
	if err != nil {
		return respond(c, err)
	}

	s.membershipChanged(ctx, userID, chatID, change)
	if err := s.gateway.Publish(ctx, chatID, notifications.Event{Type: notifications.EventChatUpdated, Payload: view}); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish chat update",
			"chat_id", chatID, "error", err)
	}
	return c.JSON(view)
}

// AddMember handles POST /api/chat/:chatId/members
func (s *Server) AddMember(c *fiber.Ctx) error {
	chatID, err := parseUUID(c, "chatId")
	if err != nil {
		return nil
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	userID := currentUserID(c)
	if err := s.chatService.AddMember(c.UserContext(), chatID, userID, req.UserID); err != nil {
		return respond(c, err)
	}
	s.membershipChanged(c.UserContext(), userID, chatID, models.MembershipChange{Added: []string{req.UserID}})
	return succeeded(c)
}

// RemoveMember handles DELETE /api/chat/:chatId/members/:userId
func (s *Server) RemoveMember(c *fiber.Ctx) error {
	chatID, err := parseUUID(c, "chatId")
	if err != nil {
		return nil
	}
	memberID, err := parseUUID(c, "userId")
	if err != nil {
		return nil
	}

	userID := currentUserID(c)
	if err := s.chatService.RemoveMember(c.UserContext(), chatID, userID, memberID); err != nil {
		return respond(c, err)
	}
	s.membershipChanged(c.UserContext(), userID, chatID, models.MembershipChange{Removed: []string{memberID}})
	return succeeded(c)
}

// LeaveChat handles POST /api/chat/:chatId/leave
func (s *Server) LeaveChat(c *fiber.Ctx) error {
	chatID, err := parseUUID(c, "chatId")
	if err != nil {
		return nil
	}

	userID := currentUserID(c)
	ctx := c.UserContext()
	if err := s.chatService.LeaveChat(ctx, chatID, userID); err != nil {
		return respond(c, err)
	}
	s.notifyMembers(ctx, chatID, notifications.EventMemberRemoved, memberPayload(userID), userID)
	s.announce(ctx, userID, chatID, userID, service.NoticeLeft)
	return succeeded(c)
}

// GetChat handles GET /api/chat/:chatId
// @Summary Get a chat
// @Description Chat metadata, all members and the most recent messages
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param chatId path string true "Chat ID"
// @Success 200 {object} models.ChatView
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/{chatId} [get]
func (s *Server) GetChat(c *fiber.Ctx) error {
	chatID, err := parseUUID(c, "chatId")
	if err != nil {
		return nil
	}
	view, err := s.chatService.GetChat(c.UserContext(), chatID, currentUserID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(view)
}

// ListChats handles GET /api/chat
// @Summary List chats
// @Description Chats of the caller ordered by last activity
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param pageNumber query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} models.PagedResult[models.ChatView]
// @Router /chat [get]
func (s *Server) ListChats(c *fiber.Ctx) error {
	page, err := s.chatService.ListChats(c.UserContext(), currentUserID(c), parsePage(c))
	if err != nil {
		return respond(c, err)
	}
	return writePage(c, page)
}

// GetMessages handles GET /api/chat/:chatId/messages
func (s *Server) GetMessages(c *fiber.Ctx) error {
	chatID, err := parseUUID(c, "chatId")
	if err != nil {
		return nil
	}
	page, err := s.chatService.ListMessages(c.UserContext(), chatID, currentUserID(c), parsePage(c))
	if err != nil {
		return respond(c, err)
	}
	return writePage(c, page)
}

// SendMessage handles POST /api/chat/:chatId/messages, the HTTP counterpart
// of the send_message frame.
// @Summary Send a message
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param chatId path string true "Chat ID"
// @Param request body object{content=string} true "Message"
// @Success 201 {object} models.MessageView
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/{chatId}/messages [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	chatID, err := parseUUID(c, "chatId")
	if err != nil {
		return nil
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	msg, err := s.sendMessage(c.UserContext(), chatID, currentUserID(c), req.Content, "")
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// sendMessage stores a message from a member of chatID and broadcasts it.
// Non-members get NOT_FOUND so chat ids are not disclosed.
func (s *Server) sendMessage(ctx context.Context, chatID, userID, content, fileSource string) (*models.MessageView, error) {
	member, err := s.chatService.IsMember(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, models.NewNotFoundError("Chat", chatID)
	}
	msg, err := s.chatService.SaveMessage(ctx, chatID, userID, content, fileSource)
	if err != nil {
		return nil, err
	}
	s.broadcastMessage(ctx, msg)
	return msg, nil
}
