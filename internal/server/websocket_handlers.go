package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"intouch/internal/cache"
	"intouch/internal/featureflags"
	"intouch/internal/middleware"
	"intouch/internal/models"
	"intouch/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	typingLimit  = 10
	typingWindow = 10 * time.Second
)

var errInvalidTicket = errors.New("invalid or expired ticket")

// IssueWSTicket handles POST /api/ws/ticket. The ticket is single-use and
// stands in for the access token on the WebSocket upgrade, where browsers
// cannot set an Authorization header.
// @Summary Issue a WebSocket ticket
// @Tags realtime
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{ticket=string,expires_in=int}
// @Failure 503 {object} models.ErrorResponse
// @Router /ws/ticket [post]
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return respond(c, models.NewUnavailableError(errors.New("ticket store not configured")))
	}

	ticket := uuid.NewString()
	if err := s.redis.Set(c.UserContext(), cache.WSTicketKey(ticket), currentUserID(c), cache.WSTicketTTL).Err(); err != nil {
		return respond(c, models.NewUnavailableError(err))
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(cache.WSTicketTTL.Seconds()),
	})
}

// consumeWSTicket redeems a ticket for the user id it was issued to.
func (s *Server) consumeWSTicket(ctx context.Context, ticket string) (string, error) {
	userID, err := s.redis.GetDel(ctx, cache.WSTicketKey(ticket)).Result()
	if errors.Is(err, redis.Nil) || userID == "" {
		return "", errInvalidTicket
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// WebSocketChatHandler serves GET /api/ws/chat. A connection starts with no
// chat subscriptions; the client opens chats with open_chat frames.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(string)
		if userID == "" {
			_ = conn.WriteJSON(notifications.ErrorEvent("", "unauthorized"))
			_ = conn.Close()
			return
		}

		client, err := s.gateway.Register(userID, conn, notifications.NewLimiter(s.config.WSMessagesPerSecond))
		if err != nil {
			middleware.Logger.Warn("websocket registration refused", "user_id", userID, "error", err)
			_ = conn.WriteJSON(notifications.ErrorEvent("", err.Error()))
			_ = conn.Close()
			return
		}
		client.IncomingHandler = s.handleFrame

		go client.WritePump()
		client.ReadPump()
		// The conn is released back to fiber's pool when this handler
		// returns; the write pump must be done with it by then.
		<-client.Done()
	})
}

type wsSession struct {
	ConnectionID string   `json:"connectionId"`
	Chats        []string `json:"chats"`
}

// ListWSSessions handles GET /api/ws/sessions: the caller's connections on
// this instance and the chats each has open.
// @Summary List my WebSocket sessions
// @Tags realtime
// @Produce json
// @Security BearerAuth
// @Success 200 {array} wsSession
// @Router /ws/sessions [get]
func (s *Server) ListWSSessions(c *fiber.Ctx) error {
	ids := s.gateway.ConnectionsOf(currentUserID(c))
	sort.Strings(ids)
	out := make([]wsSession, 0, len(ids))
	for _, id := range ids {
		chats := s.gateway.ChatsOf(id)
		sort.Strings(chats)
		out = append(out, wsSession{ConnectionID: id, Chats: chats})
	}
	return c.JSON(out)
}

// handleFrame dispatches one inbound frame of client.
func (s *Server) handleFrame(client *notifications.Client, raw []byte) {
	var frame notifications.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		client.SendEvent(notifications.ErrorEvent("", "Invalid frame"))
		return
	}

	ctx := middleware.WithUserID(s.shutdownCtx, client.UserID)
	if frame.Type != "" && frame.ChatID == "" {
		client.SendEvent(notifications.ErrorEvent("", "chatId is required"))
		return
	}

	switch frame.Type {
	case notifications.FrameOpenChat:
		if !s.isMember(ctx, frame.ChatID, client.UserID) {
			client.SendEvent(notifications.ErrorEvent(frame.ChatID, "Chat not found"))
			return
		}
		s.gateway.JoinGroup(client.ID, frame.ChatID)
		client.SendEvent(notifications.Event{Type: notifications.EventChatOpened, ChatID: frame.ChatID})

	case notifications.FrameCloseChat:
		s.gateway.LeaveGroup(client.ID, frame.ChatID)

	case notifications.FrameSendMessage:
		if _, err := s.sendMessage(ctx, frame.ChatID, client.UserID, frame.Content, frame.FileSource); err != nil {
			client.SendEvent(notifications.ErrorEvent(frame.ChatID, errorMessage(err)))
		}

	case notifications.FrameTyping:
		if !s.featureFlags.Enabled(featureflags.TypingIndicators, client.UserID) {
			return
		}
		if !s.isMember(ctx, frame.ChatID, client.UserID) {
			return
		}
		allowed, _ := middleware.CheckRateLimit(ctx, s.redis, "typing", "user:"+client.UserID, typingLimit, typingWindow)
		if !allowed {
			return
		}
		ev := notifications.Event{
			Type:    notifications.EventTyping,
			ChatID:  frame.ChatID,
			Payload: memberPayload(client.UserID),
		}
		if err := s.gateway.Publish(ctx, frame.ChatID, ev); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to publish typing indicator",
				"chat_id", frame.ChatID, "error", err)
		}

	default:
		client.SendEvent(notifications.ErrorEvent(frame.ChatID, "Unknown frame type"))
	}
}

func (s *Server) isMember(ctx context.Context, chatID, userID string) bool {
	ok, err := s.chatService.IsMember(ctx, chatID, userID)
	return err == nil && ok
}

// errorMessage is the client-facing text of err.
func errorMessage(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}
