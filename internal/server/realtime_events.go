package server

import (
	"context"

	"intouch/internal/featureflags"
	"intouch/internal/middleware"
	"intouch/internal/models"
	"intouch/internal/notifications"
	"intouch/internal/service"
)

// Realtime side effects of committed writes. Delivery failures are logged and
// never undo the write.

// presenceFanoutPages bounds how many pages of friends hear a presence change.
const presenceFanoutPages = 25

func (s *Server) notifyRelation(ctx context.Context, recipientID, actorID, action string) {
	ev := notifications.Event{
		Type:    notifications.EventRelation,
		Payload: notifications.RelationEvent{Action: action, UserID: actorID},
	}
	if err := s.gateway.NotifyUser(ctx, recipientID, ev); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish relation event",
			"action", action, "recipient_id", recipientID, "error", err)
	}
}

// broadcastMessage fans a stored message out to the chat's open connections.
func (s *Server) broadcastMessage(ctx context.Context, msg *models.MessageView) {
	ev := notifications.Event{Type: notifications.EventMessage, ChatID: msg.ChatID, Payload: msg}
	if err := s.gateway.Publish(ctx, msg.ChatID, ev); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish chat message",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
}

// notifyMembers sends a user-scoped event about chatID to each of userIDs.
func (s *Server) notifyMembers(ctx context.Context, chatID, eventType string, payload any, userIDs ...string) {
	for _, id := range userIDs {
		ev := notifications.Event{Type: eventType, ChatID: chatID, Payload: payload}
		if err := s.gateway.NotifyUser(ctx, id, ev); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to notify chat member",
				"event", eventType, "chat_id", chatID, "user_id", id, "error", err)
		}
	}
}

// announce posts a SYSTEM notice about subjectID in chatID and broadcasts it.
func (s *Server) announce(ctx context.Context, actorID, chatID, subjectID string, notice service.Notice) {
	if !s.featureFlags.Enabled(featureflags.MembershipNotices, actorID) {
		return
	}
	msg, err := s.chatService.PostNotice(ctx, chatID, subjectID, notice)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to post membership notice",
			"chat_id", chatID, "subject_id", subjectID, "error", err)
		return
	}
	s.broadcastMessage(ctx, msg)
}

// chatCreated tells every member, the creator included, about a new chat.
// The event subscribes their open connections on every instance; the
// creator's local connections are joined up front so they are subscribed by
// the time the response is written.
func (s *Server) chatCreated(ctx context.Context, creatorID string, view *models.ChatView) {
	members := make([]string, 0, len(view.Members))
	for _, m := range view.Members {
		members = append(members, m.ID)
	}
	s.gateway.JoinUser(creatorID, view.ID)
	s.notifyMembers(ctx, view.ID, notifications.EventChatCreated, view, members...)
}

// membershipChanged syncs the gateway and the chat history after members were
// added to or removed from chatID by actorID.
func (s *Server) membershipChanged(ctx context.Context, actorID, chatID string, change models.MembershipChange) {
	for _, id := range change.Added {
		s.notifyMembers(ctx, chatID, notifications.EventMemberAdded, memberPayload(id), id)
		s.announce(ctx, actorID, chatID, id, service.NoticeAdded)
	}
	for _, id := range change.Removed {
		s.notifyMembers(ctx, chatID, notifications.EventMemberRemoved, memberPayload(id), id)
		s.announce(ctx, actorID, chatID, id, service.NoticeRemoved)
	}
}

func memberPayload(userID string) map[string]string {
	return map[string]string{"userId": userID}
}

// broadcastPresence tells the friends of userID that they came online or
// went offline.
func (s *Server) broadcastPresence(userID string, online bool) {
	ctx := s.shutdownCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	ev := notifications.Event{
		Type:    notifications.EventUserStatus,
		Payload: map[string]any{"userId": userID, "online": online},
	}
	for n := 1; n <= presenceFanoutPages; n++ {
		page, err := s.relationSvc.ListRelations(ctx, userID, models.RelationFriend, models.NewPageRequest(n, models.MaxPageSize))
		if err != nil {
			middleware.Logger.WarnContext(ctx, "failed to list friends for presence",
				"user_id", userID, "error", err)
			return
		}
		for _, friend := range page.Items {
			_ = s.gateway.NotifyUser(ctx, friend.ID, ev)
		}
		if !page.HasNext {
			return
		}
	}
}
