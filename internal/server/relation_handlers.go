package server

import (
	"context"
	"strings"

	"intouch/internal/models"
	"intouch/internal/notifications"

	"github.com/gofiber/fiber/v2"
)

// relationAction runs op between the caller and :userId, then tells notify
// (when non-empty) about it.
func (s *Server) relationAction(c *fiber.Ctx, op func(ctx context.Context, userID, otherID string) error, notify string) error {
	otherID, err := parseUUID(c, "userId")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)

	if err := op(c.UserContext(), userID, otherID); err != nil {
		return respond(c, err)
	}
	if notify != "" {
		s.notifyRelation(c.UserContext(), otherID, userID, notify)
	}
	return succeeded(c)
}

// SendInvite handles POST /api/relations/:userId/invite
// @Summary Send a friend invitation
// @Tags relations
// @Produce json
// @Security BearerAuth
// @Param userId path string true "Target user ID"
// @Success 200 {object} models.Result
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /relations/{userId}/invite [post]
func (s *Server) SendInvite(c *fiber.Ctx) error {
	return s.relationAction(c, s.relationSvc.Invite, notifications.RelationInviteReceived)
}

// AcceptInvite handles POST /api/relations/:userId/accept where :userId sent
// the invitation.
// @Summary Accept an invitation
// @Tags relations
// @Produce json
// @Security BearerAuth
// @Param userId path string true "Inviting user ID"
// @Success 200 {object} models.Result
// @Failure 404 {object} models.ErrorResponse
// @Router /relations/{userId}/accept [post]
func (s *Server) AcceptInvite(c *fiber.Ctx) error {
	return s.relationAction(c, s.relationSvc.AcceptInvite, notifications.RelationInviteAccepted)
}

// RejectInvite handles POST /api/relations/:userId/reject
func (s *Server) RejectInvite(c *fiber.Ctx) error {
	return s.relationAction(c, s.relationSvc.RejectInvite, notifications.RelationInviteRejected)
}

// CancelInvite handles DELETE /api/relations/:userId/invite
func (s *Server) CancelInvite(c *fiber.Ctx) error {
	return s.relationAction(c, s.relationSvc.CancelInvite, notifications.RelationInviteCancelled)
}

// BlockUser handles POST /api/relations/:userId/block
func (s *Server) BlockUser(c *fiber.Ctx) error {
	return s.relationAction(c, s.relationSvc.BlockUser, notifications.RelationBlocked)
}

// UnblockUser handles DELETE /api/relations/:userId/block
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	return s.relationAction(c, s.relationSvc.UnblockUser, "")
}

// RemoveFriend handles DELETE /api/relations/:userId/friend
func (s *Server) RemoveFriend(c *fiber.Ctx) error {
	return s.relationAction(c, s.relationSvc.RemoveFriend, notifications.RelationFriendRemoved)
}

// GetRelation handles GET /api/relations/:userId and reports both edges
// between the caller and :userId.
func (s *Server) GetRelation(c *fiber.Ctx) error {
	otherID, err := parseUUID(c, "userId")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)
	ctx := c.UserContext()

	outgoing, err := s.relationSvc.RelationBetween(ctx, userID, otherID)
	if err != nil {
		return respond(c, err)
	}
	incoming, err := s.relationSvc.RelationBetween(ctx, otherID, userID)
	if err != nil {
		return respond(c, err)
	}

	var resp struct {
		Outgoing models.RelationType `json:"outgoing,omitempty"`
		Incoming models.RelationType `json:"incoming,omitempty"`
	}
	if outgoing != nil {
		resp.Outgoing = outgoing.Type
	}
	// A block placed by the other side is not disclosed.
	if incoming != nil && incoming.Type != models.RelationBlocked {
		resp.Incoming = incoming.Type
	}
	return c.JSON(resp)
}

// ListRelations handles GET /api/relations?type=FRIEND|INVITED|BLOCKED
// @Summary List relations
// @Description Targets of the caller's outgoing edges of one type, newest first. INVITED lists sent invitations, BLOCKED the blacklist.
// @Tags relations
// @Produce json
// @Security BearerAuth
// @Param type query string false "Relation type" default(FRIEND)
// @Param pageNumber query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} models.PagedResult[models.RelationUser]
// @Router /relations [get]
func (s *Server) ListRelations(c *fiber.Ctx) error {
	relType := models.RelationType(strings.ToUpper(c.Query("type", string(models.RelationFriend))))
	page, err := s.relationSvc.ListRelations(c.UserContext(), currentUserID(c), relType, parsePage(c))
	if err != nil {
		return respond(c, err)
	}
	return writePage(c, page)
}

// ListPendingInvites handles GET /api/relations/pending
// @Summary Received invitations
// @Tags relations
// @Produce json
// @Security BearerAuth
// @Param pageNumber query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} models.PagedResult[models.RelationUser]
// @Router /relations/pending [get]
func (s *Server) ListPendingInvites(c *fiber.Ctx) error {
	page, err := s.relationSvc.ListPendingInvites(c.UserContext(), currentUserID(c), parsePage(c))
	if err != nil {
		return respond(c, err)
	}
	return writePage(c, page)
}
