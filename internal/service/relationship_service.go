package service

import (
	"context"

	"intouch/internal/models"
	"intouch/internal/observability"
	"intouch/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// RelationshipService maintains the directed relation graph between users.
//
// A pair of users holds at most one edge per direction. Friendship is the
// two FRIEND edges; an invitation is a single INVITED edge from the sender;
// a block is a BLOCKED edge from the blocker.
type RelationshipService struct {
	relations       repository.RelationRepository
	users           repository.UserRepository
	avatarURLPrefix string
}

// NewRelationshipService returns a new RelationshipService.
func NewRelationshipService(relations repository.RelationRepository, users repository.UserRepository, avatarURLPrefix string) *RelationshipService {
	return &RelationshipService{
		relations:       relations,
		users:           users,
		avatarURLPrefix: avatarURLPrefix,
	}
}

func (s *RelationshipService) track(ctx context.Context, op, userID, targetID string) (context.Context, func(error)) {
	return track(ctx, "RelationshipService", op, observability.RelationOperations,
		attribute.String("user.id", userID), attribute.String("target.id", targetID))
}

func (s *RelationshipService) requireTarget(ctx context.Context, requestorID, targetID, selfMessage string) error {
	if requestorID == targetID {
		return models.NewValidationError(selfMessage)
	}
	exists, err := s.users.Exists(ctx, targetID)
	if err != nil {
		return err
	}
	if !exists {
		return models.NewNotFoundError("User", targetID)
	}
	return nil
}

// Invite sends a friend invitation from requestorID to targetID.
func (s *RelationshipService) Invite(ctx context.Context, requestorID, targetID string) (err error) {
	ctx, done := s.track(ctx, "invite", requestorID, targetID)
	defer func() { done(err) }()

	if err := s.requireTarget(ctx, requestorID, targetID, "Cannot invite yourself"); err != nil {
		return err
	}

	return s.relations.Transaction(ctx, func(tx repository.RelationRepository) error {
		reverse, err := tx.Get(ctx, targetID, requestorID)
		if err != nil {
			return err
		}
		if reverse != nil {
			switch reverse.Type {
			case models.RelationInvited:
				return models.NewConflictError("User has already invited you")
			case models.RelationBlocked:
				return models.NewConflictError("Cannot invite this user")
			}
		}

		forward, err := tx.Get(ctx, requestorID, targetID)
		if err != nil {
			return err
		}
		if forward != nil {
			switch forward.Type {
			case models.RelationInvited:
				return models.NewConflictError("Invitation already sent")
			case models.RelationBlocked:
				return models.NewConflictError("You have blocked this user")
			case models.RelationFriend:
				return models.NewConflictError("You are already friends")
			}
		}

		return tx.Insert(ctx, repository.NewRelation(requestorID, targetID, models.RelationInvited))
	})
}

// getInvitation returns the INVITED edge from -> to.
func getInvitation(ctx context.Context, tx repository.RelationRepository, from, to, missing string) error {
	rel, err := tx.Get(ctx, from, to)
	if err != nil {
		return err
	}
	if rel == nil || rel.Type != models.RelationInvited {
		return models.NewNotFoundMessage(missing)
	}
	return nil
}

// AcceptInvite turns the invitation fromUserID -> userID into a friendship.
func (s *RelationshipService) AcceptInvite(ctx context.Context, userID, fromUserID string) (err error) {
	ctx, done := s.track(ctx, "accept", userID, fromUserID)
	defer func() { done(err) }()

	return s.relations.Transaction(ctx, func(tx repository.RelationRepository) error {
		if err := getInvitation(ctx, tx, fromUserID, userID, "User has not invited you"); err != nil {
			return err
		}
		mirror, err := tx.Get(ctx, userID, fromUserID)
		if err != nil {
			return err
		}
		if mirror != nil && mirror.Type == models.RelationBlocked {
			return models.NewConflictError("You have blocked this user")
		}
		if err := tx.Upsert(ctx, repository.NewRelation(fromUserID, userID, models.RelationFriend)); err != nil {
			return err
		}
		return tx.Upsert(ctx, repository.NewRelation(userID, fromUserID, models.RelationFriend))
	})
}

// RejectInvite discards the invitation fromUserID -> userID.
func (s *RelationshipService) RejectInvite(ctx context.Context, userID, fromUserID string) (err error) {
	ctx, done := s.track(ctx, "reject", userID, fromUserID)
	defer func() { done(err) }()

	return s.relations.Transaction(ctx, func(tx repository.RelationRepository) error {
		if err := getInvitation(ctx, tx, fromUserID, userID, "User has not invited you"); err != nil {
			return err
		}
		_, err := tx.Delete(ctx, fromUserID, userID)
		return err
	})
}

// CancelInvite withdraws the invitation requestorID -> targetID.
func (s *RelationshipService) CancelInvite(ctx context.Context, requestorID, targetID string) (err error) {
	ctx, done := s.track(ctx, "cancel", requestorID, targetID)
	defer func() { done(err) }()

	return s.relations.Transaction(ctx, func(tx repository.RelationRepository) error {
		if err := getInvitation(ctx, tx, requestorID, targetID, "Invitation not found"); err != nil {
			return err
		}
		_, err := tx.Delete(ctx, requestorID, targetID)
		return err
	})
}

// BlockUser sets requestorID -> targetID to BLOCKED. Blocking twice is a no-op
// apart from the refreshed timestamp. A pending invite or friendship from the
// other side is dropped; a block from the other side stays.
func (s *RelationshipService) BlockUser(ctx context.Context, requestorID, targetID string) (err error) {
	ctx, done := s.track(ctx, "block", requestorID, targetID)
	defer func() { done(err) }()

	if err := s.requireTarget(ctx, requestorID, targetID, "Cannot block yourself"); err != nil {
		return err
	}

	return s.relations.Transaction(ctx, func(tx repository.RelationRepository) error {
		if err := tx.Upsert(ctx, repository.NewRelation(requestorID, targetID, models.RelationBlocked)); err != nil {
			return err
		}
		reverse, err := tx.Get(ctx, targetID, requestorID)
		if err != nil {
			return err
		}
		if reverse != nil && reverse.Type != models.RelationBlocked {
			_, err = tx.Delete(ctx, targetID, requestorID)
		}
		return err
	})
}

// UnblockUser removes the BLOCKED edge requestorID -> targetID.
func (s *RelationshipService) UnblockUser(ctx context.Context, requestorID, targetID string) (err error) {
	ctx, done := s.track(ctx, "unblock", requestorID, targetID)
	defer func() { done(err) }()

	return s.relations.Transaction(ctx, func(tx repository.RelationRepository) error {
		rel, err := tx.Get(ctx, requestorID, targetID)
		if err != nil {
			return err
		}
		if rel == nil {
			return models.NewNotFoundMessage("User is not blocked")
		}
		if rel.Type != models.RelationBlocked {
			return models.NewConflictError("User is not blocked")
		}
		_, err = tx.Delete(ctx, requestorID, targetID)
		return err
	})
}

// RemoveFriend deletes both edges of the friendship between requestorID and
// targetID.
func (s *RelationshipService) RemoveFriend(ctx context.Context, requestorID, targetID string) (err error) {
	ctx, done := s.track(ctx, "remove_friend", requestorID, targetID)
	defer func() { done(err) }()

	return s.relations.Transaction(ctx, func(tx repository.RelationRepository) error {
		rel, err := tx.Get(ctx, requestorID, targetID)
		if err != nil {
			return err
		}
		if rel == nil || rel.Type != models.RelationFriend {
			return models.NewNotFoundMessage("User is not in your friends")
		}
		if _, err := tx.Delete(ctx, requestorID, targetID); err != nil {
			return err
		}
		reverse, err := tx.Get(ctx, targetID, requestorID)
		if err != nil {
			return err
		}
		if reverse != nil && reverse.Type == models.RelationFriend {
			_, err = tx.Delete(ctx, targetID, requestorID)
		}
		return err
	})
}

// RelationBetween returns the edge userID -> otherID, or nil.
func (s *RelationshipService) RelationBetween(ctx context.Context, userID, otherID string) (*models.Relation, error) {
	return s.relations.Get(ctx, userID, otherID)
}

// ListRelations pages the targets of userID's outgoing edges of relType,
// newest first.
func (s *RelationshipService) ListRelations(ctx context.Context, userID string, relType models.RelationType, page models.PageRequest) (models.PagedResult[models.RelationUser], error) {
	if !relType.Valid() {
		return models.PagedResult[models.RelationUser]{}, models.NewValidationError("Unknown relation type")
	}
	rows, total, err := s.relations.ListOutgoing(ctx, userID, relType, page)
	if err != nil {
		return models.PagedResult[models.RelationUser]{}, err
	}
	return models.NewPagedResult(s.withAvatars(rows), total, page), nil
}

// ListPendingInvites pages the senders of invitations waiting on userID.
func (s *RelationshipService) ListPendingInvites(ctx context.Context, userID string, page models.PageRequest) (models.PagedResult[models.RelationUser], error) {
	rows, total, err := s.relations.ListIncoming(ctx, userID, models.RelationInvited, page)
	if err != nil {
		return models.PagedResult[models.RelationUser]{}, err
	}
	return models.NewPagedResult(s.withAvatars(rows), total, page), nil
}

func (s *RelationshipService) withAvatars(rows []models.RelationUser) []models.RelationUser {
	for i := range rows {
		rows[i].AvatarSource = resolveURL(s.avatarURLPrefix, rows[i].AvatarSource)
	}
	return rows
}
