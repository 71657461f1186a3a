package repository

import (
	"context"
	"errors"
	"time"

	"intouch/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RelationRepository stores directed relation edges.
type RelationRepository interface {
	// Transaction runs fn against a repository bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx RelationRepository) error) error
	// Get returns the edge from -> to, or nil when none exists.
	Get(ctx context.Context, from, to string) (*models.Relation, error)
	Insert(ctx context.Context, rel *models.Relation) error
	// Upsert inserts the edge or overwrites type and timestamp of the existing one.
	Upsert(ctx context.Context, rel *models.Relation) error
	// Delete removes the edge from -> to and reports whether it existed.
	Delete(ctx context.Context, from, to string) (bool, error)
	ListOutgoing(ctx context.Context, userID string, relType models.RelationType, page models.PageRequest) ([]models.RelationUser, int64, error)
	ListIncoming(ctx context.Context, userID string, relType models.RelationType, page models.PageRequest) ([]models.RelationUser, int64, error)
	// CountFriends returns how many of ids hold a FRIEND edge from userID.
	CountFriends(ctx context.Context, userID string, ids []string) (int64, error)
}

type relationRepository struct {
	db *gorm.DB
}

// NewRelationRepository returns a new RelationRepository implementation.
func NewRelationRepository(db *gorm.DB) RelationRepository {
	return &relationRepository{db: db}
}

func (r *relationRepository) Transaction(ctx context.Context, fn func(tx RelationRepository) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&relationRepository{db: tx})
	})
	return storageError(err)
}

func (r *relationRepository) Get(ctx context.Context, from, to string) (*models.Relation, error) {
	var rel models.Relation
	err := r.db.WithContext(ctx).
		Where("requested_by_user = ? AND requested_to_user = ?", from, to).
		First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError(err)
	}
	return &rel, nil
}

func (r *relationRepository) Insert(ctx context.Context, rel *models.Relation) error {
	if err := r.db.WithContext(ctx).Create(rel).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Relation already exists")
		}
		return storageError(err)
	}
	return nil
}

func (r *relationRepository) Upsert(ctx context.Context, rel *models.Relation) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "requested_by_user"}, {Name: "requested_to_user"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "requested_at"}),
	}).Create(rel).Error
	return storageError(err)
}

func (r *relationRepository) Delete(ctx context.Context, from, to string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("requested_by_user = ? AND requested_to_user = ?", from, to).
		Delete(&models.Relation{})
	if res.Error != nil {
		return false, storageError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *relationRepository) list(ctx context.Context, userColumn, anchorColumn, userID string, relType models.RelationType, page models.PageRequest) ([]models.RelationUser, int64, error) {
	base := r.db.WithContext(ctx).Table("relations").
		Where("relations."+anchorColumn+" = ? AND relations.type = ?", userID, relType)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, storageError(err)
	}

	var rows []models.RelationUser
	err := paginate(base.Session(&gorm.Session{}).
		Select("users.id, users.first_name, users.last_name, users.email, "+
			"COALESCE(avatars.source, '') AS avatar_source, relations.requested_at AS request_at").
		Joins("JOIN users ON users.id = relations."+userColumn).
		Joins("LEFT JOIN avatars ON avatars.user_id = users.id").
		Order("relations.requested_at DESC, users.id ASC"), page).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, storageError(err)
	}
	return rows, total, nil
}

// ListOutgoing lists the targets of userID's edges of relType.
func (r *relationRepository) ListOutgoing(ctx context.Context, userID string, relType models.RelationType, page models.PageRequest) ([]models.RelationUser, int64, error) {
	return r.list(ctx, "requested_to_user", "requested_by_user", userID, relType, page)
}

// ListIncoming lists the senders of edges of relType pointing at userID.
func (r *relationRepository) ListIncoming(ctx context.Context, userID string, relType models.RelationType, page models.PageRequest) ([]models.RelationUser, int64, error) {
	return r.list(ctx, "requested_by_user", "requested_to_user", userID, relType, page)
}

func (r *relationRepository) CountFriends(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Relation{}).
		Where("requested_by_user = ? AND type = ? AND requested_to_user IN ?", userID, models.RelationFriend, ids).
		Count(&count).Error
	if err != nil {
		return 0, storageError(err)
	}
	return count, nil
}

// NewRelation builds an edge stamped with the current UTC time.
func NewRelation(from, to string, relType models.RelationType) *models.Relation {
	return &models.Relation{
		RequestedByUser: from,
		RequestedToUser: to,
		Type:            relType,
		RequestedAt:     time.Now().UTC(),
	}
}
