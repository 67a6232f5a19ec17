package repository

import (
	"context"
	"errors"
	"fmt"

	"spark/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// relationshipColumns are rewritten on every Mutate.
var relationshipColumns = []string{
	"likes", "dislikes", "likers", "matches",
	"requesters", "requests", "request_timestamps",
	"connections", "past_connections", "blocked_users",
	"allowed_connections", "available_connections_left_to_buy",
	"balance_cents", "applied_references", "version", "updated_at",
}

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *UserRepository) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetMany(ctx context.Context, ids []uint) ([]models.User, error) {
	var list []models.User
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&list).Error
	return list, err
}

// Mutate locks the rows in ascending id order for the duration of fn and
// writes them back guarded by their version.
func (r *UserRepository) Mutate(ctx context.Context, ids []uint, fn func(map[uint]*models.User) error) error {
	ordered := sortedIDs(ids)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var list []models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ordered).Order("id").Find(&list).Error
		if err != nil {
			return err
		}
		if len(list) != len(ordered) {
			return ErrNotFound
		}
		users := make(map[uint]*models.User, len(list))
		versions := make(map[uint]int64, len(list))
		for i := range list {
			users[list[i].ID] = &list[i]
			versions[list[i].ID] = list[i].Version
		}
		if err := fn(users); err != nil {
			return err
		}
		for _, id := range ordered {
			u := users[id]
			u.Version = versions[id] + 1
			res := tx.Model(u).Select(relationshipColumns).
				Where("version = ?", versions[id]).Updates(u)
			if res.Error != nil {
				return fmt.Errorf("update user %d: %w", id, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrVersionConflict
			}
		}
		return nil
	})
}

func (r *UserRepository) ListIDs(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	q := r.db.WithContext(ctx).Model(&models.User{}).Where("id > ?", afterID).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

func (r *UserRepository) SetDeviceToken(ctx context.Context, id uint, token string) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("fcm_token", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports unchanged rows as unaffected.
		_, err := r.Get(ctx, id)
		return err
	}
	return nil
}
