package repository

import (
	"context"
	"errors"
	"time"

	"spark/internal/domain"
	"spark/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, t *models.Transaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// InsertIfAbsent relies on the unique index on reference: a duplicate insert
// is a no-op and the existing row is fetched instead.
func (r *TransactionRepository) InsertIfAbsent(ctx context.Context, t *models.Transaction) (*models.Transaction, bool, error) {
	if t.Reference == nil {
		if err := r.Create(ctx, t); err != nil {
			return nil, false, err
		}
		return t, true, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reference"}},
		DoNothing: true,
	}).Create(t)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return t, true, nil
	}
	stored, err := r.GetByReference(ctx, *t.Reference)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, ref string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.WithContext(ctx).Where("reference = ?", ref).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepository) MarkCompleted(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status <> ?", id, domain.TxStatusCompleted).
		Updates(map[string]interface{}{"status": domain.TxStatusCompleted, "completed_at": at}).Error
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	var list []models.Transaction
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}
