package repository

import (
	"context"

	"spark/internal/models"

	"gorm.io/gorm"
)

type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Create(ctx context.Context, l *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *AuditLogRepository) List(ctx context.Context, action string, limit, offset int) ([]models.AuditLog, error) {
	var list []models.AuditLog
	q := r.db.WithContext(ctx).Order("id DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if action != "" {
		q = q.Where("action = ?", action)
	}
	err := q.Find(&list).Error
	return list, err
}
