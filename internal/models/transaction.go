package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction records a monetary event. Reference is the external
// idempotency key; NULL references are allowed and not unique.
type Transaction struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	AmountCents int64          `gorm:"not null" json:"amount_cents"`
	Type        string         `gorm:"size:10;not null;index" json:"type"`   // credit | debit
	Status      string         `gorm:"size:20;not null;index" json:"status"` // pending | completed
	Kind        string         `gorm:"size:30;not null;index" json:"kind"`   // wallet_funding, connection_purchase, ticket_spent
	Reference   *string        `gorm:"size:255;uniqueIndex" json:"reference"`
	Metadata    string         `gorm:"type:text" json:"metadata"` // JSON
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// Ref returns the reference or "".
func (t *Transaction) Ref() string {
	if t.Reference == nil {
		return ""
	}
	return *t.Reference
}
