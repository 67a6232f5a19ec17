package models

import (
	"time"

	"spark/internal/domain"

	"gorm.io/gorm"
)

// User holds the relationship aspect of an account. Relationship lists are
// stored denormalized on the row; every write bumps Version.
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;size:64;not null;default:''" json:"username"`
	Email    string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Role     string `gorm:"size:20;not null;default:'USER';index" json:"role"`
	FCMToken string `gorm:"size:512" json:"-"` // For push notifications

	Likes             IDSet              `gorm:"type:json;serializer:json" json:"likes"`
	Dislikes          IDSet              `gorm:"type:json;serializer:json" json:"dislikes"`
	Likers            IDSet              `gorm:"type:json;serializer:json" json:"likers"`
	Matches           IDSet              `gorm:"type:json;serializer:json" json:"matches"`
	Requesters        IDSet              `gorm:"type:json;serializer:json" json:"requesters"`
	Requests          IDSet              `gorm:"type:json;serializer:json" json:"requests"`
	RequestTimestamps []RequestTimestamp `gorm:"type:json;serializer:json" json:"request_timestamps"`
	Connections       IDSet              `gorm:"type:json;serializer:json" json:"connections"`
	PastConnections   IDSet              `gorm:"type:json;serializer:json" json:"past_connections"`
	BlockedUsers      IDSet              `gorm:"type:json;serializer:json" json:"blocked_users"`

	AllowedConnections            int   `gorm:"not null;default:0" json:"allowed_connections"`
	AvailableConnectionsLeftToBuy int   `gorm:"not null;default:3" json:"available_connections_left_to_buy"`
	BalanceCents                  int64 `gorm:"not null;default:0" json:"balance_cents"`

	// AppliedReferences lists transaction references whose balance effect
	// has already been applied to this user.
	AppliedReferences []string `gorm:"type:json;serializer:json" json:"-"`

	Version   int64          `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool { return u.Role == domain.RoleAdmin }

// UsedTickets counts tickets tied up in active connections and pending requests.
func (u *User) UsedTickets() int {
	return u.Connections.Len() + u.Requests.Len()
}

// RequestSentAt returns when the outgoing request to target was sent.
func (u *User) RequestSentAt(target uint) (time.Time, bool) {
	for _, rt := range u.RequestTimestamps {
		if rt.UserID == target {
			return rt.SentAt, true
		}
	}
	return time.Time{}, false
}

// SetRequestTimestamp replaces any entry for target so exactly one remains.
func (u *User) SetRequestTimestamp(target uint, sentAt time.Time) {
	u.ClearRequestTimestamp(target)
	u.RequestTimestamps = append(u.RequestTimestamps, RequestTimestamp{UserID: target, SentAt: sentAt})
}

func (u *User) ClearRequestTimestamp(target uint) {
	out := u.RequestTimestamps[:0]
	for _, rt := range u.RequestTimestamps {
		if rt.UserID != target {
			out = append(out, rt)
		}
	}
	u.RequestTimestamps = out
}

// HasApplied reports whether the balance effect of ref was already applied.
func (u *User) HasApplied(ref string) bool {
	for _, r := range u.AppliedReferences {
		if r == ref {
			return true
		}
	}
	return false
}

// Blocks reports whether either user has blocked the other.
func (u *User) Blocks(other *User) bool {
	return u.BlockedUsers.Has(other.ID) || other.BlockedUsers.Has(u.ID)
}

// Clone returns a deep copy; stores hand out clones so callers can mutate freely.
func (u *User) Clone() *User {
	c := *u
	c.Likes = u.Likes.Clone()
	c.Dislikes = u.Dislikes.Clone()
	c.Likers = u.Likers.Clone()
	c.Matches = u.Matches.Clone()
	c.Requesters = u.Requesters.Clone()
	c.Requests = u.Requests.Clone()
	c.Connections = u.Connections.Clone()
	c.PastConnections = u.PastConnections.Clone()
	c.BlockedUsers = u.BlockedUsers.Clone()
	if u.RequestTimestamps != nil {
		c.RequestTimestamps = append([]RequestTimestamp(nil), u.RequestTimestamps...)
	}
	if u.AppliedReferences != nil {
		c.AppliedReferences = append([]string(nil), u.AppliedReferences...)
	}
	return &c
}
