package service

import (
	"spark/internal/domain"
	"spark/internal/models"
)

// TicketLedger owns every read and write of the connection ticket counters.
// Writes happen on users loaded inside a Mutator.Apply callback.
type TicketLedger struct {
	maxTickets int
}

func NewTicketLedger(maxTickets int) *TicketLedger {
	if maxTickets <= 0 {
		maxTickets = domain.MaxTickets
	}
	return &TicketLedger{maxTickets: maxTickets}
}

// Available is allowedConnections minus tickets tied up in connections and
// pending requests, never below zero.
func (l *TicketLedger) Available(u *models.User) int {
	n := u.AllowedConnections - u.UsedTickets()
	if n < 0 {
		return 0
	}
	return n
}

// Reserve checks that u may open a new request. Nothing is consumed.
func (l *TicketLedger) Reserve(u *models.User) error {
	if l.Available(u) <= 0 {
		return domain.ErrNoConnections
	}
	return nil
}

// Spend consumes one ticket from the requester on acceptance.
func (l *TicketLedger) Spend(u *models.User) {
	if u.AllowedConnections > 0 {
		u.AllowedConnections--
	}
}

// Credit adds purchased tickets, bounded by the per-user cap and the
// remaining lifetime purchase headroom.
func (l *TicketLedger) Credit(u *models.User, quantity int) error {
	if quantity <= 0 {
		return domain.NewError(domain.CodeInvalidInput, "quantity must be positive")
	}
	if u.AllowedConnections+quantity > l.maxTickets || quantity > u.AvailableConnectionsLeftToBuy {
		return domain.ErrTicketCap
	}
	u.AllowedConnections += quantity
	u.AvailableConnectionsLeftToBuy -= quantity
	return nil
}

// TicketStatus is the canSendRequest view.
type TicketStatus struct {
	CanSend              bool `json:"can_send"`
	AllowedConnections   int  `json:"allowed_connections"`
	RemainingConnections int  `json:"remaining_connections"`
	LeftToBuy            int  `json:"available_connections_left_to_buy"`
}

func (l *TicketLedger) Status(u *models.User) TicketStatus {
	remaining := l.Available(u)
	return TicketStatus{
		CanSend:              u.Connections.Len() == 0 && u.Requests.Len() == 0 && remaining > 0,
		AllowedConnections:   u.AllowedConnections,
		RemainingConnections: remaining,
		LeftToBuy:            u.AvailableConnectionsLeftToBuy,
	}
}
