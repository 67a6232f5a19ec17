package domain

import "time"

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Notification and real-time event types. The same string is used as the
// websocket frame "type" and as Notification.Type.
const (
	EventNewLike               = "NEW_LIKE"
	EventMatch                 = "MATCH"
	EventConnectionRequest     = "CONNECTION_REQUEST"
	EventRequestAccepted       = "REQUEST_ACCEPTED"
	EventConnectionEstablished = "CONNECTION_ESTABLISHED"
	EventRequestRejected       = "REQUEST_REJECTED"
	EventRequestExpired        = "REQUEST_EXPIRED"
	EventRequestWithdrawn      = "REQUEST_WITHDRAWN"
	EventConnectionCancelled   = "CONNECTION_CANCELLED"
	EventBlocked               = "BLOCKED"
	EventBlockedUser           = "BLOCKED_USER"
	EventPaymentConfirmed      = "PAYMENT_CONFIRMED"
)

const (
	TxTypeCredit = "credit"
	TxTypeDebit  = "debit"
)

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
)

// Transaction kinds, stored in Transaction.Kind.
const (
	TxKindWalletFunding      = "wallet_funding"
	TxKindConnectionPurchase = "connection_purchase"
	TxKindTicketSpent        = "ticket_spent"
)

const (
	// MaxConnections is the cap on active connections, and separately on
	// pending outgoing requests, per user.
	MaxConnections = 1
	// MaxTickets caps allowedConnections and lifetime purchases.
	MaxTickets = 3
	// RequestTTL is how long an outgoing request stays pending.
	RequestTTL = 24 * time.Hour
)

// PaymentStatusSuccess is the only gateway status that triggers reconciliation.
const PaymentStatusSuccess = "success"

// SettingConnectionPrice overrides the configured ticket price in cents.
const SettingConnectionPrice = "connection_price_cents"
