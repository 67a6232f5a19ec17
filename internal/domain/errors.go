package domain

import (
	"errors"
	"fmt"
)

// Error codes returned to clients alongside a human readable message.
const (
	CodeSelfTarget           = "SELF_TARGET"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeAlreadyConnected     = "ALREADY_CONNECTED"
	CodeRequestPending       = "REQUEST_PENDING"
	CodeNoConnections        = "NO_CONNECTIONS"
	CodeBlocked              = "BLOCKED"
	CodeNoPendingRequest     = "NO_PENDING_REQUEST"
	CodeNotConnected         = "NOT_CONNECTED"
	CodeNotExpired           = "NOT_EXPIRED"
	CodeTicketCap            = "TICKET_CAP"
	CodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	CodePaymentNotSuccessful = "PAYMENT_NOT_SUCCESSFUL"
	CodeConflict             = "CONFLICT"
	CodePayerMismatch        = "PAYER_MISMATCH"
	CodeReferenceUsed        = "REFERENCE_USED"
)

// Error is a precondition or conflict failure with a stable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an *Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrSelfTarget          = NewError(CodeSelfTarget, "you cannot do that to yourself")
	ErrAlreadyConnected    = NewError(CodeAlreadyConnected, "you already have an active connection")
	ErrRequestPending      = NewError(CodeRequestPending, "you already have a pending connection request")
	ErrNoConnections       = NewError(CodeNoConnections, "no connection tickets left")
	ErrBlocked             = NewError(CodeBlocked, "this user is not available")
	ErrNoPendingRequest    = NewError(CodeNoPendingRequest, "no pending request between these users")
	ErrNotConnected        = NewError(CodeNotConnected, "you are not connected to this user")
	ErrNotExpired          = NewError(CodeNotExpired, "request has not expired yet")
	ErrTicketCap           = NewError(CodeTicketCap, "connection ticket limit reached")
	ErrInsufficientBalance = NewError(CodeInsufficientBalance, "insufficient wallet balance")
	ErrPaymentNotSuccess   = NewError(CodePaymentNotSuccessful, "payment was not successful")
	ErrUserNotFound        = NewError(CodeUserNotFound, "user not found")
	ErrConflict            = NewError(CodeConflict, "state changed concurrently, refresh and retry")
	ErrPayerMismatch       = NewError(CodePayerMismatch, "this payment belongs to another account")
	ErrReferenceUsed       = NewError(CodeReferenceUsed, "reference already used by another account")
)

// ErrorCode returns the code carried by err, or "" when err is not an *Error.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsConflict reports whether err is a retryable concurrent-modification error.
func IsConflict(err error) bool {
	return IsCode(err, CodeConflict)
}
