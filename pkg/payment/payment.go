package payment

import (
	"context"
	"errors"
)

// Verification is the gateway's view of a payment.
type Verification struct {
	Reference   string
	AmountCents int64
	Currency    string
	PayerEmail  string
	Status      string
}

// ErrUnknownReference is returned when the gateway has no such payment.
var ErrUnknownReference = errors.New("payment reference not found")

// Verifier asks the payment gateway for the state of a payment.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*Verification, error)
}
