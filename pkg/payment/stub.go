package payment

import (
	"context"
	"strconv"
	"strings"
)

// StubGateway is a development gateway. References of the form
// stub_<amountCents>_<anything> verify as successful for that amount.
type StubGateway struct{}

func (StubGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	parts := strings.SplitN(reference, "_", 3)
	if len(parts) != 3 || parts[0] != "stub" {
		return nil, ErrUnknownReference
	}
	amount, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || amount <= 0 {
		return nil, ErrUnknownReference
	}
	return &Verification{Reference: reference, AmountCents: amount, Currency: "KES", Status: "success"}, nil
}
