package service

import (
	"context"
	"sync"
	"testing"

	"spark/internal/domain"
	"spark/internal/models"
	"spark/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_CreditsOnce(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, 1)
	ctx := context.Background()

	p := PaymentPayload{Reference: "ref-1", AmountCents: 2500, PayerEmail: "usera@example.com", Status: "success"}
	tx, err := e.rec.Reconcile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, domain.TxKindWalletFunding, tx.Kind)

	again, err := e.rec.Reconcile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)

	assert.Equal(t, int64(2500), e.user(t, 1).BalanceCents)
	assert.Equal(t, []string{domain.EventPaymentConfirmed}, e.notifications(1))
}

func TestReconcile_ConcurrentSameReference(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, 1)
	ctx := context.Background()

	// A second reconciler shares the stores but not the in-process dedupe,
	// like a second node handling the webhook while this one serves verify.
	other := NewReconciler(e.txs, e.mut, e.ledger, e.fanout, FixedPrice(50000))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		r := e.rec
		if i%2 == 1 {
			r = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.Reconcile(ctx, PaymentPayload{Reference: "ref-1", AmountCents: 1000, PayerID: 1, Status: "success"})
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1000), e.user(t, 1).BalanceCents)
	txs, err := e.txs.ListByUserID(ctx, 1, 10, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, []string{"ref-1"}, e.user(t, 1).AppliedReferences)
}

func TestReconcile_Rejections(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, 1)
	ctx := context.Background()

	_, err := e.rec.Reconcile(ctx, PaymentPayload{Reference: "r", AmountCents: 100, PayerID: 1, Status: "failed"})
	assert.True(t, domain.IsCode(err, domain.CodePaymentNotSuccessful))

	_, err = e.rec.Reconcile(ctx, PaymentPayload{Reference: "", AmountCents: 100, PayerID: 1, Status: "success"})
	assert.True(t, domain.IsCode(err, domain.CodeInvalidInput))

	_, err = e.rec.Reconcile(ctx, PaymentPayload{Reference: "r", AmountCents: 100, PayerEmail: "nobody@example.com", Status: "success"})
	assert.True(t, domain.IsCode(err, domain.CodeUserNotFound))

	assert.Zero(t, e.user(t, 1).BalanceCents)
}

func TestPurchaseConnections(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, 1, func(u *models.User) { u.BalanceCents = 120000 })
	ctx := context.Background()

	tx, err := e.rec.PurchaseConnections(ctx, 1, 2, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), tx.AmountCents)
	assert.Equal(t, domain.TxTypeDebit, tx.Type)

	u := e.user(t, 1)
	assert.Equal(t, int64(20000), u.BalanceCents)
	assert.Equal(t, 2, u.AllowedConnections)
	assert.Equal(t, 1, u.AvailableConnectionsLeftToBuy)

	// Replay is a no-op.
	_, err = e.rec.PurchaseConnections(ctx, 1, 2, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, 2, e.user(t, 1).AllowedConnections)

	_, err = e.rec.PurchaseConnections(ctx, 1, 1, "buy-2")
	assert.True(t, domain.IsCode(err, domain.CodeInsufficientBalance), "got %v", err)

	e.addUser(t, 2, withTickets(3), func(u *models.User) { u.BalanceCents = 1000000 })
	_, err = e.rec.PurchaseConnections(ctx, 2, 1, "")
	assert.True(t, domain.IsCode(err, domain.CodeTicketCap))
	assert.Equal(t, int64(1000000), e.user(t, 2).BalanceCents)
}

func TestReconcile_ConnectionPurchaseFromGateway(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, 1, func(u *models.User) { u.BalanceCents = 50000 })

	_, err := e.rec.Reconcile(context.Background(), PaymentPayload{
		Reference:   "gw-7",
		AmountCents: 50000,
		PayerID:     1,
		Status:      "SUCCESS",
		Kind:        domain.TxKindConnectionPurchase,
		Quantity:    1,
	})
	require.NoError(t, err)
	u := e.user(t, 1)
	assert.Zero(t, u.BalanceCents)
	assert.Equal(t, 1, u.AllowedConnections)
}

func TestReconcileFor_PayerMustBeCaller(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, 1)
	e.addUser(t, 2)
	ctx := context.Background()
	p := PaymentPayload{Reference: "pay-123", AmountCents: 5000, PayerEmail: "userb@example.com", Status: "success"}

	_, err := e.rec.ReconcileFor(ctx, 1, p)
	assert.True(t, domain.IsCode(err, domain.CodePayerMismatch), "got %v", err)
	_, err = e.txs.GetByReference(ctx, "pay-123")
	assert.ErrorIs(t, err, repository.ErrNotFound, "refused verify leaves no row")

	// The webhook for the real payer still credits them.
	_, err = e.rec.Reconcile(ctx, p)
	require.NoError(t, err)

	tx, err := e.rec.ReconcileFor(ctx, 2, p)
	require.NoError(t, err)
	assert.Equal(t, uint(2), tx.UserID)

	_, err = e.rec.ReconcileFor(ctx, 1, PaymentPayload{Reference: "pay-123", AmountCents: 5000, Status: "success"})
	assert.True(t, domain.IsCode(err, domain.CodeReferenceUsed), "got %v", err)

	_, err = e.rec.ReconcileFor(ctx, 1, PaymentPayload{Reference: "pay-9", AmountCents: 100, PayerEmail: "ghost@example.com", Status: "success"})
	assert.True(t, domain.IsCode(err, domain.CodePayerMismatch))

	assert.Zero(t, e.user(t, 1).BalanceCents)
	assert.Equal(t, int64(5000), e.user(t, 2).BalanceCents)
}

func TestPurchaseConnections_ForeignReference(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, 1, func(u *models.User) { u.BalanceCents = 100000 })
	e.addUser(t, 2, func(u *models.User) { u.BalanceCents = 100000 })
	ctx := context.Background()

	ref := "buy-shared"
	_, created, err := e.txs.InsertIfAbsent(ctx, &models.Transaction{
		UserID:      2,
		AmountCents: 50000,
		Type:        domain.TxTypeDebit,
		Status:      domain.TxStatusPending,
		Kind:        domain.TxKindConnectionPurchase,
		Reference:   &ref,
		Metadata:    `{"quantity":1}`,
	})
	require.NoError(t, err)
	require.True(t, created)

	_, err = e.rec.PurchaseConnections(ctx, 1, 1, ref)
	assert.True(t, domain.IsCode(err, domain.CodeReferenceUsed), "got %v", err)

	other := e.user(t, 2)
	assert.Equal(t, int64(100000), other.BalanceCents)
	assert.Zero(t, other.AllowedConnections)
	assert.Empty(t, other.AppliedReferences)
	assert.Equal(t, int64(100000), e.user(t, 1).BalanceCents)

	stored, err := e.txs.GetByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, stored.Status)
}
