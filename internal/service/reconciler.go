package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"spark/internal/domain"
	"spark/internal/models"
	"spark/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// PaymentPayload is a verified gateway result.
type PaymentPayload struct {
	Reference   string `json:"reference" binding:"required"`
	AmountCents int64  `json:"amount_cents"`
	PayerEmail  string `json:"payer_email"`
	PayerID     uint   `json:"payer_id"`
	Status      string `json:"status" binding:"required"`
	// Kind is wallet_funding unless the payment bought connection tickets.
	Kind     string `json:"kind"`
	Quantity int    `json:"quantity"`
}

type txMetadata struct {
	Quantity  int  `json:"quantity,omitempty"`
	PartnerID uint `json:"partner_id,omitempty"`
}

// Reconciler records monetary events exactly once per reference and applies
// their balance effect exactly once per user.
type Reconciler struct {
	txs      repository.TransactionStore
	mut      *Mutator
	ledger   *TicketLedger
	notifier Notifier
	prices   PriceSource
	group    singleflight.Group
	now      func() time.Time
}

func NewReconciler(txs repository.TransactionStore, mut *Mutator, ledger *TicketLedger, notifier Notifier, prices PriceSource) *Reconciler {
	return &Reconciler{
		txs:      txs,
		mut:      mut,
		ledger:   ledger,
		notifier: notifier,
		prices:   prices,
		now:      time.Now,
	}
}

// Reconcile records a gateway payment. A replayed reference returns the
// stored transaction without reapplying its effect.
func (r *Reconciler) Reconcile(ctx context.Context, p PaymentPayload) (*models.Transaction, error) {
	p.Reference = strings.TrimSpace(p.Reference)
	if p.Reference == "" {
		return nil, domain.NewError(domain.CodeInvalidInput, "reference is required")
	}
	if !strings.EqualFold(p.Status, domain.PaymentStatusSuccess) {
		reconcileTotal.WithLabelValues("not_successful").Inc()
		return nil, domain.ErrPaymentNotSuccess
	}

	u, err := r.resolvePayer(ctx, p)
	if err != nil {
		return nil, err
	}
	t := &models.Transaction{
		UserID:      u.ID,
		AmountCents: p.AmountCents,
		Type:        domain.TxTypeCredit,
		Status:      domain.TxStatusPending,
		Kind:        domain.TxKindWalletFunding,
	}
	if p.Kind == domain.TxKindConnectionPurchase {
		if p.Quantity <= 0 {
			return nil, domain.NewError(domain.CodeInvalidInput, "quantity must be positive")
		}
		t.Type = domain.TxTypeDebit
		t.Kind = domain.TxKindConnectionPurchase
		t.Metadata = metadataJSON(txMetadata{Quantity: p.Quantity})
	} else if p.AmountCents <= 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "amount must be positive")
	}
	ref := p.Reference
	t.Reference = &ref
	return r.reconcile(ctx, t)
}

// ReconcileFor records a payment the caller asked to verify. The payer the
// gateway reports must be the caller; without one the caller is the payer.
func (r *Reconciler) ReconcileFor(ctx context.Context, callerID uint, p PaymentPayload) (*models.Transaction, error) {
	if p.PayerEmail != "" {
		u, err := r.resolvePayer(ctx, PaymentPayload{PayerEmail: p.PayerEmail})
		if domain.IsCode(err, domain.CodeUserNotFound) {
			return nil, domain.ErrPayerMismatch
		}
		if err != nil {
			return nil, err
		}
		if u.ID != callerID {
			log.Printf("[RECONCILE] %s: caller %d is not payer %d", p.Reference, callerID, u.ID)
			return nil, domain.ErrPayerMismatch
		}
	}
	p.PayerID = callerID
	return r.Reconcile(ctx, p)
}

// PurchaseConnections buys quantity tickets from the caller's wallet balance.
func (r *Reconciler) PurchaseConnections(ctx context.Context, userID uint, quantity int, reference string) (*models.Transaction, error) {
	if quantity <= 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "quantity must be positive")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		reference = "purchase:" + uuid.NewString()
	}
	t := &models.Transaction{
		UserID:      userID,
		AmountCents: int64(quantity) * r.prices.ConnectionPriceCents(ctx),
		Type:        domain.TxTypeDebit,
		Status:      domain.TxStatusPending,
		Kind:        domain.TxKindConnectionPurchase,
		Reference:   &reference,
		Metadata:    metadataJSON(txMetadata{Quantity: quantity}),
	}
	return r.reconcile(ctx, t)
}

// RecordTicketSpent writes the zero-amount audit entry for a ticket spent on
// an accepted request.
func (r *Reconciler) RecordTicketSpent(ctx context.Context, userID, partnerID uint) error {
	ref := "ticket:" + uuid.NewString()
	now := r.now()
	return r.txs.Create(ctx, &models.Transaction{
		UserID:      userID,
		Type:        domain.TxTypeDebit,
		Status:      domain.TxStatusCompleted,
		Kind:        domain.TxKindTicketSpent,
		Reference:   &ref,
		Metadata:    metadataJSON(txMetadata{PartnerID: partnerID}),
		CompletedAt: &now,
	})
}

func (r *Reconciler) Transactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	return r.txs.ListByUserID(ctx, userID, limit, offset)
}

// reconcile collapses concurrent calls for one reference in this process;
// the unique reference and the per-user applied marker cover the rest.
func (r *Reconciler) reconcile(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	v, err, shared := r.group.Do(t.Ref(), func() (interface{}, error) {
		return r.insertAndApply(ctx, t)
	})
	if shared {
		log.Printf("[RECONCILE] %s: joined in-flight reconcile", t.Ref())
	}
	if err != nil {
		reconcileTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	stored := v.(*models.Transaction)
	// A joined call may carry the same reference for a different user.
	if stored.UserID != t.UserID {
		return nil, domain.ErrReferenceUsed
	}
	return stored, nil
}

func (r *Reconciler) insertAndApply(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	stored, created, err := r.txs.InsertIfAbsent(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("insert transaction %s: %w", t.Ref(), err)
	}
	if !created && (stored.UserID != t.UserID || stored.Kind != t.Kind) {
		reconcileTotal.WithLabelValues("foreign_reference").Inc()
		log.Printf("[RECONCILE] %s: owned by user %d, refused for user %d", stored.Ref(), stored.UserID, t.UserID)
		return nil, domain.ErrReferenceUsed
	}
	if !created && stored.Status == domain.TxStatusCompleted {
		reconcileTotal.WithLabelValues("replay").Inc()
		return stored, nil
	}

	applied, err := r.apply(ctx, stored)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if err := r.txs.MarkCompleted(ctx, stored.ID, now); err != nil {
		return nil, fmt.Errorf("complete transaction %s: %w", stored.Ref(), err)
	}
	stored.Status = domain.TxStatusCompleted
	stored.CompletedAt = &now

	if !applied {
		reconcileTotal.WithLabelValues("replay").Inc()
		return stored, nil
	}
	reconcileTotal.WithLabelValues("applied").Inc()
	log.Printf("[RECONCILE] %s applied for user %d (%s %d)", stored.Ref(), stored.UserID, stored.Kind, stored.AmountCents)
	r.notifier.Publish(ctx, Event{
		Type:      domain.EventPaymentConfirmed,
		Recipient: stored.UserID,
		Title:     "Payment confirmed",
		Body:      confirmationBody(stored),
		Data: map[string]interface{}{
			"reference":    stored.Ref(),
			"amount_cents": stored.AmountCents,
			"kind":         stored.Kind,
		},
	})
	return stored, nil
}

// apply performs the balance effect unless the user already carries the
// reference marker. It reports whether anything changed.
func (r *Reconciler) apply(ctx context.Context, t *models.Transaction) (bool, error) {
	ref := t.Ref()
	applied := false
	err := r.mut.Apply(ctx, "reconcile", []uint{t.UserID}, func(users map[uint]*models.User) error {
		applied = false
		u := users[t.UserID]
		if ref != "" && u.HasApplied(ref) {
			return nil
		}
		switch t.Kind {
		case domain.TxKindConnectionPurchase:
			var meta txMetadata
			_ = json.Unmarshal([]byte(t.Metadata), &meta)
			if err := r.ledger.Credit(u, meta.Quantity); err != nil {
				return err
			}
			if u.BalanceCents < t.AmountCents {
				return domain.ErrInsufficientBalance
			}
			u.BalanceCents -= t.AmountCents
		default:
			u.BalanceCents += t.AmountCents
		}
		if ref != "" {
			u.AppliedReferences = append(u.AppliedReferences, ref)
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *Reconciler) resolvePayer(ctx context.Context, p PaymentPayload) (*models.User, error) {
	users := r.mut.Users()
	if p.PayerID != 0 {
		return getUser(ctx, users, p.PayerID)
	}
	if p.PayerEmail == "" {
		return nil, domain.NewError(domain.CodeInvalidInput, "payer_email or payer_id is required")
	}
	u, err := users.GetByEmail(ctx, strings.TrimSpace(p.PayerEmail))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	return u, err
}

func confirmationBody(t *models.Transaction) string {
	if t.Kind == domain.TxKindConnectionPurchase {
		var meta txMetadata
		_ = json.Unmarshal([]byte(t.Metadata), &meta)
		return fmt.Sprintf("%d connection ticket(s) added", meta.Quantity)
	}
	return fmt.Sprintf("Your wallet was credited %d.%02d", t.AmountCents/100, t.AmountCents%100)
}

func metadataJSON(m txMetadata) string {
	b, _ := json.Marshal(m)
	return string(b)
}
