package service

import (
	"spark/config"
	"spark/internal/lock"
	"spark/internal/repository"
)

// Engine wires the relationship services over one set of stores.
type Engine struct {
	Mutator    *Mutator
	Ledger     *TicketLedger
	Notifier   *NotificationService
	Likes      *LikeService
	Conns      *ConnectionService
	Reconciler *Reconciler
	Pricing    *Pricing
	Sweeper    *Sweeper
}

// NewEngine builds the services. settings, hub and push may be nil.
func NewEngine(cfg *config.Config, users repository.UserStore, txs repository.TransactionStore, notes repository.NotificationStore, settings repository.SettingStore, hub RealtimeSender, push Pusher) *Engine {
	rc := cfg.Relationship
	mut := NewMutator(users, lock.NewKeyed(), rc.ConflictRetries)
	ledger := NewTicketLedger(rc.MaxTickets)
	notifier := NewNotificationService(notes, users, hub, push, cfg.Realtime.PushTimeout)
	likes := NewLikeService(mut, notifier)
	pricing := NewPricing(settings, cfg.Payment.ConnectionPriceCents)
	rec := NewReconciler(txs, mut, ledger, notifier, pricing)
	conns := NewConnectionService(mut, ledger, notifier, rec, rc.RequestTTL)
	return &Engine{
		Mutator:    mut,
		Ledger:     ledger,
		Notifier:   notifier,
		Likes:      likes,
		Conns:      conns,
		Reconciler: rec,
		Pricing:    pricing,
		Sweeper:    NewSweeper(mut, likes, conns, rc.SweepWorkers, rc.SweepInterval, rc.ExpirySweepEnabled),
	}
}
