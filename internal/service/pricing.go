package service

import (
	"context"
	"errors"
	"log"
	"strconv"

	"spark/internal/domain"
	"spark/internal/repository"
)

// PriceSource reports the current price of one connection ticket.
type PriceSource interface {
	ConnectionPriceCents(ctx context.Context) int64
}

// FixedPrice is a PriceSource that never changes.
type FixedPrice int64

func (p FixedPrice) ConnectionPriceCents(context.Context) int64 { return int64(p) }

// Pricing reads the ticket price from the settings table and falls back to
// the configured price when no override is stored.
type Pricing struct {
	settings repository.SettingStore
	fallback int64
}

func NewPricing(settings repository.SettingStore, fallback int64) *Pricing {
	return &Pricing{settings: settings, fallback: fallback}
}

func (p *Pricing) ConnectionPriceCents(ctx context.Context) int64 {
	if p.settings == nil {
		return p.fallback
	}
	v, err := p.settings.Get(ctx, domain.SettingConnectionPrice)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("[PRICING] read %s: %v", domain.SettingConnectionPrice, err)
		}
		return p.fallback
	}
	cents, err := strconv.ParseInt(v, 10, 64)
	if err != nil || cents <= 0 {
		log.Printf("[PRICING] ignoring invalid %s %q", domain.SettingConnectionPrice, v)
		return p.fallback
	}
	return cents
}

// SetConnectionPrice stores a new ticket price. Purchases already recorded
// keep the amount they were charged.
func (p *Pricing) SetConnectionPrice(ctx context.Context, cents int64) error {
	if cents <= 0 {
		return domain.NewError(domain.CodeInvalidInput, "price must be positive")
	}
	if p.settings == nil {
		return errors.New("settings store not configured")
	}
	return p.settings.Set(ctx, domain.SettingConnectionPrice, strconv.FormatInt(cents, 10))
}

// Settings lists the stored settings with the effective ticket price filled in.
func (p *Pricing) Settings(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	if p.settings != nil {
		list, err := p.settings.All(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range list {
			out[s.Key] = s.Value
		}
	}
	out[domain.SettingConnectionPrice] = strconv.FormatInt(p.ConnectionPriceCents(ctx), 10)
	return out, nil
}
