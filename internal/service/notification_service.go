package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"spark/internal/models"
	"spark/internal/repository"

	"golang.org/x/sync/errgroup"
)

// Event is one outcome addressed to one user.
type Event struct {
	Type      string
	Recipient uint
	Sender    uint
	Title     string
	Body      string
	Data      map[string]interface{}
}

// RealtimeSender delivers a payload to a user's live sessions, if any.
type RealtimeSender interface {
	BroadcastToUser(userID uint, payload interface{})
}

// Notifier fans events out to the affected users. Delivery failures are
// logged and never returned.
type Notifier interface {
	Publish(ctx context.Context, events ...Event)
	PublishRealtime(events ...Event)
}

// NotificationService sends each event over the live channel and, separately,
// as a stored notification plus a push message.
type NotificationService struct {
	repo        repository.NotificationStore
	users       repository.UserStore
	hub         RealtimeSender
	push        Pusher
	pushTimeout time.Duration
}

func NewNotificationService(repo repository.NotificationStore, users repository.UserStore, hub RealtimeSender, push Pusher, pushTimeout time.Duration) *NotificationService {
	if pushTimeout <= 0 {
		pushTimeout = 5 * time.Second
	}
	return &NotificationService{repo: repo, users: users, hub: hub, push: push, pushTimeout: pushTimeout}
}

// Publish delivers every event on both channels, recipients in parallel.
// Callers must not hold user locks.
func (s *NotificationService) Publish(ctx context.Context, events ...Event) {
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			s.realtime(ev)
			s.durable(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()
}

// PublishRealtime delivers over the live channel only.
func (s *NotificationService) PublishRealtime(events ...Event) {
	for _, ev := range events {
		s.realtime(ev)
	}
}

func (s *NotificationService) realtime(ev Event) {
	if s.hub == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			fanoutFailures.WithLabelValues("realtime").Inc()
			log.Printf("[FANOUT] realtime delivery to %d panicked: %v", ev.Recipient, r)
		}
	}()
	s.hub.BroadcastToUser(ev.Recipient, map[string]interface{}{
		"type":    ev.Type,
		"from":    ev.Sender,
		"title":   ev.Title,
		"body":    ev.Body,
		"data":    ev.Data,
		"sent_at": time.Now().UTC(),
	})
}

func (s *NotificationService) durable(ctx context.Context, ev Event) {
	var dataJSON string
	if ev.Data != nil {
		b, _ := json.Marshal(ev.Data)
		dataJSON = string(b)
	}
	n := &models.Notification{
		UserID: ev.Recipient,
		Type:   ev.Type,
		Title:  ev.Title,
		Body:   ev.Body,
		Data:   dataJSON,
	}
	if ev.Sender != 0 {
		sender := ev.Sender
		n.SenderID = &sender
	}
	if err := s.repo.Create(ctx, n); err != nil {
		fanoutFailures.WithLabelValues("notification").Inc()
		log.Printf("[FANOUT] store notification %s for %d: %v", ev.Type, ev.Recipient, err)
	}
	// The push is attempted even when the record could not be stored.
	if s.sendPush(ctx, ev) && n.ID != 0 {
		if err := s.repo.MarkPushSent(ctx, n.ID); err != nil {
			log.Printf("[FANOUT] mark push sent %d: %v", n.ID, err)
		}
	}
}

func (s *NotificationService) sendPush(ctx context.Context, ev Event) bool {
	if s.push == nil || s.users == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()
	u, err := s.users.Get(ctx, ev.Recipient)
	if err != nil || u.FCMToken == "" {
		return false
	}
	delivered, err := s.push.Send(ctx, u.FCMToken, ev.Title, ev.Body, pushData(ev.Type, ev.Data))
	if err != nil {
		fanoutFailures.WithLabelValues("push").Inc()
		log.Printf("[FANOUT] push %s to %d: %v", ev.Type, ev.Recipient, err)
		return false
	}
	return delivered
}
