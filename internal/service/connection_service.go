package service

import (
	"context"
	"errors"
	"log"
	"time"

	"spark/internal/domain"
	"spark/internal/models"
)

// TicketRecorder records the ledger entry for a ticket spent on acceptance.
type TicketRecorder interface {
	RecordTicketSpent(ctx context.Context, userID, partnerID uint) error
}

// ConnectionService is the connection request state machine. Every
// transition rewrites both users of the pair in one guarded write.
type ConnectionService struct {
	mut      *Mutator
	ledger   *TicketLedger
	notifier Notifier
	tickets  TicketRecorder
	ttl      time.Duration
	now      func() time.Time
}

func NewConnectionService(mut *Mutator, ledger *TicketLedger, notifier Notifier, tickets TicketRecorder, ttl time.Duration) *ConnectionService {
	if ttl <= 0 {
		ttl = domain.RequestTTL
	}
	return &ConnectionService{
		mut:      mut,
		ledger:   ledger,
		notifier: notifier,
		tickets:  tickets,
		ttl:      ttl,
		now:      time.Now,
	}
}

// errLockSetStale means the users locked for a write no longer cover every
// record the transition has to touch.
var errLockSetStale = errors.New("lock set stale")

// PendingRequest describes an outgoing request.
type PendingRequest struct {
	TargetID  uint      `json:"target_id"`
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *ConnectionService) Request(ctx context.Context, requesterID, targetID uint) (*PendingRequest, error) {
	if requesterID == targetID {
		return nil, domain.ErrSelfTarget
	}
	var (
		sentAt    time.Time
		duplicate bool
		name      string
	)
	err := s.mut.Apply(ctx, "request", []uint{requesterID, targetID}, func(users map[uint]*models.User) error {
		r, t := users[requesterID], users[targetID]
		duplicate = false
		if r.Blocks(t) {
			return domain.ErrBlocked
		}
		if r.Requests.Has(targetID) && t.Requesters.Has(requesterID) {
			sentAt, _ = r.RequestSentAt(targetID)
			duplicate = true
			return nil
		}
		if r.Connections.Len() > 0 {
			return domain.ErrAlreadyConnected
		}
		if r.Requests.Len() > 0 {
			return domain.ErrRequestPending
		}
		if err := s.ledger.Reserve(r); err != nil {
			return err
		}
		sentAt = s.now().UTC()
		r.Requests.Add(targetID)
		t.Requesters.Add(requesterID)
		r.SetRequestTimestamp(targetID, sentAt)
		name = displayName(r)
		return nil
	})
	transitionTotal.WithLabelValues("request", outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	if !duplicate {
		s.notifier.Publish(ctx, Event{
			Type:      domain.EventConnectionRequest,
			Recipient: targetID,
			Sender:    requesterID,
			Title:     "New connection request",
			Body:      name + " wants to connect with you",
			Data:      map[string]interface{}{"user_id": requesterID, "sent_at": sentAt},
		})
	}
	return &PendingRequest{TargetID: targetID, SentAt: sentAt, ExpiresAt: sentAt.Add(s.ttl)}, nil
}

// Accept connects accepter and requester and spends the requester's ticket.
// Any request the accepter still has outstanding is withdrawn in the same write.
func (s *ConnectionService) Accept(ctx context.Context, accepterID, requesterID uint) error {
	if accepterID == requesterID {
		return domain.ErrSelfTarget
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.accept(ctx, accepterID, requesterID)
		if !errors.Is(err, errLockSetStale) {
			break
		}
	}
	if errors.Is(err, errLockSetStale) {
		err = domain.ErrConflict
	}
	transitionTotal.WithLabelValues("accept", outcome(err)).Inc()
	return err
}

func (s *ConnectionService) accept(ctx context.Context, accepterID, requesterID uint) error {
	acc, err := getUser(ctx, s.mut.Users(), accepterID)
	if err != nil {
		return err
	}
	ids := append([]uint{accepterID, requesterID}, acc.Requests...)

	var (
		already        bool
		withdrawn      []uint
		accName, rName string
	)
	err = s.mut.Apply(ctx, "accept", ids, func(users map[uint]*models.User) error {
		already, withdrawn = false, nil
		a, r := users[accepterID], users[requesterID]
		if a.Connections.Has(requesterID) && r.Connections.Has(accepterID) {
			already = true
			return nil
		}
		if !a.Requesters.Has(requesterID) || !r.Requests.Has(accepterID) {
			return domain.ErrNoPendingRequest
		}
		if a.Blocks(r) {
			return domain.ErrBlocked
		}
		if a.Connections.Len() > 0 {
			return domain.ErrAlreadyConnected
		}
		if r.Connections.Len() > 0 {
			return domain.NewError(domain.CodeAlreadyConnected, "this user already has an active connection")
		}
		for _, t := range a.Requests.Clone() {
			other, ok := users[t]
			if !ok {
				return errLockSetStale
			}
			a.Requests.Remove(t)
			a.ClearRequestTimestamp(t)
			other.Requesters.Remove(accepterID)
			if t != requesterID {
				withdrawn = append(withdrawn, t)
			}
		}

		a.Requesters.Remove(requesterID)
		r.Requests.Remove(accepterID)
		r.ClearRequestTimestamp(accepterID)
		a.Connections.Add(requesterID)
		r.Connections.Add(accepterID)
		a.PastConnections.Remove(requesterID)
		r.PastConnections.Remove(accepterID)
		s.ledger.Spend(r)
		accName, rName = displayName(a), displayName(r)
		return nil
	})
	if err != nil || already {
		return err
	}

	if s.tickets != nil {
		if err := s.tickets.RecordTicketSpent(ctx, requesterID, accepterID); err != nil {
			log.Printf("[CONNECT] record ticket spent for %d: %v", requesterID, err)
		}
	}
	events := []Event{
		{
			Type:      domain.EventRequestAccepted,
			Recipient: requesterID,
			Sender:    accepterID,
			Title:     "Request accepted",
			Body:      accName + " accepted your connection request",
			Data:      map[string]interface{}{"user_id": accepterID},
		},
		{
			Type:      domain.EventConnectionEstablished,
			Recipient: accepterID,
			Sender:    requesterID,
			Title:     "Connection established",
			Body:      "You are now connected with " + rName,
			Data:      map[string]interface{}{"user_id": requesterID},
		},
	}
	for _, t := range withdrawn {
		events = append(events, Event{
			Type:      domain.EventRequestWithdrawn,
			Recipient: t,
			Sender:    accepterID,
			Title:     "Request withdrawn",
			Body:      accName + " withdrew their connection request",
			Data:      map[string]interface{}{"user_id": accepterID},
		})
	}
	s.notifier.Publish(ctx, events...)
	return nil
}

func (s *ConnectionService) Reject(ctx context.Context, rejecterID, requesterID uint) error {
	if rejecterID == requesterID {
		return domain.ErrSelfTarget
	}
	var name string
	err := s.mut.Apply(ctx, "reject", []uint{rejecterID, requesterID}, func(users map[uint]*models.User) error {
		me, r := users[rejecterID], users[requesterID]
		if !me.Requesters.Has(requesterID) && !r.Requests.Has(rejecterID) {
			return domain.ErrNoPendingRequest
		}
		clearRequest(r, me)
		name = displayName(me)
		return nil
	})
	transitionTotal.WithLabelValues("reject", outcome(err)).Inc()
	if err != nil {
		return err
	}
	s.notifier.Publish(ctx, Event{
		Type:      domain.EventRequestRejected,
		Recipient: requesterID,
		Sender:    rejecterID,
		Title:     "Request declined",
		Body:      name + " declined your connection request",
		Data:      map[string]interface{}{"user_id": rejecterID},
	})
	return nil
}

// Cancel ends an active connection; both users keep it as a past connection.
func (s *ConnectionService) Cancel(ctx context.Context, initiatorID, otherID uint) error {
	if initiatorID == otherID {
		return domain.ErrSelfTarget
	}
	var (
		already bool
		name    string
	)
	err := s.mut.Apply(ctx, "cancel", []uint{initiatorID, otherID}, func(users map[uint]*models.User) error {
		me, o := users[initiatorID], users[otherID]
		already = false
		if !me.Connections.Has(otherID) && !o.Connections.Has(initiatorID) {
			if me.PastConnections.Has(otherID) {
				already = true
				return nil
			}
			return domain.ErrNotConnected
		}
		me.Connections.Remove(otherID)
		o.Connections.Remove(initiatorID)
		me.PastConnections.Add(otherID)
		o.PastConnections.Add(initiatorID)
		name = displayName(me)
		return nil
	})
	transitionTotal.WithLabelValues("cancel", outcome(err)).Inc()
	if err != nil || already {
		return err
	}
	s.notifier.Publish(ctx,
		Event{
			Type:      domain.EventConnectionCancelled,
			Recipient: otherID,
			Sender:    initiatorID,
			Title:     "Connection ended",
			Body:      name + " ended your connection",
			Data:      map[string]interface{}{"user_id": initiatorID},
		},
		Event{
			Type:      domain.EventConnectionCancelled,
			Recipient: initiatorID,
			Sender:    otherID,
			Title:     "Connection ended",
			Body:      "Your connection has ended",
			Data:      map[string]interface{}{"user_id": otherID},
		},
	)
	return nil
}

// Expire drops a pending request once its TTL has passed, measured from the
// stored send time. The requester's reserved ticket is not refunded.
func (s *ConnectionService) Expire(ctx context.Context, ownerID, targetID uint) error {
	err := s.expire(ctx, ownerID, targetID)
	transitionTotal.WithLabelValues("expire", outcome(err)).Inc()
	return err
}

func (s *ConnectionService) expire(ctx context.Context, ownerID, targetID uint) error {
	if ownerID == targetID {
		return domain.ErrSelfTarget
	}
	now := s.now()
	err := s.mut.Apply(ctx, "expire", []uint{ownerID, targetID}, func(users map[uint]*models.User) error {
		o, t := users[ownerID], users[targetID]
		if !o.Requests.Has(targetID) && !t.Requesters.Has(ownerID) {
			return domain.ErrNoPendingRequest
		}
		// A request without a timestamp is treated as expired.
		if sentAt, ok := o.RequestSentAt(targetID); ok && now.Sub(sentAt) <= s.ttl {
			return domain.ErrNotExpired
		}
		clearRequest(o, t)
		return nil
	})
	if err != nil {
		return err
	}
	ev := func(to, other uint, body string) Event {
		return Event{
			Type:      domain.EventRequestExpired,
			Recipient: to,
			Sender:    other,
			Title:     "Request expired",
			Body:      body,
			Data:      map[string]interface{}{"user_id": other},
		}
	}
	s.notifier.Publish(ctx,
		ev(ownerID, targetID, "Your connection request expired"),
		ev(targetID, ownerID, "A connection request to you expired"),
	)
	return nil
}

// Block ends any connection or pending request between the pair and adds
// blocked to the blocker's block list.
func (s *ConnectionService) Block(ctx context.Context, blockerID, blockedID uint) error {
	if blockerID == blockedID {
		return domain.ErrSelfTarget
	}
	var (
		changed bool
		name    string
	)
	err := s.mut.Apply(ctx, "block", []uint{blockerID, blockedID}, func(users map[uint]*models.User) error {
		me, o := users[blockerID], users[blockedID]
		changed = me.BlockedUsers.Add(blockedID)
		if me.Connections.Remove(blockedID) {
			changed = true
		}
		if o.Connections.Remove(blockerID) {
			changed = true
		}
		if me.Requests.Has(blockedID) || o.Requesters.Has(blockerID) {
			clearRequest(me, o)
			changed = true
		}
		if o.Requests.Has(blockerID) || me.Requesters.Has(blockedID) {
			clearRequest(o, me)
			changed = true
		}
		name = displayName(o)
		return nil
	})
	transitionTotal.WithLabelValues("block", outcome(err)).Inc()
	if err != nil || !changed {
		return err
	}
	s.notifier.Publish(ctx,
		Event{
			Type:      domain.EventBlockedUser,
			Recipient: blockerID,
			Sender:    blockedID,
			Title:     "User blocked",
			Body:      "You blocked " + name,
			Data:      map[string]interface{}{"user_id": blockedID},
		},
		Event{
			Type:      domain.EventBlocked,
			Recipient: blockedID,
			Title:     "Connection ended",
			Body:      "A connection is no longer available",
		},
	)
	return nil
}

func (s *ConnectionService) Unblock(ctx context.Context, blockerID, blockedID uint) error {
	if blockerID == blockedID {
		return domain.ErrSelfTarget
	}
	err := s.mut.Apply(ctx, "unblock", []uint{blockerID}, func(users map[uint]*models.User) error {
		users[blockerID].BlockedUsers.Remove(blockedID)
		return nil
	})
	transitionTotal.WithLabelValues("unblock", outcome(err)).Inc()
	return err
}

// UserSummary is the public view of another user.
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Requester is an incoming request with its deadline.
type Requester struct {
	UserSummary
	SentAt    *time.Time `json:"sent_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *ConnectionService) Requesters(ctx context.Context, userID uint) ([]Requester, error) {
	u, err := getUser(ctx, s.mut.Users(), userID)
	if err != nil {
		return nil, err
	}
	list, err := s.mut.Users().GetMany(ctx, u.Requesters)
	if err != nil {
		return nil, err
	}
	out := make([]Requester, 0, len(list))
	for i := range list {
		r := Requester{UserSummary: summary(&list[i])}
		if sentAt, ok := list[i].RequestSentAt(userID); ok {
			exp := sentAt.Add(s.ttl)
			r.SentAt, r.ExpiresAt = &sentAt, &exp
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *ConnectionService) Connections(ctx context.Context, userID uint) ([]UserSummary, error) {
	u, err := getUser(ctx, s.mut.Users(), userID)
	if err != nil {
		return nil, err
	}
	return s.summaries(ctx, u.Connections)
}

func (s *ConnectionService) CanSendRequest(ctx context.Context, userID uint) (TicketStatus, error) {
	u, err := getUser(ctx, s.mut.Users(), userID)
	if err != nil {
		return TicketStatus{}, err
	}
	return s.ledger.Status(u), nil
}

// Relationships is the caller's full relationship aspect.
type Relationships struct {
	Likes           models.IDSet     `json:"likes"`
	Likers          models.IDSet     `json:"likers"`
	Matches         models.IDSet     `json:"matches"`
	Requesters      models.IDSet     `json:"requesters"`
	Requests        []PendingRequest `json:"requests"`
	Connections     models.IDSet     `json:"connections"`
	PastConnections models.IDSet     `json:"past_connections"`
	BlockedUsers    models.IDSet     `json:"blocked_users"`
	Tickets         TicketStatus     `json:"tickets"`
	BalanceCents    int64            `json:"balance_cents"`
}

func (s *ConnectionService) Relationships(ctx context.Context, userID uint) (*Relationships, error) {
	u, err := getUser(ctx, s.mut.Users(), userID)
	if err != nil {
		return nil, err
	}
	out := &Relationships{
		Likes:           orEmpty(u.Likes),
		Likers:          orEmpty(u.Likers),
		Matches:         orEmpty(u.Matches),
		Requesters:      orEmpty(u.Requesters),
		Requests:        []PendingRequest{},
		Connections:     orEmpty(u.Connections),
		PastConnections: orEmpty(u.PastConnections),
		BlockedUsers:    orEmpty(u.BlockedUsers),
		Tickets:         s.ledger.Status(u),
		BalanceCents:    u.BalanceCents,
	}
	for _, t := range u.Requests {
		p := PendingRequest{TargetID: t}
		if sentAt, ok := u.RequestSentAt(t); ok {
			p.SentAt, p.ExpiresAt = sentAt, sentAt.Add(s.ttl)
		}
		out.Requests = append(out.Requests, p)
	}
	return out, nil
}

// orEmpty keeps empty sets rendering as [] rather than null.
func orEmpty(s models.IDSet) models.IDSet {
	if s == nil {
		return models.IDSet{}
	}
	return s
}

// expiredRequests lists the targets of u's requests that are past their TTL.
func (s *ConnectionService) expiredRequests(u *models.User, now time.Time) []uint {
	var out []uint
	for _, t := range u.Requests {
		sentAt, ok := u.RequestSentAt(t)
		if !ok || now.Sub(sentAt) > s.ttl {
			out = append(out, t)
		}
	}
	return out
}

func (s *ConnectionService) summaries(ctx context.Context, ids models.IDSet) ([]UserSummary, error) {
	list, err := s.mut.Users().GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]UserSummary, 0, len(list))
	for i := range list {
		out = append(out, summary(&list[i]))
	}
	return out, nil
}

// clearRequest removes the pending request owner -> target from both records.
func clearRequest(owner, target *models.User) {
	owner.Requests.Remove(target.ID)
	owner.ClearRequestTimestamp(target.ID)
	target.Requesters.Remove(owner.ID)
}

func summary(u *models.User) UserSummary {
	return UserSummary{ID: u.ID, Username: displayName(u)}
}

func displayName(u *models.User) string {
	if u.Username != "" {
		return u.Username
	}
	return "Someone"
}
