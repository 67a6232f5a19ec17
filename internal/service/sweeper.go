package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"spark/internal/domain"
	"spark/internal/models"

	"golang.org/x/sync/errgroup"
)

const sweepPageSize = 200

// Sweeper repairs likes/likers asymmetry left behind by partial failures and
// expires pending requests whose TTL has passed.
type Sweeper struct {
	mut      *Mutator
	likes    *LikeService
	conns    *ConnectionService
	workers  int
	interval time.Duration
	expiry   bool
	now      func() time.Time
}

func NewSweeper(mut *Mutator, likes *LikeService, conns *ConnectionService, workers int, interval time.Duration, expiry bool) *Sweeper {
	if workers < 1 {
		workers = 1
	}
	return &Sweeper{
		mut:      mut,
		likes:    likes,
		conns:    conns,
		workers:  workers,
		interval: interval,
		expiry:   expiry,
		now:      time.Now,
	}
}

// SweepReport counts what a sweep changed.
type SweepReport struct {
	Users         int `json:"users"`
	StaleLikers   int `json:"stale_likers"`
	MissingLikers int `json:"missing_likers"`
	Matches       int `json:"matches"`
	Expired       int `json:"expired"`
}

func (r *SweepReport) add(o SweepReport) {
	r.Users += o.Users
	r.StaleLikers += o.StaleLikers
	r.MissingLikers += o.MissingLikers
	r.Matches += o.Matches
	r.Expired += o.Expired
}

// Repair fixes one user's likers list in both directions: likers that no
// longer like the user are dropped, and users the user likes get the user
// added to their likers (raising a missed match if it is mutual).
func (s *Sweeper) Repair(ctx context.Context, userID uint) (SweepReport, error) {
	rep := SweepReport{Users: 1}
	users := s.mut.Users()
	u, err := getUser(ctx, users, userID)
	if err != nil {
		return rep, err
	}

	likers, err := users.GetMany(ctx, u.Likers)
	if err != nil {
		return rep, err
	}
	existing := make(map[uint]*models.User, len(likers))
	for i := range likers {
		existing[likers[i].ID] = &likers[i]
	}
	for _, l := range u.Likers.Clone() {
		lu, ok := existing[l]
		if ok && lu.Likes.Has(userID) {
			continue
		}
		removed, err := s.dropLiker(ctx, userID, l, ok)
		if err != nil {
			return rep, err
		}
		if removed {
			rep.StaleLikers++
			sweepRepairs.WithLabelValues("stale").Inc()
		}
	}

	targets, err := users.GetMany(ctx, u.Likes)
	if err != nil {
		return rep, err
	}
	for i := range targets {
		t := &targets[i]
		if t.Likers.Has(userID) && (!t.Likes.Has(userID) || u.Matches.Has(t.ID)) {
			continue
		}
		added, matched, err := s.likes.link(ctx, userID, t.ID)
		if err != nil {
			return rep, err
		}
		if added {
			rep.MissingLikers++
			sweepRepairs.WithLabelValues("missing").Inc()
		}
		if matched {
			rep.Matches++
			s.likes.notifier.Publish(ctx, matchEvents(userID, t.ID)...)
		}
	}
	if rep.StaleLikers+rep.MissingLikers+rep.Matches > 0 {
		log.Printf("[SWEEP] user %d: removed %d stale likers, added %d missing, %d matches", userID, rep.StaleLikers, rep.MissingLikers, rep.Matches)
	}
	return rep, nil
}

// dropLiker removes liker from userID's likers after rechecking under the
// pair lock. A deleted liker is removed without locking it.
func (s *Sweeper) dropLiker(ctx context.Context, userID, liker uint, likerExists bool) (bool, error) {
	ids := []uint{userID}
	if likerExists {
		ids = append(ids, liker)
	}
	removed := false
	err := s.mut.Apply(ctx, "sweep_likers", ids, func(users map[uint]*models.User) error {
		removed = false
		if l, ok := users[liker]; ok && l.Likes.Has(userID) {
			return nil
		}
		removed = users[userID].Likers.Remove(liker)
		return nil
	})
	if errors.Is(err, domain.ErrUserNotFound) && likerExists {
		// The liker went away between the read and the write.
		return s.dropLiker(ctx, userID, liker, false)
	}
	return removed, err
}

// RepairAll runs Repair across every user with a bounded worker pool.
// Failures on single users are logged and do not stop the sweep.
func (s *Sweeper) RepairAll(ctx context.Context) (SweepReport, error) {
	var (
		mu    sync.Mutex
		total SweepReport
	)
	err := s.eachPage(ctx, func(ids []uint) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				rep, err := s.Repair(gctx, id)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Printf("[SWEEP] repair user %d: %v", id, err)
				}
				mu.Lock()
				total.add(rep)
				mu.Unlock()
				return nil
			})
		}
		return g.Wait()
	})
	return total, err
}

// ExpireStale expires every pending request older than the request TTL.
// The effects are those of Expire, including no refund.
func (s *Sweeper) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0
	err := s.eachPage(ctx, func(ids []uint) error {
		list, err := s.mut.Users().GetMany(ctx, ids)
		if err != nil {
			return err
		}
		for i := range list {
			for _, t := range s.conns.expiredRequests(&list[i], now) {
				err := s.conns.Expire(ctx, list[i].ID, t)
				switch {
				case err == nil:
					expired++
					sweepExpired.Inc()
				case domain.IsCode(err, domain.CodeNotExpired), domain.IsCode(err, domain.CodeNoPendingRequest):
				default:
					log.Printf("[SWEEP] expire %d -> %d: %v", list[i].ID, t, err)
				}
			}
		}
		return ctx.Err()
	})
	return expired, err
}

// Sweep runs one full pass: likers repair, then stale-request expiry when enabled.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	rep, err := s.RepairAll(ctx)
	if err != nil {
		return rep, err
	}
	if s.expiry {
		n, err := s.ExpireStale(ctx)
		rep.Expired = n
		if err != nil {
			return rep, err
		}
	}
	log.Printf("[SWEEP] pass done in %s: users=%d stale=%d missing=%d matches=%d expired=%d",
		time.Since(start).Round(time.Millisecond), rep.Users, rep.StaleLikers, rep.MissingLikers, rep.Matches, rep.Expired)
	return rep, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		log.Printf("[SWEEP] background sweep disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[SWEEP] pass failed: %v", err)
			}
		}
	}
}

func (s *Sweeper) eachPage(ctx context.Context, fn func(ids []uint) error) error {
	var after uint
	for {
		ids, err := s.mut.Users().ListIDs(ctx, after, sweepPageSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := fn(ids); err != nil {
			return err
		}
		after = ids[len(ids)-1]
	}
}
