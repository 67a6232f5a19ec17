package service

import (
	"context"
	"fmt"
	"log"

	"spark/internal/domain"
	"spark/internal/models"
)

// LikeService applies like/dislike state and detects mutual likes.
type LikeService struct {
	mut      *Mutator
	notifier Notifier
}

func NewLikeService(mut *Mutator, notifier Notifier) *LikeService {
	return &LikeService{mut: mut, notifier: notifier}
}

// LikeResult summarises a SetLikes call.
type LikeResult struct {
	Likes   models.IDSet `json:"likes"`
	Added   []uint       `json:"added"`
	Removed []uint       `json:"removed"`
	Matches []uint       `json:"matches"`
}

// SetLikes replaces the caller's likes and dislikes with the given end state.
// The caller's own record is written first; the inverse likers lists on the
// other users are updated one pair at a time and left for the Sweeper when an
// update fails.
func (s *LikeService) SetLikes(ctx context.Context, userID uint, likes, dislikes []uint) (*LikeResult, error) {
	newLikes := models.NewIDSet(likes)
	newDislikes := models.NewIDSet(dislikes)
	if newLikes.Has(userID) || newDislikes.Has(userID) {
		return nil, domain.ErrSelfTarget
	}
	for _, id := range newLikes {
		if id == 0 {
			return nil, domain.NewError(domain.CodeInvalidInput, "invalid user id")
		}
		if newDislikes.Has(id) {
			return nil, domain.NewError(domain.CodeInvalidInput, fmt.Sprintf("user %d is both liked and disliked", id))
		}
	}

	var oldLikes models.IDSet
	err := s.mut.Apply(ctx, "set_likes", []uint{userID}, func(users map[uint]*models.User) error {
		u := users[userID]
		oldLikes = u.Likes.Clone()
		u.Likes = newLikes.Clone()
		u.Dislikes = newDislikes.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &LikeResult{
		Likes:   newLikes,
		Added:   newLikes.Minus(oldLikes),
		Removed: oldLikes.Minus(newLikes),
	}

	var events []Event
	var realtime []Event
	for _, target := range res.Added {
		_, matched, err := s.link(ctx, userID, target)
		if err != nil {
			log.Printf("[LIKES] link %d -> %d: %v (left for sweeper)", userID, target, err)
			continue
		}
		if matched {
			res.Matches = append(res.Matches, target)
			events = append(events, matchEvents(userID, target)...)
			continue
		}
		realtime = append(realtime, Event{
			Type:      domain.EventNewLike,
			Recipient: target,
			Sender:    userID,
			Title:     "New like",
			Body:      "Someone liked your profile",
			Data:      map[string]interface{}{"user_id": userID},
		})
	}
	for _, target := range res.Removed {
		if err := s.unlink(ctx, userID, target); err != nil {
			log.Printf("[LIKES] unlink %d -> %d: %v (left for sweeper)", userID, target, err)
		}
	}

	s.notifier.PublishRealtime(realtime...)
	s.notifier.Publish(ctx, events...)
	return res, nil
}

// link records liker in liked's likers and raises a match when the like is
// mutual and the pair has not matched before. Both records are written
// together so concurrent reciprocal likes match exactly once. added reports
// whether liked's likers changed.
func (s *LikeService) link(ctx context.Context, liker, liked uint) (added, matched bool, err error) {
	err = s.mut.Apply(ctx, "link_like", []uint{liker, liked}, func(users map[uint]*models.User) error {
		added, matched = false, false
		me, other := users[liker], users[liked]
		if !me.Likes.Has(liked) {
			return nil
		}
		added = other.Likers.Add(liker)
		if other.Likes.Has(liker) && !me.Matches.Has(liked) {
			me.Matches.Add(liked)
			other.Matches.Add(liker)
			matched = true
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	if matched {
		matchesTotal.Inc()
	}
	return added, matched, nil
}

func (s *LikeService) unlink(ctx context.Context, liker, liked uint) error {
	return s.mut.Apply(ctx, "unlink_like", []uint{liker, liked}, func(users map[uint]*models.User) error {
		if users[liker].Likes.Has(liked) {
			return nil
		}
		users[liked].Likers.Remove(liker)
		return nil
	})
}

func matchEvents(a, b uint) []Event {
	ev := func(to, from uint) Event {
		return Event{
			Type:      domain.EventMatch,
			Recipient: to,
			Sender:    from,
			Title:     "It's a match!",
			Body:      "You both liked each other",
			Data:      map[string]interface{}{"user_id": from},
		}
	}
	return []Event{ev(a, b), ev(b, a)}
}
