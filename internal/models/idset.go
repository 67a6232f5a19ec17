package models

import "time"

// IDSet is an ordered set of user ids persisted as a JSON array.
type IDSet []uint

func (s IDSet) Has(id uint) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add appends id if absent and reports whether the set changed.
func (s *IDSet) Add(id uint) bool {
	if s.Has(id) {
		return false
	}
	*s = append(*s, id)
	return true
}

// Remove drops id and reports whether the set changed.
func (s *IDSet) Remove(id uint) bool {
	out := (*s)[:0]
	removed := false
	for _, v := range *s {
		if v == id {
			removed = true
			continue
		}
		out = append(out, v)
	}
	*s = out
	return removed
}

func (s IDSet) Len() int { return len(s) }

// Minus returns the ids in s that are not in other.
func (s IDSet) Minus(other IDSet) IDSet {
	var out IDSet
	for _, v := range s {
		if !other.Has(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s IDSet) Clone() IDSet {
	if s == nil {
		return nil
	}
	out := make(IDSet, len(s))
	copy(out, s)
	return out
}

// NewIDSet builds a set from ids, dropping duplicates and keeping first-seen order.
func NewIDSet(ids []uint) IDSet {
	out := make(IDSet, 0, len(ids))
	for _, id := range ids {
		out.Add(id)
	}
	return out
}

// RequestTimestamp records when an outgoing request to UserID was sent.
type RequestTimestamp struct {
	UserID uint      `json:"user_id"`
	SentAt time.Time `json:"sent_at"`
}
