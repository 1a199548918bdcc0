// Package notify keeps short lived notifications for autonomous device
// changes.
package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/raterudder/gridsync/pkg/types"
)

// DefaultTTL is how long a notification stays live.
const DefaultTTL = 5 * time.Second

// Queue is an ordered list of notifications that each expire on their own.
// It is not safe for concurrent use.
type Queue struct {
	ttl    time.Duration
	maxLen int
	items  []types.Notification
	newID  func() string
}

// New returns a Queue whose notifications live for ttl. When maxLen is
// positive the oldest notifications are dropped to stay within it.
func New(ttl time.Duration, maxLen int) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{
		ttl:    ttl,
		maxLen: maxLen,
		newID:  uuid.NewString,
	}
}

// Enqueue renders a notification for e created at now and appends it.
func (q *Queue) Enqueue(e types.AttributedEvent, now time.Time) types.Notification {
	n := types.Notification{
		ID:         q.newID(),
		DeviceID:   e.DeviceID,
		DeviceName: e.DeviceName,
		Direction:  e.Direction,
		Message:    e.Message(),
		CreatedAt:  now,
		TTL:        q.ttl,
	}
	q.items = append(q.items, n)
	if q.maxLen > 0 && len(q.items) > q.maxLen {
		q.items = append(q.items[:0:0], q.items[len(q.items)-q.maxLen:]...)
	}
	return n
}

// ClearExpired drops every notification whose ttl has passed at now and
// returns how many were dropped.
func (q *Queue) ClearExpired(now time.Time) int {
	kept := q.items[:0]
	for _, n := range q.items {
		if !n.Expired(now) {
			kept = append(kept, n)
		}
	}
	dropped := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return dropped
}

// Active returns the notifications live at now, oldest first.
func (q *Queue) Active(now time.Time) []types.Notification {
	out := make([]types.Notification, 0, len(q.items))
	for _, n := range q.items {
		if !n.Expired(now) {
			out = append(out, n)
		}
	}
	return out
}

// Current returns the newest notification live at now.
func (q *Queue) Current(now time.Time) (types.Notification, bool) {
	for i := len(q.items) - 1; i >= 0; i-- {
		if !q.items[i].Expired(now) {
			return q.items[i], true
		}
	}
	return types.Notification{}, false
}

// NextExpiry returns the earliest expiry among queued notifications.
func (q *Queue) NextExpiry() (time.Time, bool) {
	var next time.Time
	for _, n := range q.items {
		if at := n.ExpiresAt(); next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next, !next.IsZero()
}

// Len returns the number of queued notifications, expired or not.
func (q *Queue) Len() int {
	return len(q.items)
}
