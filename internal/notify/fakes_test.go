package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
)

type memRepo struct {
	mu     sync.Mutex
	items  map[string]*Notification
	claims map[string]time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[string]*Notification{}, claims: map[string]time.Time{}}
}

func (m *memRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.CreatedAt = time.Now()
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *memRepo) get(id string) *Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.items[id]; ok {
		cp := *n
		return &cp
	}
	return nil
}

func (m *memRepo) ListForUser(_ context.Context, userID string, unreadOnly bool, _ int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.items {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memRepo) UnreadCount(ctx context.Context, userID string) (int, error) {
	list, _ := m.ListForUser(ctx, userID, true, 0)
	return len(list), nil
}

func (m *memRepo) MarkRead(_ context.Context, id, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return ErrNotificationNotFound
	}
	n.IsRead = true
	n.ReadAt = &at
	return nil
}

func (m *memRepo) MarkAllRead(_ context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
			count++
		}
	}
	return count, nil
}

func (m *memRepo) ClaimDue(_ context.Context, now, until time.Time, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.items {
		if n.DeliveryStatus != DeliveryPending || n.ScheduledFor.After(now) {
			continue
		}
		if claimed, ok := m.claims[n.ID]; ok && claimed.After(now) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if len(out) > limit {
		out = out[:limit]
	}
	for _, n := range out {
		m.claims[n.ID] = until
	}
	return out, nil
}

func (m *memRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.DeliveryStatus = DeliverySent
	n.SentAt = &at
	return nil
}

func (m *memRepo) RecordFailure(_ context.Context, id, reason string, maxAttempts int) (DeliveryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return "", ErrNotificationNotFound
	}
	n.Attempts++
	n.LastError = reason
	delete(m.claims, id)
	if n.Attempts >= maxAttempts {
		n.DeliveryStatus = DeliveryFailed
	}
	return n.DeliveryStatus, nil
}

func (m *memRepo) DeletePending(_ context.Context, related string, typ Type) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, n := range m.items {
		if n.RelatedEntityID == related && n.Type == typ && n.DeliveryStatus == DeliveryPending {
			delete(m.items, id)
			count++
		}
	}
	return count, nil
}

type recordingQueue struct {
	mu      sync.Mutex
	sent    []string
	deleted []string
	sendErr error
}

func (q *recordingQueue) Send(_ context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return q.sendErr
	}
	q.sent = append(q.sent, body)
	return nil
}

func (q *recordingQueue) Receive(ctx context.Context, _, _ int) ([]QueueMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *recordingQueue) Delete(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, handle)
	return nil
}

type captureSender struct {
	mu       sync.Mutex
	msgs     []EmailMessage
	err      error
	failures int // transient errors returned before sends succeed
}

func (c *captureSender) Send(_ context.Context, msg EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.failures > 0 {
		c.failures--
		return errBoom
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type userDir map[string]*auth.User

func (d userDir) GetUser(_ context.Context, id string) (*auth.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveNotification(channel, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[channel+":"+status]++
}

var errBoom = errors.New("boom")
