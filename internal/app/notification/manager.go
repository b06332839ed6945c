// Package notification provides in-process fan-out of queue events to
// subscribers, typically the boundary's push channels.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utabox/utabox/internal/app/session"
)

// sendTimeout bounds how long one slow subscriber can hold up a broadcast.
const sendTimeout = 500 * time.Millisecond

// Subscriber receives queue events.
type Subscriber interface {
	Send(session.Event) error
}

type subscription struct {
	id         string
	subscriber Subscriber
}

// Manager broadcasts queue events to all subscribers. It implements
// session.Notifier.
type Manager struct {
	mu   sync.RWMutex
	subs map[string]*subscription

	seqMu sync.Mutex
	seq   uint64
}

// NewManager creates an empty notification manager.
func NewManager() *Manager {
	return &Manager{subs: make(map[string]*subscription)}
}

// Subscribe registers a subscriber and returns its subscription id.
func (m *Manager) Subscribe(sub Subscriber) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subs[id] = &subscription{id: id, subscriber: sub}
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

// SubscriberCount returns the number of active subscriptions.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Publish stamps the event with a sequence number and sends it to every
// subscriber in parallel. Slow or failing subscribers are skipped; delivery
// is best effort and never fails the mutation that produced the event.
func (m *Manager) Publish(_ context.Context, ev session.Event) {
	m.seqMu.Lock()
	m.seq++
	ev.SequenceNo = m.seq
	m.seqMu.Unlock()

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()

			done := make(chan error, 1)
			go func() {
				done <- s.subscriber.Send(ev)
			}()

			select {
			case <-done:
				// Send errors are dropped; a broken subscriber is expected
				// to unsubscribe itself.
			case <-time.After(sendTimeout):
			}
		}(sub)
	}
	wg.Wait()
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = make(map[string]*subscription)
}
