package chat

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/google/uuid"
)

type entry struct {
	message   Message
	expiresAt time.Time
}

// Store holds the currently alive messages in admission order and removes
// each of them once its expiration window has elapsed.
//
// Admission, removal and ListAlive are serialised by a single mutex, and
// events are published while it is held, so the event stream seen by the
// Publisher is always consistent with ListAlive snapshots: a message is
// announced before it is listed and its expiry is announced exactly once.
type Store struct {
	mu        sync.Mutex
	log       *slog.Logger
	publisher Publisher
	window    time.Duration
	now       func() time.Time
	messages  map[uuid.UUID]*list.Element
	order     *list.List
	schedule  expirySchedule
	wake      chan struct{}
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used to stamp and expire messages.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store publishing lifecycle events to publisher.
// A non-positive window falls back to DefaultExpiration.
func NewStore(log *slog.Logger, publisher Publisher, window time.Duration, opts ...StoreOption) *Store {
	if window <= 0 {
		window = DefaultExpiration
	}
	s := &Store{
		log:       log,
		publisher: publisher,
		window:    window,
		now:       time.Now,
		messages:  make(map[uuid.UUID]*list.Element),
		order:     list.New(),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the expiration window.
func (s *Store) Window() time.Duration {
	return s.window
}

// Len returns the number of messages held, including any whose window has
// elapsed but whose removal has not been processed yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// ListAlive returns the messages whose window has not elapsed, in admission
// order.
func (s *Store) ListAlive() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

// ListAliveThen calls fn with the alive messages while holding the store
// lock, so no admission or expiry event can be published between the
// snapshot and whatever fn does with it. fn must not call back into the
// store.
func (s *Store) ListAliveThen(fn func([]Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.aliveLocked())
}

func (s *Store) aliveLocked() []Message {
	now := s.now()
	alive := make([]Message, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(entry)
		if e.expiresAt.After(now) {
			alive = append(alive, e.message)
		}
	}
	return alive
}

// Admit stores a new message authored by author, schedules its removal and
// publishes MessageAdded. It never fails.
func (s *Store) Admit(body string, author identity.Identity) Message {
	s.mu.Lock()
	createdAt := s.now()
	msg := Message{
		ID:        uuid.New(),
		Author:    author,
		Body:      body,
		CreatedAt: createdAt,
	}
	expiresAt := createdAt.Add(s.window)
	s.messages[msg.ID] = s.order.PushBack(entry{message: msg, expiresAt: expiresAt})
	s.schedule.add(expiresAt, msg.ID)
	s.publisher.Publish(Added(msg))
	s.mu.Unlock()

	s.log.Debug("Message admitted", "id", msg.ID, "author", author.ID, "expires_at", expiresAt)
	s.signal()
	return msg
}

// remove deletes id and publishes MessageExpired. Removing an unknown id is
// a no-op; the return value reports whether anything was removed.
func (s *Store) remove(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id uuid.UUID) bool {
	el, ok := s.messages[id]
	if !ok {
		return false
	}
	delete(s.messages, id)
	s.order.Remove(el)
	s.publisher.Publish(Expired(id))
	return true
}

// expireDue removes every message whose expiry is not after now.
func (s *Store) expireDue(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range s.schedule.popDue(now) {
		if s.removeLocked(id) {
			removed++
		}
	}
	return removed
}

// nextWait returns how long until the earliest pending expiry.
func (s *Store) nextWait() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.schedule.next()
	if !ok {
		return 0, false
	}
	wait := at.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drains the expiry schedule until ctx is done. Removals still pending
// when ctx is cancelled are discarded without publishing any event.
func (s *Store) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			s.discard()
			return nil
		}
		if n := s.expireDue(s.now()); n > 0 {
			s.log.Debug("Messages expired", "count", n)
		}

		var fire <-chan time.Time
		if wait, ok := s.nextWait(); ok {
			timer.Reset(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			s.discard()
			return nil
		case <-s.wake:
		case <-fire:
		}
		timer.Stop()
	}
}

func (s *Store) discard() {
	s.mu.Lock()
	pending := s.schedule.Len()
	s.schedule = nil
	s.mu.Unlock()
	s.log.Info("Message store stopped", "discarded_expirations", pending)
}
