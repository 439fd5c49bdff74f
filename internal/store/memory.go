package store

import (
	"context"
	"sync"

	"github.com/chatwire/chatwire/internal/errs"
	"github.com/chatwire/chatwire/internal/model"
)

// MemoryIdentity is an in-process IdentityStore. It backs single-process runs
// and deterministic tests; Put's create-if-absent is atomic under the store
// mutex, matching the contract a shared backend must provide.
type MemoryIdentity struct {
	mu       sync.Mutex
	accounts map[string]model.Account
}

// NewMemoryIdentity returns an empty in-process identity store.
func NewMemoryIdentity() *MemoryIdentity {
	return &MemoryIdentity{accounts: make(map[string]model.Account)}
}

var _ IdentityStore = (*MemoryIdentity)(nil)

func (m *MemoryIdentity) Get(_ context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &acc, nil
}

func (m *MemoryIdentity) Put(_ context.Context, acc *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[acc.ID]; exists {
		return errs.ErrConflict
	}
	m.accounts[acc.ID] = *acc
	return nil
}

func (m *MemoryIdentity) Update(_ context.Context, acc *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[acc.ID]; !exists {
		return errs.ErrNotFound
	}
	m.accounts[acc.ID] = *acc
	return nil
}

func (m *MemoryIdentity) GetByToken(_ context.Context, token string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if !acc.Verified && acc.Token != "" && acc.Token == token {
			found := acc
			return &found, nil
		}
	}
	return nil, errs.ErrNotFound
}

// MemoryBus is an in-process Bus. Publish fans out to every current
// subscriber of the channel; there is no backlog, so a subscriber attached
// after a publish never sees that message.
type MemoryBus struct {
	mu       sync.Mutex
	channels map[string][]*memorySubscription
}

// NewMemoryBus returns a bus with no subscribers.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{channels: make(map[string][]*memorySubscription)}
}

var _ Bus = (*MemoryBus)(nil)

func (b *MemoryBus) Publish(_ context.Context, channel string, msg model.ChatMessage) error {
	b.mu.Lock()
	subs := append([]*memorySubscription(nil), b.channels[channel]...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		bus:     b,
		channel: channel,
		out:     make(chan model.ChatMessage, deliveryBuffer),
	}
	b.mu.Lock()
	b.channels[channel] = append(b.channels[channel], sub)
	b.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	bus     *MemoryBus
	channel string
	out     chan model.ChatMessage

	mu     sync.Mutex
	closed bool
}

// deliver preserves publish order per subscription by sending under the
// subscription mutex; a full buffer drops the message rather than blocking
// the publisher, which mirrors a broker disconnecting a stalled consumer.
func (s *memorySubscription) deliver(msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- msg:
	default:
	}
}

func (s *memorySubscription) Messages() <-chan model.ChatMessage {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.out)
	s.mu.Unlock()

	s.bus.mu.Lock()
	subs := s.bus.channels[s.channel]
	for i, sub := range subs {
		if sub == s {
			s.bus.channels[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()
	return nil
}

// MemoryLog is an in-process MessageLog keeping appended messages in arrival
// order.
type MemoryLog struct {
	mu       sync.Mutex
	messages []model.ChatMessage
}

// NewMemoryLog returns an empty in-process message log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

var _ MessageLog = (*MemoryLog)(nil)

func (l *MemoryLog) Append(_ context.Context, msg model.ChatMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	return nil
}

// Messages returns a copy of everything appended so far.
func (l *MemoryLog) Messages() []model.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.ChatMessage(nil), l.messages...)
}
