package statemachine

import (
	"context"
	"errors"
	"sync"

	"github.com/congo-pay/fedwallet/internal/domain"
)

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

const defaultHistoryLimit = 4096

// Notifier broadcasts leg states. Per-operation subscribers first receive the
// operation's history, so subscribing after the fact never loses a state.
// Publishing never blocks on slow subscribers.
type Notifier struct {
	mu      sync.Mutex
	limit   int
	history map[domain.OperationID][]LegState
	order   []domain.OperationID
	subs    map[*Subscription]struct{}
}

// NewNotifier keeps the history of the most recent operations.
func NewNotifier() *Notifier {
	return &Notifier{
		limit:   defaultHistoryLimit,
		history: make(map[domain.OperationID][]LegState),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Publish records state and hands it to every matching subscriber.
func (n *Notifier) Publish(state LegState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	op := state.OperationID
	if _, ok := n.history[op]; !ok {
		n.order = append(n.order, op)
		if len(n.order) > n.limit {
			delete(n.history, n.order[0])
			n.order = n.order[1:]
		}
	}
	n.history[op] = append(n.history[op], state)

	for sub := range n.subs {
		if sub.all || sub.op == op {
			sub.push(state)
		}
	}
}

// Subscribe follows one operation, replaying what it already published.
func (n *Notifier) Subscribe(op domain.OperationID) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := newSubscription(n)
	sub.op = op
	sub.queue = append(sub.queue, n.history[op]...)
	n.subs[sub] = struct{}{}
	return sub
}

// SubscribeAll follows every operation from now on, without replay.
func (n *Notifier) SubscribeAll() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := newSubscription(n)
	sub.all = true
	n.subs[sub] = struct{}{}
	return sub
}

func (n *Notifier) unsubscribe(sub *Subscription) {
	n.mu.Lock()
	delete(n.subs, sub)
	n.mu.Unlock()
}

// Subscription is an unbounded, ordered queue of leg states.
type Subscription struct {
	notifier *Notifier
	op       domain.OperationID
	all      bool

	mu     sync.Mutex
	queue  []LegState
	closed bool
	signal chan struct{}
}

func newSubscription(n *Notifier) *Subscription {
	return &Subscription{notifier: n, signal: make(chan struct{}, 1)}
}

func (s *Subscription) push(state LegState) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, state)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a state is available, the subscription is closed or ctx
// is done.
func (s *Subscription) Next(ctx context.Context) (LegState, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			state := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return state, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return LegState{}, ErrSubscriptionClosed
		}

		select {
		case <-s.signal:
		case <-ctx.Done():
			return LegState{}, ctx.Err()
		}
	}
}

// Close detaches the subscription. Pending states are discarded.
func (s *Subscription) Close() {
	s.notifier.unsubscribe(s)
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()
}
