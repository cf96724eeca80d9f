package state

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

const mailboxSize = 256

// Store owns the ApplicationState. Actions from any goroutine are queued in a
// mailbox and reduced one at a time by Run, so each reduce sees the result of
// the previous one and nothing interleaves with it.
type Store struct {
	mu      sync.RWMutex
	state   ApplicationState
	changed chan struct{}

	mailbox chan Action
	stopped chan struct{}
	stop    sync.Once
	logger  *zap.Logger
}

func NewStore(initial ApplicationState, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		state:   initial,
		changed: make(chan struct{}),
		mailbox: make(chan Action, mailboxSize),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Run reduces queued actions until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	defer s.stop.Do(func() { close(s.stopped) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-s.mailbox:
			s.apply(a)
		}
	}
}

func (s *Store) apply(a Action) {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
	s.logger.Debug("reduced", zap.String("action", a.ActionType()))
}

// Dispatch queues a for reduction. Actions sent after Run has returned are
// dropped.
func (s *Store) Dispatch(a Action) {
	select {
	case s.mailbox <- a:
	case <-s.stopped:
		s.logger.Debug("store stopped, dropping action", zap.String("action", a.ActionType()))
	}
}

// State returns the current snapshot. Callers must not mutate its maps or
// slices.
func (s *Store) State() ApplicationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// WaitFor blocks until pred holds for the current state or ctx ends.
func (s *Store) WaitFor(ctx context.Context, pred func(ApplicationState) bool) (ApplicationState, error) {
	for {
		s.mu.RLock()
		st, changed := s.state, s.changed
		s.mu.RUnlock()
		if pred(st) {
			return st, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// PushAction accepts a server push from the message router.
func (s *Store) PushAction(p protocol.PushedAction) {
	a, err := DecodePushedAction(p)
	if err != nil {
		s.logger.Warn("dropping undecodable pushed action", zap.String("type", p.ActionType), zap.Error(err))
		return
	}
	s.Dispatch(a)
}

// SetConnectionState reports a supervisor transition.
func (s *Store) SetConnectionState(cs ConnectionState) {
	s.Dispatch(ConnectionChanged{State: cs})
}
