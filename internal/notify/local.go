package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultBuffer = 32

// Local is an in-process Notifier. Slow subscribers lose events rather than
// block publishers.
type Local struct {
	mu     sync.RWMutex
	subs   map[*localSub]struct{}
	buffer int
	logger *zap.Logger
}

func NewLocal(logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		subs:   make(map[*localSub]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

func (l *Local) Publish(ctx context.Context, ev Event) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for sub := range l.subs {
		if sub.conversationID != "" && sub.conversationID != ev.ConversationID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			l.logger.Warn("dropping event for slow subscriber",
				zap.String("conversation_id", ev.ConversationID),
				zap.Int64("seq", ev.Seq))
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	sub := newLocalSub(l, conversationID, l.buffer)

	l.mu.Lock()
	l.subs[sub] = struct{}{}
	l.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (l *Local) remove(sub *localSub) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, sub)
	close(sub.ch)
}

type localSub struct {
	owner          *Local
	conversationID string
	ch             chan Event
	done           chan struct{}
	once           sync.Once
}

func newLocalSub(owner *Local, conversationID string, buffer int) *localSub {
	return &localSub{
		owner:          owner,
		conversationID: conversationID,
		ch:             make(chan Event, buffer),
		done:           make(chan struct{}),
	}
}

func (s *localSub) Events() <-chan Event {
	return s.ch
}

func (s *localSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.owner != nil {
			s.owner.remove(s)
		} else {
			close(s.ch)
		}
	})
	return nil
}
