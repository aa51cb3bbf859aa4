package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "chat:notify:"

// Redis publishes events on chat:notify:<conversation id>.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedis(rdb *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.rdb.Publish(ctx, channelPrefix+ev.ConversationID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	var ps *redis.PubSub
	if conversationID == "" {
		ps = r.rdb.PSubscribe(ctx, channelPrefix+"*")
	} else {
		ps = r.rdb.Subscribe(ctx, channelPrefix+conversationID)
	}
	// Wait for the server to confirm so no event published after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &redisSub{
		ps:   ps,
		ch:   make(chan Event, defaultBuffer),
		done: make(chan struct{}),
	}
	go sub.forward(ctx, r.logger)
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) forward(ctx context.Context, logger *zap.Logger) {
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("ignoring malformed event",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if ev.ConversationID == "" {
				ev.ConversationID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			select {
			case s.ch <- ev:
			case <-s.done:
				return
			case <-ctx.Done():
				s.Close()
				return
			}
		}
	}
}

func (s *redisSub) Events() <-chan Event {
	return s.ch
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
