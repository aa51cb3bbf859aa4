package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/auth"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/notify"
)

const (
	// Time allowed to write a close frame.
	writeWait = 10 * time.Second

	// Time allowed for the server's subscription hello.
	helloWait = 10 * time.Second
)

// Watch subscribes to appends on one conversation. It returns once the
// server has confirmed the subscription, so no later append is missed.
func (c *Client) Watch(ctx context.Context, conversationID string) (notify.Subscription, error) {
	session := c.sessionValue()
	if session == "" {
		return nil, cerrors.ErrNotAuthenticated
	}

	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"conversation": {conversationID}}.Encode()

	header := http.Header{}
	header.Add("Cookie", (&http.Cookie{Name: auth.CookieName, Value: session}).String())

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, apiError(resp.StatusCode, []byte(strings.TrimSpace(resp.Status)), cerrors.ErrConversationNotFound)
		}
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(helloWait))
	var hello notify.Event
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read subscription hello: %w", err)
	}
	if hello.Type != notify.TypeSubscribed || hello.ConversationID != conversationID {
		conn.Close()
		return nil, fmt.Errorf("unexpected hello %q for %q", hello.Type, hello.ConversationID)
	}
	conn.SetReadDeadline(time.Time{})

	sub := &wsSub{
		conn:   conn,
		events: make(chan notify.Event, 16),
		done:   make(chan struct{}),
	}
	go sub.readLoop(c.logger)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type wsSub struct {
	conn   *websocket.Conn
	events chan notify.Event

	once sync.Once
	done chan struct{}
}

func (s *wsSub) Events() <-chan notify.Event {
	return s.events
}

func (s *wsSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.conn.Close()
	})
	return nil
}

// readLoop forwards events until the connection ends. The default ping
// handler answers the server's keepalives while it reads.
func (s *wsSub) readLoop(logger *zap.Logger) {
	defer close(s.events)
	defer s.Close()

	for {
		var ev notify.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("watch connection ended", zap.Error(err))
				}
			}
			return
		}
		if ev.Type != notify.TypeEntryAppended {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
