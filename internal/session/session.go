// Package session runs the device-side chat protocol: load and decrypt a
// conversation into a timeline, and encrypt and append new messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/e2e"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/models"
	"github.com/pliu/rentchat/internal/notify"
)

const DefaultSendTimeout = 15 * time.Second

type State int

const (
	Idle State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ChatLog is the conversation log as seen from a device.
type ChatLog interface {
	Create(ctx context.Context, senderID, receiverID, itemID, envelope string) (*models.Conversation, error)
	Read(ctx context.Context, conversationID string) (*models.Conversation, error)
	Append(ctx context.Context, conversationID, senderID, envelope string) (*models.Entry, error)
}

// CurrentUserResolver returns the signed-in user's id, or ErrNotAuthenticated.
type CurrentUserResolver interface {
	CurrentUser(ctx context.Context) (string, error)
}

// KeyResolver is implemented by *keystore.KeyStore.
type KeyResolver interface {
	PublicKey(ctx context.Context, userID string) (string, bool)
	PrivateKey(ctx context.Context, userID string) (string, bool, error)
}

// StaticUser resolves to a fixed user id; the empty value is signed out.
type StaticUser string

func (u StaticUser) CurrentUser(ctx context.Context) (string, error) {
	if u == "" {
		return "", cerrors.ErrNotAuthenticated
	}
	return string(u), nil
}

type Deps struct {
	Users  CurrentUserResolver
	Keys   KeyResolver
	Log    ChatLog
	Logger *zap.Logger

	// SendTimeout bounds each append. Zero means DefaultSendTimeout.
	SendTimeout time.Duration
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.SendTimeout <= 0 {
		d.SendTimeout = DefaultSendTimeout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Session is one open conversation on this device. It is safe for
// concurrent use; loads and sends are not ordered against each other.
type Session struct {
	deps           Deps
	conversationID string
	peerID         string

	mu       sync.Mutex
	state    State
	timeline []models.PlaintextMessage
	draft    string
	sending  bool
}

func New(deps Deps, conversationID, peerID string) *Session {
	return &Session{
		deps:           deps.withDefaults(),
		conversationID: conversationID,
		peerID:         peerID,
	}
}

// Start approves a rental as the lender: it seals text for the renter,
// creates the conversation and returns a ready session holding that message.
func Start(ctx context.Context, deps Deps, peerID, itemID, text string) (*Session, error) {
	deps = deps.withDefaults()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, cerrors.ErrEmptyMessage
	}
	me, keys, err := resolve(ctx, deps, peerID)
	if err != nil {
		return nil, err
	}

	msg := models.PlaintextMessage{Content: text, SenderID: me, CreatedAt: deps.Now().UTC()}
	envelope, err := seal(msg, keys)
	if err != nil {
		return nil, err
	}

	createCtx, cancel := context.WithTimeout(ctx, deps.SendTimeout)
	defer cancel()
	conv, err := deps.Log.Create(createCtx, me, peerID, itemID, envelope)
	if err != nil {
		return nil, sendError(createCtx, err)
	}

	deps.Logger.Info("conversation started",
		zap.String("conversation_id", conv.ID),
		zap.String("item_id", itemID))

	s := New(deps, conv.ID, peerID)
	s.state = Ready
	s.timeline = []models.PlaintextMessage{msg}
	return s, nil
}

func (s *Session) ConversationID() string { return s.conversationID }

func (s *Session) PeerID() string { return s.peerID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Timeline returns a copy of the last loaded timeline.
func (s *Session) Timeline() []models.PlaintextMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PlaintextMessage(nil), s.timeline...)
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

type keySet struct {
	own     string
	ownPub  string
	peerPub string
}

// resolve finds the current user and the key material both directions need.
func resolve(ctx context.Context, deps Deps, peerID string) (string, keySet, error) {
	me, err := deps.Users.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, cerrors.ErrNotAuthenticated) {
			return "", keySet{}, err
		}
		return "", keySet{}, fmt.Errorf("%w: %w", cerrors.ErrNotAuthenticated, err)
	}
	if me == "" {
		return "", keySet{}, cerrors.ErrNotAuthenticated
	}

	own, ok, err := deps.Keys.PrivateKey(ctx, me)
	if err != nil {
		return "", keySet{}, fmt.Errorf("read private key: %w", err)
	}
	if !ok {
		return "", keySet{}, fmt.Errorf("%w: no private key on this device", cerrors.ErrKeysUnavailable)
	}
	peerPub, ok := deps.Keys.PublicKey(ctx, peerID)
	if !ok {
		return "", keySet{}, fmt.Errorf("%w: peer has no public key", cerrors.ErrKeysUnavailable)
	}
	ownPub, _ := deps.Keys.PublicKey(ctx, me)

	return me, keySet{own: own, ownPub: ownPub, peerPub: peerPub}, nil
}

func seal(msg models.PlaintextMessage, keys keySet) (string, error) {
	plaintext, err := encodeMessage(msg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", cerrors.ErrEncryptionFailed, err)
	}
	envelope, err := e2e.Encrypt(plaintext, keys.peerPub, keys.own)
	if err != nil {
		if errors.Is(err, cerrors.ErrEncryptionFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", cerrors.ErrEncryptionFailed, err)
	}
	return envelope, nil
}

func sendError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", cerrors.ErrSendTimedOut, err)
	}
	return fmt.Errorf("%w: %w", cerrors.ErrSendFailed, err)
}

// Load fetches the conversation and decrypts every entry it can. Entries
// that fail to decrypt or parse are dropped. On error the session is Failed
// and no timeline is kept.
func (s *Session) Load(ctx context.Context) ([]models.PlaintextMessage, error) {
	s.mu.Lock()
	s.state = Loading
	s.mu.Unlock()

	timeline, err := s.load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Failed
		s.timeline = nil
		return nil, err
	}
	s.state = Ready
	s.timeline = timeline
	return append([]models.PlaintextMessage(nil), timeline...), nil
}

func (s *Session) load(ctx context.Context) ([]models.PlaintextMessage, error) {
	me, keys, err := resolve(ctx, s.deps, s.peerID)
	if err != nil {
		return nil, err
	}

	conv, err := s.deps.Log.Read(ctx, s.conversationID)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	if !conv.HasParticipant(me) || conv.Peer(me) != s.peerID {
		return nil, cerrors.ErrNotParticipant
	}

	fromPeer, err := e2e.Precompute(keys.peerPub, keys.own)
	if err != nil {
		return nil, err
	}
	defer fromPeer.Wipe()

	var fromSelf *e2e.SharedKey
	if keys.ownPub != "" {
		if fromSelf, err = e2e.Precompute(keys.ownPub, keys.own); err == nil {
			defer fromSelf.Wipe()
		}
	}

	timeline := make([]models.PlaintextMessage, 0, len(conv.Entries))
	for _, entry := range conv.Entries {
		msg, ok := s.open(conv, entry, fromPeer, fromSelf)
		if ok {
			timeline = append(timeline, msg)
		}
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].CreatedAt.Before(timeline[j].CreatedAt)
	})
	return timeline, nil
}

// open tries the peer direction first, then the self direction.
func (s *Session) open(conv *models.Conversation, entry models.Entry, fromPeer, fromSelf *e2e.SharedKey) (models.PlaintextMessage, bool) {
	drop := func(reason string, err error) (models.PlaintextMessage, bool) {
		s.deps.Logger.Debug("dropping entry",
			zap.String("conversation_id", conv.ID),
			zap.Int64("seq", entry.Seq),
			zap.String("reason", reason),
			zap.Error(err))
		return models.PlaintextMessage{}, false
	}

	plaintext, err := fromPeer.Open(entry.Envelope)
	if err != nil && fromSelf != nil && !errors.Is(err, cerrors.ErrMalformedEnvelope) {
		plaintext, err = fromSelf.Open(entry.Envelope)
	}
	if err != nil {
		return drop("undecryptable", err)
	}

	msg, err := decodeMessage(plaintext)
	if err != nil {
		return drop("unparseable", err)
	}
	if entry.SenderID != "" && msg.SenderID != entry.SenderID {
		return drop("sender mismatch", nil)
	}
	if !conv.HasParticipant(msg.SenderID) {
		return drop("sender not a participant", nil)
	}
	return msg, true
}

// Send encrypts the current draft and appends it. The draft is kept on any
// failure and cleared on success.
func (s *Session) Send(ctx context.Context) (models.PlaintextMessage, error) {
	s.mu.Lock()
	draft := s.draft
	text := strings.TrimSpace(draft)
	if text == "" {
		s.mu.Unlock()
		return models.PlaintextMessage{}, cerrors.ErrEmptyMessage
	}
	if s.sending {
		s.mu.Unlock()
		return models.PlaintextMessage{}, cerrors.ErrSendInFlight
	}
	s.sending = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	me, keys, err := resolve(ctx, s.deps, s.peerID)
	if err != nil {
		return models.PlaintextMessage{}, err
	}

	msg := models.PlaintextMessage{Content: text, SenderID: me, CreatedAt: s.deps.Now().UTC()}
	envelope, err := seal(msg, keys)
	if err != nil {
		s.deps.Logger.Warn("encryption failed", zap.String("conversation_id", s.conversationID), zap.Error(err))
		return models.PlaintextMessage{}, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.deps.SendTimeout)
	defer cancel()
	if _, err := s.deps.Log.Append(sendCtx, s.conversationID, me, envelope); err != nil {
		err = sendError(sendCtx, err)
		s.deps.Logger.Warn("send failed", zap.String("conversation_id", s.conversationID), zap.Error(err))
		return models.PlaintextMessage{}, err
	}

	s.mu.Lock()
	s.timeline = append(s.timeline, msg)
	// Leave text typed while the send was running.
	if s.draft == draft {
		s.draft = ""
	}
	s.mu.Unlock()

	return msg, nil
}

// Watch reloads the conversation for every event on sub that concerns it,
// until ctx ends or sub is closed. The caller owns sub. onLoad, if not nil,
// receives each reload's result.
func (s *Session) Watch(ctx context.Context, sub notify.Subscription, onLoad func([]models.PlaintextMessage, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if ev.ConversationID != s.conversationID {
				continue
			}
			timeline, err := s.Load(ctx)
			if err != nil {
				s.deps.Logger.Warn("reload failed", zap.String("conversation_id", s.conversationID), zap.Error(err))
			}
			if onLoad != nil {
				onLoad(timeline, err)
			}
		}
	}
}
