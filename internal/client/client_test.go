package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pliu/rentchat/internal/auth"
	"github.com/pliu/rentchat/internal/chatlog"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/handlers"
	"github.com/pliu/rentchat/internal/keystore"
	"github.com/pliu/rentchat/internal/models"
	"github.com/pliu/rentchat/internal/notify"
	"github.com/pliu/rentchat/internal/securestore"
	"github.com/pliu/rentchat/internal/session"
	"github.com/pliu/rentchat/internal/store/sqlstore"
	"github.com/pliu/rentchat/internal/ws"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	n := notify.NewLocal(nil)
	hub := ws.NewHub(n, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	<-hub.Ready()

	srv := httptest.NewServer(handlers.NewRouter(handlers.RouterConfig{
		Store:  s,
		Log:    chatlog.New(s, n, nil),
		Hub:    hub,
		Signer: auth.NewSigner([]byte("test-secret")),
	}))
	t.Cleanup(srv.Close)
	return srv
}

type device struct {
	client  *Client
	profile models.Profile
	keys    *keystore.KeyStore
	deps    session.Deps
}

// newDevice signs a user up and in from a fresh home directory and
// publishes its keys.
func newDevice(t *testing.T, serverURL, username string) *device {
	t.Helper()
	ctx := context.Background()
	home := t.TempDir()

	c, err := New(serverURL, home, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := c.Signup(ctx, username, "password123", username+" Doe"); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	profile, err := c.Login(ctx, username, "password123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	secrets, err := securestore.OpenFileStore(filepath.Join(home, "secrets"), "", nil)
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}
	ks := keystore.New(secrets, c, nil)
	if _, created, err := ks.EnsureKeys(ctx, profile.ID); err != nil || !created {
		t.Fatalf("EnsureKeys = created %v, err %v", created, err)
	}

	return &device{
		client:  c,
		profile: profile,
		keys:    ks,
		deps:    session.Deps{Users: c, Keys: ks, Log: c},
	}
}

func TestEndToEndExchange(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	lender := newDevice(t, srv.URL, "lender")
	renter := newDevice(t, srv.URL, "renter")

	approval := session.ApprovalText(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), 2)
	lenderSession, err := session.Start(ctx, lender.deps, renter.profile.ID, "item-7", approval)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	convID := lenderSession.ConversationID()

	sub, err := lender.client.Watch(ctx, convID)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer sub.Close()

	renterSession := session.New(renter.deps, convID, lender.profile.ID)
	timeline, err := renterSession.Load(ctx)
	if err != nil {
		t.Fatalf("renter Load failed: %v", err)
	}
	if len(timeline) != 1 || timeline[0].Content != approval {
		t.Fatalf("renter did not read the approval: %+v", timeline)
	}

	renterSession.SetDraft("Can I pick it up Friday?")
	if _, err := renterSession.Send(ctx); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != notify.TypeEntryAppended || ev.ConversationID != convID || ev.SenderID != renter.profile.ID {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the append notification")
	}

	timeline, err = lenderSession.Load(ctx)
	if err != nil {
		t.Fatalf("lender Load failed: %v", err)
	}
	if len(timeline) != 2 || timeline[1].Content != "Can I pick it up Friday?" || timeline[1].SenderID != renter.profile.ID {
		t.Errorf("lender timeline wrong: %+v", timeline)
	}

	// The server only ever sees envelopes.
	conv, err := lender.client.Read(ctx, convID)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for _, entry := range conv.Entries {
		if entry.Envelope == approval || entry.Envelope == "Can I pick it up Friday?" {
			t.Error("entry stored in plaintext")
		}
	}

	convs, err := renter.client.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != convID {
		t.Errorf("unexpected conversation list: %+v", convs)
	}
}

func TestSessionPersistsAcrossClients(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	home := t.TempDir()

	c, err := New(srv.URL, home, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := c.CurrentUser(ctx); !errors.Is(err, cerrors.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated before login, got %v", err)
	}
	if _, err := c.Signup(ctx, "alice", "password123", "Alice"); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	profile, err := c.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	reopened, err := New(srv.URL, home, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	id, err := reopened.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser failed: %v", err)
	}
	if id != profile.ID {
		t.Errorf("expected %s, got %s", profile.ID, id)
	}

	if err := reopened.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	again, err := New(srv.URL, home, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := again.CurrentUser(ctx); !errors.Is(err, cerrors.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated after logout, got %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	anon, err := New(srv.URL, "", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := anon.List(ctx); !errors.Is(err, cerrors.ErrNotAuthenticated) {
		t.Errorf("List without session: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := anon.Login(ctx, "nobody", "password123"); !errors.Is(err, cerrors.ErrNotAuthenticated) {
		t.Errorf("bad login: expected ErrNotAuthenticated, got %v", err)
	}

	alice := newDevice(t, srv.URL, "alice")
	bob := newDevice(t, srv.URL, "bob")
	carol := newDevice(t, srv.URL, "carol")

	if _, err := alice.client.Signup(ctx, "bob", "password123", "Bob"); !errors.Is(err, cerrors.ErrDuplicateUser) {
		t.Errorf("duplicate signup: expected ErrDuplicateUser, got %v", err)
	}
	if _, err := alice.client.GetPublicKey(ctx, "missing"); !errors.Is(err, cerrors.ErrUserNotFound) {
		t.Errorf("missing profile: expected ErrUserNotFound, got %v", err)
	}
	if _, err := alice.client.Read(ctx, "missing"); !errors.Is(err, cerrors.ErrConversationNotFound) {
		t.Errorf("missing conversation: expected ErrConversationNotFound, got %v", err)
	}

	s, err := session.Start(ctx, alice.deps, bob.profile.ID, "item-1", "Rental approved")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := carol.client.Read(ctx, s.ConversationID()); !errors.Is(err, cerrors.ErrNotParticipant) {
		t.Errorf("outsider read: expected ErrNotParticipant, got %v", err)
	}
	if _, err := carol.client.Watch(ctx, s.ConversationID()); !errors.Is(err, cerrors.ErrNotParticipant) {
		t.Errorf("outsider watch: expected ErrNotParticipant, got %v", err)
	}
	if _, err := alice.client.Append(ctx, s.ConversationID(), alice.profile.ID, "not an envelope"); !errors.Is(err, cerrors.ErrMalformedEnvelope) {
		t.Errorf("bad envelope: expected ErrMalformedEnvelope, got %v", err)
	}
	if _, err := alice.client.Append(ctx, s.ConversationID(), bob.profile.ID, "x"); !errors.Is(err, cerrors.ErrNotParticipant) {
		t.Errorf("append as another user: expected ErrNotParticipant, got %v", err)
	}
}

func TestWatch_ContextCancelClosesEvents(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice := newDevice(t, srv.URL, "alice")
	bob := newDevice(t, srv.URL, "bob")
	s, err := session.Start(ctx, alice.deps, bob.profile.ID, "item-1", "Rental approved")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	sub, err := bob.client.Watch(watchCtx, s.ConversationID())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected events channel to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}

func TestSecondDeviceKeepsPublishedKey(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	lender := newDevice(t, srv.URL, "lender")
	renter := newDevice(t, srv.URL, "renter")
	s, err := session.Start(ctx, lender.deps, renter.profile.ID, "item-1", "Rental approved")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The renter signs in on a second device with an empty secret store.
	home := t.TempDir()
	c, err := New(srv.URL, home, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := c.Login(ctx, "renter", "password123"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	secrets, err := securestore.OpenFileStore(filepath.Join(home, "secrets"), "", nil)
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}
	ks := keystore.New(secrets, c, nil)
	pair, created, err := ks.EnsureKeys(ctx, renter.profile.ID)
	if err != nil || created || pair.PrivateKey != "" {
		t.Fatalf("EnsureKeys on second device = %+v, created %v, err %v", pair, created, err)
	}

	second := session.New(session.Deps{Users: c, Keys: ks, Log: c}, s.ConversationID(), lender.profile.ID)
	if _, err := second.Load(ctx); !errors.Is(err, cerrors.ErrKeysUnavailable) {
		t.Errorf("second device Load: expected ErrKeysUnavailable, got %v", err)
	}

	// The first device still reads new messages from the lender.
	lenderSession := session.New(lender.deps, s.ConversationID(), renter.profile.ID)
	lenderSession.SetDraft("Pickup at noon")
	if _, err := lenderSession.Send(ctx); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	timeline, err := session.New(renter.deps, s.ConversationID(), lender.profile.ID).Load(ctx)
	if err != nil {
		t.Fatalf("first device Load failed: %v", err)
	}
	if len(timeline) != 2 || timeline[1].Content != "Pickup at noon" {
		t.Errorf("first device timeline wrong: %+v", timeline)
	}
}
