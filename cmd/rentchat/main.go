// Command rentchat is the device side of rentchat: it keeps this device's
// private keys and reads and writes encrypted conversations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/client"
	"github.com/pliu/rentchat/internal/config"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/keystore"
	"github.com/pliu/rentchat/internal/logging"
	"github.com/pliu/rentchat/internal/models"
	"github.com/pliu/rentchat/internal/securestore"
	"github.com/pliu/rentchat/internal/session"
)

const usage = `usage: rentchat [flags] <command> [args]

commands:
  signup <username> <password> [full name]
  login <username> <password>
  logout
  keys                       ensure this device has a published key pair
  rotate-keys                replace the key pair (older messages become unreadable)
  approve <renter-id> <item-id> <start YYYY-MM-DD> <nights>
  list
  show <conversation-id>
  send <conversation-id> <text>
  watch <conversation-id>
`

var (
	server = flag.String("server", "", "server URL (overrides RENTCHAT_SERVER)")
	home   = flag.String("home", "", "device directory (overrides RENTCHAT_HOME)")
)

type app struct {
	cfg    *config.Device
	client *client.Client
	keys   *keystore.KeyStore
	logger *zap.Logger
}

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config.LoadDotEnv()
	cfg := config.LoadDevice()
	if *server != "" {
		cfg.ServerURL = strings.TrimRight(*server, "/")
	}
	if *home != "" {
		cfg.Home = *home
	}

	logger, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rentchat:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, cerrors.ErrNotAuthenticated) {
			err = fmt.Errorf("%w (run rentchat login)", err)
		}
		fmt.Fprintln(os.Stderr, "rentchat:", err)
		os.Exit(1)
	}
}

func newApp(cfg *config.Device, logger *zap.Logger) (*app, error) {
	c, err := client.New(cfg.ServerURL, cfg.Home, logger.Named("client"))
	if err != nil {
		return nil, err
	}
	secrets, err := securestore.OpenFileStore(filepath.Join(cfg.Home, "secrets"), cfg.DeviceKey, logger.Named("secrets"))
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		client: c,
		keys:   keystore.New(secrets, c, logger.Named("keys")),
		logger: logger,
	}, nil
}

func (a *app) deps() session.Deps {
	return session.Deps{
		Users:       a.client,
		Keys:        a.keys,
		Log:         a.client,
		Logger:      a.logger.Named("session"),
		SendTimeout: a.cfg.SendTimeout,
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "signup":
		if len(args) < 2 {
			return errors.New("signup needs a username and a password")
		}
		profile, err := a.client.Signup(ctx, args[0], args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", profile.Username, profile.ID)
		return nil

	case "login":
		if len(args) != 2 {
			return errors.New("login needs a username and a password")
		}
		profile, err := a.client.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%s)\n", profile.Username, profile.ID)
		return a.ensureKeys(ctx, profile.ID)

	case "logout":
		return a.client.Logout(ctx)

	case "keys":
		me, err := a.client.CurrentUser(ctx)
		if err != nil {
			return err
		}
		return a.ensureKeys(ctx, me)

	case "rotate-keys":
		me, err := a.client.CurrentUser(ctx)
		if err != nil {
			return err
		}
		pair, err := a.keys.GenerateAndStore(ctx, me)
		if err != nil {
			return err
		}
		fmt.Printf("new public key %s\n", pair.PublicKey)
		return nil

	case "approve":
		return a.approve(ctx, args)

	case "list":
		return a.list(ctx)

	case "show":
		if len(args) != 1 {
			return errors.New("show needs a conversation id")
		}
		s, err := a.open(ctx, args[0])
		if err != nil {
			return err
		}
		timeline, err := s.Load(ctx)
		if err != nil {
			return err
		}
		a.print(timeline)
		return nil

	case "send":
		if len(args) < 2 {
			return errors.New("send needs a conversation id and text")
		}
		s, err := a.open(ctx, args[0])
		if err != nil {
			return err
		}
		s.SetDraft(strings.Join(args[1:], " "))
		msg, err := s.Send(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("sent at %s\n", msg.CreatedAt.Local().Format(time.Kitchen))
		return nil

	case "watch":
		if len(args) != 1 {
			return errors.New("watch needs a conversation id")
		}
		return a.watch(ctx, args[0])
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) ensureKeys(ctx context.Context, userID string) error {
	pair, created, err := a.keys.EnsureKeys(ctx, userID)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("published new public key %s\n", pair.PublicKey)
	}
	if pair.PrivateKey == "" {
		fmt.Println("this device does not hold your private key; run rentchat rotate-keys to replace it (older messages become unreadable)")
	}
	return nil
}

func (a *app) approve(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return errors.New("approve needs a renter id, an item id, a start date and a number of nights")
	}
	start, err := time.Parse("2006-01-02", args[2])
	if err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	nights, err := strconv.Atoi(args[3])
	if err != nil || nights <= 0 {
		return fmt.Errorf("invalid number of nights %q", args[3])
	}

	s, err := session.Start(ctx, a.deps(), args[0], args[1], session.ApprovalText(start, nights))
	if err != nil {
		return err
	}
	fmt.Printf("conversation %s started\n", s.ConversationID())
	return nil
}

func (a *app) list(ctx context.Context) error {
	me, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	convs, err := a.client.List(ctx)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		role := "renting"
		if conv.SenderID == me {
			role = "lending"
		}
		fmt.Printf("%s  %s item %s with %s  updated %s\n",
			conv.ID, role, conv.ItemID, conv.Peer(me), conv.UpdatedAt.Local().Format(time.RFC822))
	}
	return nil
}

// open builds a session for conversationID with the peer taken from the
// conversation's participants.
func (a *app) open(ctx context.Context, conversationID string) (*session.Session, error) {
	me, err := a.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := a.client.Read(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	peer := conv.Peer(me)
	if peer == "" {
		return nil, cerrors.ErrNotParticipant
	}
	return session.New(a.deps(), conversationID, peer), nil
}

func (a *app) watch(ctx context.Context, conversationID string) error {
	s, err := a.open(ctx, conversationID)
	if err != nil {
		return err
	}
	sub, err := a.client.Watch(ctx, conversationID)
	if err != nil {
		return err
	}
	defer sub.Close()

	timeline, err := s.Load(ctx)
	if err != nil {
		return err
	}
	a.print(timeline)
	shown := len(timeline)

	err = s.Watch(ctx, sub, func(timeline []models.PlaintextMessage, err error) {
		if err != nil || len(timeline) <= shown {
			return
		}
		a.print(timeline[shown:])
		shown = len(timeline)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) print(msgs []models.PlaintextMessage) {
	me, _ := a.client.CurrentUser(context.Background())
	for _, m := range msgs {
		who := "them"
		if m.SenderID == me {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("Jan 2 15:04"), who, m.Content)
	}
}
