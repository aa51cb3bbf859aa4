// Package client talks to the rentchat server from a device. It implements
// the profile store, chat log and current-user resolver the session needs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/auth"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/handlers"
	"github.com/pliu/rentchat/internal/models"
)

const cookieFile = "session.cookie"

// APIError is a non-2xx response. It unwraps to the matching domain error
// where there is one.
type APIError struct {
	StatusCode int
	Message    string
	sentinel   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.sentinel
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cookiePath string
	logger     *zap.Logger

	mu      sync.Mutex
	session string
	userID  string
}

// New returns a client for baseURL. When home is not empty the session
// cookie is kept in home/session.cookie and restored from there.
func New(baseURL, home string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}

	if home != "" {
		if err := os.MkdirAll(home, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create home: %w", err)
		}
		c.cookiePath = filepath.Join(home, cookieFile)
		data, err := os.ReadFile(c.cookiePath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read session: %w", err)
		}
		c.session = strings.TrimSpace(string(data))
	}
	return c, nil
}

// doRequest sends body as JSON and decodes the response into out when out
// is not nil. notFound is the error a 404 unwraps to.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, out interface{}, notFound error) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if session := c.sessionValue(); session != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: session})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return resp, apiError(resp.StatusCode, respBody, notFound)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}

func apiError(status int, body []byte, notFound error) error {
	e := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	switch status {
	case http.StatusUnauthorized:
		e.sentinel = cerrors.ErrNotAuthenticated
	case http.StatusForbidden:
		e.sentinel = cerrors.ErrNotParticipant
	case http.StatusNotFound:
		e.sentinel = notFound
	case http.StatusConflict:
		e.sentinel = cerrors.ErrDuplicateUser
	case http.StatusBadRequest:
		if strings.Contains(e.Message, cerrors.ErrMalformedEnvelope.Error()) {
			e.sentinel = cerrors.ErrMalformedEnvelope
		} else if strings.Contains(e.Message, cerrors.ErrInvalidConversation.Error()) {
			e.sentinel = cerrors.ErrInvalidConversation
		}
	}
	return e
}

func (c *Client) sessionValue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(value, userID string) error {
	c.mu.Lock()
	c.session = value
	c.userID = userID
	c.mu.Unlock()

	if c.cookiePath == "" {
		return nil
	}
	if value == "" {
		if err := os.Remove(c.cookiePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(c.cookiePath, []byte(value+"\n"), 0o600)
}

func (c *Client) Signup(ctx context.Context, username, password, fullName string) (models.Profile, error) {
	var profile models.Profile
	_, err := c.doRequest(ctx, "POST", "/signup",
		handlers.SignupRequest{Username: username, Password: password, FullName: fullName}, &profile, nil)
	return profile, err
}

// Login signs in and keeps the session cookie.
func (c *Client) Login(ctx context.Context, username, password string) (models.Profile, error) {
	var profile models.Profile
	resp, err := c.doRequest(ctx, "POST", "/login",
		handlers.Credentials{Username: username, Password: password}, &profile, nil)
	if err != nil {
		return models.Profile{}, err
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == auth.CookieName && cookie.Value != "" {
			if err := c.setSession(cookie.Value, profile.ID); err != nil {
				return models.Profile{}, fmt.Errorf("failed to save session: %w", err)
			}
			c.logger.Debug("logged in", zap.String("user_id", profile.ID))
			return profile, nil
		}
	}
	return models.Profile{}, fmt.Errorf("login response carried no session cookie")
}

func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.doRequest(ctx, "POST", "/logout", nil, nil, nil); err != nil {
		c.logger.Warn("logout request failed", zap.Error(err))
	}
	return c.setSession("", "")
}

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (models.Profile, error) {
	if c.sessionValue() == "" {
		return models.Profile{}, cerrors.ErrNotAuthenticated
	}
	var profile models.Profile
	if _, err := c.doRequest(ctx, "GET", "/me", nil, &profile, cerrors.ErrUserNotFound); err != nil {
		return models.Profile{}, err
	}
	return profile, nil
}

// CurrentUser returns the signed-in user's id, or ErrNotAuthenticated.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	c.mu.Lock()
	session, userID := c.session, c.userID
	c.mu.Unlock()

	if session == "" {
		return "", cerrors.ErrNotAuthenticated
	}
	if userID != "" {
		return userID, nil
	}

	profile, err := c.Me(ctx)
	if err != nil {
		if errors.Is(err, cerrors.ErrNotAuthenticated) {
			return "", cerrors.ErrNotAuthenticated
		}
		return "", err
	}
	c.mu.Lock()
	c.userID = profile.ID
	c.mu.Unlock()
	return profile.ID, nil
}

func (c *Client) Profile(ctx context.Context, userID string) (models.Profile, error) {
	var profile models.Profile
	_, err := c.doRequest(ctx, "GET", "/profiles/"+url.PathEscape(userID), nil, &profile, cerrors.ErrUserNotFound)
	return profile, err
}

func (c *Client) GetPublicKey(ctx context.Context, userID string) (string, error) {
	profile, err := c.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	return profile.PublicKey, nil
}

// SetPublicKey publishes the signed-in user's key. The server only accepts
// keys for the session's own user.
func (c *Client) SetPublicKey(ctx context.Context, userID, publicKey string) error {
	me, err := c.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if me != userID {
		return fmt.Errorf("cannot publish a key for %s while signed in as %s", userID, me)
	}
	_, err = c.doRequest(ctx, "PUT", "/profile/public_key",
		handlers.PublicKeyRequest{PublicKey: publicKey}, nil, cerrors.ErrUserNotFound)
	return err
}

// Create opens a conversation as the signed-in user, who must be senderID.
func (c *Client) Create(ctx context.Context, senderID, receiverID, itemID, envelope string) (*models.Conversation, error) {
	if err := c.requireUser(ctx, senderID); err != nil {
		return nil, err
	}
	var conv models.Conversation
	_, err := c.doRequest(ctx, "POST", "/conversations",
		handlers.CreateConversationRequest{ReceiverID: receiverID, ItemID: itemID, Envelope: envelope},
		&conv, cerrors.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) Read(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	_, err := c.doRequest(ctx, "GET", "/conversations/"+url.PathEscape(conversationID), nil, &conv, cerrors.ErrConversationNotFound)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Append adds an envelope as the signed-in user, who must be senderID.
func (c *Client) Append(ctx context.Context, conversationID, senderID, envelope string) (*models.Entry, error) {
	if err := c.requireUser(ctx, senderID); err != nil {
		return nil, err
	}
	var entry models.Entry
	_, err := c.doRequest(ctx, "POST", "/conversations/"+url.PathEscape(conversationID)+"/entries",
		handlers.AppendEntryRequest{Envelope: envelope}, &entry, cerrors.ErrConversationNotFound)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns the signed-in user's conversations, most recent first.
func (c *Client) List(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	if _, err := c.doRequest(ctx, "GET", "/conversations", nil, &convs, nil); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) requireUser(ctx context.Context, userID string) error {
	me, err := c.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if me != userID {
		return fmt.Errorf("%w: signed in as %s", cerrors.ErrNotParticipant, me)
	}
	return nil
}
