// Package errors provides centralized error definitions for rentchat.
package errors

import "errors"

// Key errors.
var (
	// ErrKeyFormat indicates a key did not decode to exactly 32 bytes.
	ErrKeyFormat = errors.New("invalid key format")

	// ErrKeyGeneration indicates a generated key pair was malformed.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrKeysUnavailable indicates one or both parties' keys cannot be resolved yet.
	ErrKeysUnavailable = errors.New("keys unavailable")
)

// Cipher errors.
var (
	// ErrEncryptionFailed indicates a message could not be encrypted.
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrDecryptionFailed indicates an envelope did not authenticate under the given keys.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMalformedEnvelope indicates an envelope is not base64 or is too short.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Store errors.
var (
	// ErrUserNotFound indicates the requested profile does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUser indicates the username is already taken.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrConversationNotFound indicates the requested conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotParticipant indicates the user is not one of the conversation's two participants.
	ErrNotParticipant = errors.New("not a participant")

	// ErrInvalidConversation indicates the conversation parameters are invalid.
	ErrInvalidConversation = errors.New("invalid conversation")
)

// Session errors.
var (
	// ErrNotAuthenticated indicates there is no signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrEmptyMessage indicates the outgoing text is blank after trimming.
	ErrEmptyMessage = errors.New("empty message")

	// ErrSendInFlight indicates a send is already running for the session.
	ErrSendInFlight = errors.New("send already in flight")

	// ErrSendFailed indicates the envelope could not be appended to the chat log.
	ErrSendFailed = errors.New("send failed")

	// ErrSendTimedOut indicates the append did not complete before the send deadline.
	ErrSendTimedOut = errors.New("send timed out")
)

// Secret store errors.
var (
	// ErrInvalidSecretKey indicates a secret store key contains unsupported characters.
	ErrInvalidSecretKey = errors.New("invalid secret key name")

	// ErrSecretCorrupted indicates a sealed secret failed authentication.
	ErrSecretCorrupted = errors.New("secret corrupted")
)
