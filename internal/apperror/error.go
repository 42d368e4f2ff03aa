// Package apperror unifies the failures of the mail engine, local I/O, the
// keyring and JSON encoding into one error type with a stable external form.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the subsystem an error came from.
type Kind int

const (
	KindMail Kind = iota
	KindIo
	KindKeyring
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindMail:
		return "mail"
	case KindIo:
		return "io"
	case KindKeyring:
		return "keyring"
	case KindJSON:
		return "json"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Short user-facing summaries, one per kind.
const (
	MessageMail    = "Error with upstream mail server"
	MessageIo      = "IO error"
	MessageKeyring = "Error with keyring"
	MessageJSON    = "Failed to serialize/deserialize json data"
	MessageSession = "Unknown or expired session"
)

// ExternalKind is the kind tag every error carries across the boundary.
const ExternalKind = "MailError"

// ErrUnknownSession marks a token that cannot be resolved to a session,
// either because it was never logged in or because its stored credentials
// are gone.
var ErrUnknownSession = errors.New("unknown or expired session")

// Error is the single error type returned by boundary operations.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New returns an error of the given kind with a custom summary.
func New(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Mail wraps a failure of the mail engine.
func Mail(err error) *Error { return New(KindMail, MessageMail, err) }

// Io wraps a local file or system failure.
func Io(err error) *Error { return New(KindIo, MessageIo, err) }

// Keyring wraps a secret store failure.
func Keyring(err error) *Error { return New(KindKeyring, MessageKeyring, err) }

// JSON wraps an encoding or decoding failure.
func JSON(err error) *Error { return New(KindJSON, MessageJSON, err) }

// UnknownSession reports a token that has no live session and no stored
// credentials. cause is the keyring miss, or nil.
func UnknownSession(cause error) *Error {
	if cause == nil {
		cause = ErrUnknownSession
	} else {
		cause = fmt.Errorf("%w: %w", ErrUnknownSession, cause)
	}
	return New(KindKeyring, MessageSession, cause)
}

// Kind returns the subsystem the error came from.
func (e *Error) Kind() Kind { return e.kind }

// Describe returns the short summary, independent of the cause.
func (e *Error) Describe() string { return e.message }

func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// External is the representation sent to the presentation layer.
type External struct {
	// Message is the text of the underlying cause.
	Message string `json:"message"`

	// Kind is always ExternalKind; the frontend matches on it.
	Kind string `json:"kind"`

	// Type carries the distinct kind (mail, io, keyring, json).
	Type string `json:"type"`
}

// External returns the boundary representation of e.
func (e *Error) External() External {
	msg := e.message
	if e.cause != nil {
		msg = e.cause.Error()
	}
	return External{Message: msg, Kind: ExternalKind, Type: e.kind.String()}
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.External())
}

// From converts any error into *Error. Errors that already are *Error are
// returned as is; anything else is treated as a mail failure.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Mail(err)
}

// IsKind reports whether err (or any error in its chain) is an *Error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.kind == kind
}

// IsUnknownSession reports whether err means the token must be re-issued
// through login.
func IsUnknownSession(err error) bool {
	return errors.Is(err, ErrUnknownSession)
}
