package secretstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrHandshakeFailed matches every handshake failure via errors.Is.
	// Which check failed is deliberately not part of the error text.
	ErrHandshakeFailed = errors.New("secretstream: could not establish secure connection")

	// ErrCorrupted matches every box stream decryption failure via errors.Is.
	ErrCorrupted = errors.New("secretstream: connection corrupted")

	// ErrSenderClosed is returned by Send after Close.
	ErrSenderClosed = errors.New("secretstream: sender closed")

	// ErrReceiverClosed is returned by a Receiver after Close.
	ErrReceiverClosed = errors.New("secretstream: receiver closed")
)

type handshakeError struct {
	role   string
	step   string
	reason string
	cause  error
}

func (e *handshakeError) Error() string {
	return ErrHandshakeFailed.Error()
}

// Is matches ErrHandshakeFailed. Context cancellation is also reported so
// callers can tell an aborted handshake from a rejected one.
func (e *handshakeError) Is(target error) bool {
	if target == ErrHandshakeFailed {
		return true
	}
	if target == context.Canceled || target == context.DeadlineExceeded {
		return errors.Is(e.cause, target)
	}
	return false
}

// LogValue exposes the failed step and reason to structured logs only.
func (e *handshakeError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("role", e.role),
		slog.String("step", e.step),
		slog.String("reason", e.reason),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

type transportError struct {
	err error
}

func newTransportError(err error) error {
	return &transportError{err}
}

func (e *transportError) Error() string {
	return fmt.Sprintf("secretstream: transport: %s", e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}

type decryptionError struct {
	part string
}

func newDecryptionError(part string) error {
	return &decryptionError{part}
}

func (e *decryptionError) Error() string {
	return ErrCorrupted.Error()
}

func (e *decryptionError) Is(target error) bool {
	return target == ErrCorrupted
}

// IsHandshakeError returns true when the error came from a failed handshake.
func IsHandshakeError(e error) bool {
	var he *handshakeError
	return errors.As(e, &he)
}

// IsTransportError returns true when the underlying connection failed to
// read or write. The underlying error is available through errors.Unwrap.
func IsTransportError(e error) bool {
	var te *transportError
	return errors.As(e, &te)
}

// IsDecryptionError returns true when a received packet failed
// authentication. The connection must not be used after this.
func IsDecryptionError(e error) bool {
	var de *decryptionError
	return errors.As(e, &de)
}
