package secretstream

import (
	"context"
	"io"
	"log/slog"
)

// KeyStore can be implemented to pass an object to validate client public keys.
type KeyStore interface {
	Allowed(Pubkey) bool
}

// PubkeySet is a KeyStore that allows exactly its members.
type PubkeySet map[Pubkey]struct{}

// NewPubkeySet returns a set holding keys.
func NewPubkeySet(keys ...Pubkey) PubkeySet {
	s := make(PubkeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s PubkeySet) Allowed(k Pubkey) bool {
	_, ok := s[k]
	return ok
}

// Client initiates handshakes with servers whose long-term key it knows.
type Client struct {
	NetworkID NetworkID
	Identity  KeyPair
	// Logger receives handshake diagnostics at debug level. Nil discards.
	Logger *slog.Logger
	// Metrics may be nil.
	Metrics *Metrics
}

// Handshake runs the client side of the handshake over rw. It does not close
// rw on failure.
func (c *Client) Handshake(ctx context.Context, rw io.ReadWriter, server Pubkey) (*HandshakeOutcome, error) {
	run := newHandshakeRun(ctx, "client", c.Logger, c.Metrics)
	ephPriv, ephPub, err := genEphemeralKeyPair()
	if err != nil {
		return nil, run.fail(stepClientHello, "cannot generate ephemeral keypair", err)
	}
	return clientHandshake(ctx, rw, c.NetworkID, c.Identity, server, ephPriv, ephPub, run)
}

// Connect performs the handshake over t and returns the two halves of the
// resulting box stream.
//
// Lifecycle information:
//
//   - If Connect returns an error, t will have been closed by the time this
//     function returns.
//   - t is closed once the Sender has been closed and the Receiver has either
//     been closed or reached the end of its stream.
func (c *Client) Connect(ctx context.Context, t Transport, server Pubkey) (*Sender, *Receiver, error) {
	bail := func(e error) (*Sender, *Receiver, error) {
		// These are unrecoverable errors.  We close the transport.
		t.Close()
		return nil, nil, e
	}
	outcome, err := c.Handshake(ctx, t, server)
	if err != nil {
		return bail(err)
	}
	s, r := newStreams(t, outcome, c.Metrics)
	return s, r, nil
}

// Server answers handshakes from any client that knows its long-term key.
type Server struct {
	NetworkID NetworkID
	Identity  KeyPair
	// KeyStore, when set, decides which client keys may complete the
	// handshake. Rejected clients see the connection close without an
	// accept message.
	KeyStore KeyStore
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Handshake runs the server side of the handshake over rw. It does not close
// rw on failure.
func (s *Server) Handshake(ctx context.Context, rw io.ReadWriter) (*HandshakeOutcome, error) {
	run := newHandshakeRun(ctx, "server", s.Logger, s.Metrics)
	ephPriv, ephPub, err := genEphemeralKeyPair()
	if err != nil {
		return nil, run.fail(stepClientHello, "cannot generate ephemeral keypair", err)
	}
	return serverHandshake(ctx, rw, s.NetworkID, s.Identity, s.KeyStore, ephPriv, ephPub, run)
}

// Accept performs the handshake over t and returns the two halves of the
// resulting box stream together with the verified client key. The lifecycle
// of t follows Client.Connect.
func (s *Server) Accept(ctx context.Context, t Transport) (*Sender, *Receiver, Pubkey, error) {
	bail := func(e error) (*Sender, *Receiver, Pubkey, error) {
		t.Close()
		return nil, nil, Pubkey{}, e
	}
	outcome, err := s.Handshake(ctx, t)
	if err != nil {
		return bail(err)
	}
	snd, rcv := newStreams(t, outcome, s.Metrics)
	return snd, rcv, outcome.PeerKey, nil
}
