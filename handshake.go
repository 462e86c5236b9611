package secretstream

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	helloSize  = 64
	authSize   = ed25519.SignatureSize + 32 + secretbox.Overhead
	acceptSize = ed25519.SignatureSize + secretbox.Overhead
)

const (
	stepClientHello = "client hello"
	stepServerHello = "server hello"
	stepClientAuth  = "client authenticate"
	stepServerAcc   = "server accept"
)

var zeroNonce [24]byte

func rc(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

func wc(w io.Writer, data []byte) error {
	n, err := w.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

// helloMessage is hmac(netID, ephPK) followed by ephPK.
type helloMessage [helloSize]byte

func (h *helloMessage) build(netID NetworkID, eph ephemeralPubkey) {
	tag := hmacTag(netID, eph[:])
	copy(h[:32], tag[:])
	copy(h[32:], eph[:])
}

func (h *helloMessage) validate(netID NetworkID) (ephemeralPubkey, error) {
	var eph ephemeralPubkey
	if !verifyTag(netID, h[:32], h[32:]) {
		return eph, errors.New("hello tag mismatch, peer is on another network")
	}
	copy(eph[:], h[32:])
	return eph, nil
}

// clientProof is the payload signed by the client: netID, server key and
// the hash of the ephemeral shared secret.
func clientProof(s *sessionSecrets, server Pubkey) []byte {
	abHash := s.abHash()
	msg := make([]byte, 0, 32+32+32)
	msg = append(msg, s.netID[:]...)
	msg = append(msg, server[:]...)
	return append(msg, abHash[:]...)
}

// serverProof is the payload signed by the server: netID, the client
// signature, the client key and the hash of the ephemeral shared secret.
func serverProof(s *sessionSecrets, sigA []byte, client Pubkey) []byte {
	abHash := s.abHash()
	msg := make([]byte, 0, 32+ed25519.SignatureSize+32+32)
	msg = append(msg, s.netID[:]...)
	msg = append(msg, sigA...)
	msg = append(msg, client[:]...)
	return append(msg, abHash[:]...)
}

// authMessage is secretbox(sigA ‖ clientPK) under the auth key.
type authMessage [authSize]byte

func (a *authMessage) build(s *sessionSecrets, client KeyPair, server Pubkey) []byte {
	sigA := client.Private.sign(clientProof(s, server))
	plain := make([]byte, 0, ed25519.SignatureSize+32)
	plain = append(plain, sigA...)
	plain = append(plain, client.Public[:]...)
	key := s.authKey()
	copy(a[:], secretbox.Seal(nil, plain, &zeroNonce, &key))
	return sigA
}

func (a *authMessage) validate(s *sessionSecrets, server Pubkey) (sigA []byte, client Pubkey, err error) {
	key := s.authKey()
	plain, ok := secretbox.Open(nil, a[:], &zeroNonce, &key)
	if !ok {
		return nil, client, errors.New("cannot open authenticate box")
	}
	sigA = plain[:ed25519.SignatureSize]
	copy(client[:], plain[ed25519.SignatureSize:])
	if !client.verify(clientProof(s, server), sigA) {
		return nil, client, errors.New("client signature does not verify")
	}
	return sigA, client, nil
}

// acceptMessage is secretbox(sigB) under the accept key.
type acceptMessage [acceptSize]byte

func (m *acceptMessage) build(s *sessionSecrets, server KeyPair, sigA []byte, client Pubkey) {
	sigB := server.Private.sign(serverProof(s, sigA, client))
	key := s.acceptKey()
	copy(m[:], secretbox.Seal(nil, sigB, &zeroNonce, &key))
}

func (m *acceptMessage) validate(s *sessionSecrets, server Pubkey, sigA []byte, client Pubkey) error {
	key := s.acceptKey()
	sigB, ok := secretbox.Open(nil, m[:], &zeroNonce, &key)
	if !ok {
		return errors.New("cannot open accept box")
	}
	if !server.verify(serverProof(s, sigA, client), sigB) {
		return errors.New("server signature does not verify")
	}
	return nil
}

// handshakeRun carries the diagnostics of one handshake attempt.
type handshakeRun struct {
	role    string
	logger  *slog.Logger
	metrics *Metrics
	started time.Time
	ctx     context.Context
}

func newHandshakeRun(ctx context.Context, role string, logger *slog.Logger, m *Metrics) *handshakeRun {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &handshakeRun{role: role, logger: logger, metrics: m, started: time.Now(), ctx: ctx}
}

func (r *handshakeRun) fail(step, reason string, cause error) error {
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		cause = ctxErr
		reason = "handshake aborted"
	}
	err := &handshakeError{role: r.role, step: step, reason: reason, cause: cause}
	r.logger.LogAttrs(r.ctx, slog.LevelDebug, "handshake failed", slog.Any("handshake", err))
	r.metrics.handshakeFailed(r.role, step)
	return err
}

// ioFail reports a read or write failure during step.
func (r *handshakeRun) ioFail(step string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return r.fail(step, "connection closed mid-handshake", err)
	}
	return r.fail(step, "i/o failure", err)
}

func (r *handshakeRun) done(peer Pubkey) {
	r.logger.LogAttrs(r.ctx, slog.LevelDebug, "handshake complete",
		slog.String("role", r.role),
		slog.String("peer", peer.String()),
		slog.Duration("elapsed", time.Since(r.started)))
	r.metrics.handshakeCompleted(r.role, time.Since(r.started))
}

type deadliner interface {
	SetDeadline(time.Time) error
}

var aLongTimeAgo = time.Unix(1, 0)

// watchContext makes blocking reads and writes on rw observe ctx. Transports
// with deadlines get their deadline expired; others, and those whose
// SetDeadline fails, are closed. The returned function must be called when
// the handshake is over; it returns ctx's error when ctx fired in the
// meantime, or the error from clearing the deadline.
func watchContext(ctx context.Context, rw io.ReadWriter) func() error {
	if ctx.Done() == nil {
		return func() error { return nil }
	}
	d, hasDeadline := rw.(deadliner)
	if hasDeadline {
		if dl, ok := ctx.Deadline(); ok && d.SetDeadline(dl) != nil {
			hasDeadline = false
		}
	}
	stop := context.AfterFunc(ctx, func() {
		if hasDeadline && d.SetDeadline(aLongTimeAgo) == nil {
			return
		}
		if c, ok := rw.(io.Closer); ok {
			c.Close()
		}
	})
	return func() error {
		if !stop() {
			return ctx.Err()
		}
		if hasDeadline {
			return d.SetDeadline(time.Time{})
		}
		return nil
	}
}

func clientHandshake(ctx context.Context, rw io.ReadWriter, netID NetworkID, local KeyPair, server Pubkey,
	ephPriv ephemeralPrivkey, ephPub ephemeralPubkey, run *handshakeRun) (*HandshakeOutcome, error) {

	stop := watchContext(ctx, rw)
	outcome, err := clientSteps(rw, netID, local, server, ephPriv, ephPub, run)
	if serr := stop(); serr != nil && err == nil {
		return nil, run.fail(stepServerAcc, "cannot clear transport deadline", serr)
	}
	if err != nil {
		return nil, err
	}
	run.done(server)
	return outcome, nil
}

func clientSteps(rw io.ReadWriter, netID NetworkID, local KeyPair, server Pubkey,
	ephPriv ephemeralPrivkey, ephPub ephemeralPubkey, run *handshakeRun) (*HandshakeOutcome, error) {

	/* Send hello. */
	var hello helloMessage
	hello.build(netID, ephPub)
	if err := wc(rw, hello[:]); err != nil {
		return nil, run.ioFail(stepClientHello, err)
	}

	/* Receive and validate server hello. */
	var serverHello helloMessage
	if err := rc(rw, serverHello[:]); err != nil {
		return nil, run.ioFail(stepServerHello, err)
	}
	serverEph, err := serverHello.validate(netID)
	if err != nil {
		return nil, run.fail(stepServerHello, err.Error(), nil)
	}

	secrets := &sessionSecrets{netID: netID}
	if secrets.ab, err = sharedSecret(ephPriv, serverEph); err != nil {
		return nil, run.fail(stepServerHello, "bad server ephemeral key", err)
	}
	serverCurve, err := server.curve()
	if err != nil {
		return nil, run.fail(stepClientAuth, "bad server long-term key", err)
	}
	if secrets.aB, err = sharedSecret(ephPriv, serverCurve); err != nil {
		return nil, run.fail(stepClientAuth, "bad server long-term key", err)
	}

	/* Send authenticate. */
	var authMsg authMessage
	sigA := authMsg.build(secrets, local, server)
	if err := wc(rw, authMsg[:]); err != nil {
		return nil, run.ioFail(stepClientAuth, err)
	}

	/* Receive and validate accept. */
	var acc acceptMessage
	if err := rc(rw, acc[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, run.fail(stepServerAcc, "connection closed before accept, server rejected us or we dialed the wrong key", err)
		}
		return nil, run.ioFail(stepServerAcc, err)
	}
	if secrets.Ab, err = sharedSecret(local.Private.curve(), serverEph); err != nil {
		return nil, run.fail(stepServerAcc, "bad server ephemeral key", err)
	}
	if err := acc.validate(secrets, server, sigA, local.Public); err != nil {
		return nil, run.fail(stepServerAcc, err.Error(), nil)
	}

	return deriveOutcome(secrets, local.Public, server, ephPub, serverEph), nil
}

func serverHandshake(ctx context.Context, rw io.ReadWriter, netID NetworkID, local KeyPair, keys KeyStore,
	ephPriv ephemeralPrivkey, ephPub ephemeralPubkey, run *handshakeRun) (*HandshakeOutcome, error) {

	stop := watchContext(ctx, rw)
	outcome, err := serverSteps(rw, netID, local, keys, ephPriv, ephPub, run)
	if serr := stop(); serr != nil && err == nil {
		return nil, run.fail(stepServerAcc, "cannot clear transport deadline", serr)
	}
	if err != nil {
		return nil, err
	}
	run.done(outcome.PeerKey)
	return outcome, nil
}

func serverSteps(rw io.ReadWriter, netID NetworkID, local KeyPair, keys KeyStore,
	ephPriv ephemeralPrivkey, ephPub ephemeralPubkey, run *handshakeRun) (*HandshakeOutcome, error) {

	/* Receive and validate client hello. */
	var clientHello helloMessage
	if err := rc(rw, clientHello[:]); err != nil {
		return nil, run.ioFail(stepClientHello, err)
	}
	clientEph, err := clientHello.validate(netID)
	if err != nil {
		return nil, run.fail(stepClientHello, err.Error(), nil)
	}

	/* Send hello. */
	var hello helloMessage
	hello.build(netID, ephPub)
	if err := wc(rw, hello[:]); err != nil {
		return nil, run.ioFail(stepServerHello, err)
	}

	secrets := &sessionSecrets{netID: netID}
	if secrets.ab, err = sharedSecret(ephPriv, clientEph); err != nil {
		return nil, run.fail(stepClientHello, "bad client ephemeral key", err)
	}
	if secrets.aB, err = sharedSecret(local.Private.curve(), clientEph); err != nil {
		return nil, run.fail(stepClientHello, "bad client ephemeral key", err)
	}

	/* Receive and validate authenticate. */
	var authMsg authMessage
	if err := rc(rw, authMsg[:]); err != nil {
		return nil, run.ioFail(stepClientAuth, err)
	}
	sigA, client, err := authMsg.validate(secrets, local.Public)
	if err != nil {
		return nil, run.fail(stepClientAuth, err.Error(), nil)
	}
	if keys != nil && !keys.Allowed(client) {
		return nil, run.fail(stepClientAuth, fmt.Sprintf("client %s not authorized", client), nil)
	}
	clientCurve, err := client.curve()
	if err != nil {
		return nil, run.fail(stepClientAuth, "bad client long-term key", err)
	}
	if secrets.Ab, err = sharedSecret(ephPriv, clientCurve); err != nil {
		return nil, run.fail(stepClientAuth, "bad client long-term key", err)
	}

	/* Send accept. */
	var acc acceptMessage
	acc.build(secrets, local, sigA, client)
	if err := wc(rw, acc[:]); err != nil {
		return nil, run.ioFail(stepServerAcc, err)
	}

	return deriveOutcome(secrets, local.Public, client, ephPub, clientEph), nil
}
