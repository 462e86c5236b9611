package secretstream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Rudd-O/secretstream/internal/ratelimit"
)

// DefaultHandshakeTimeout bounds a handshake run by a Listener.
const DefaultHandshakeTimeout = 10 * time.Second

// ListenerOptions tunes a Listener. The zero value is usable.
type ListenerOptions struct {
	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// RatePerSecond and Burst limit new connections per remote host.
	// Zero disables the limit.
	RatePerSecond float64
	Burst         int
}

// Listener is a net.Listener whose Accept returns *EncryptedConn values for
// clients that completed the server handshake. Handshakes run concurrently,
// so a slow client cannot hold up others.
type Listener struct {
	inner   net.Listener
	server  *Server
	timeout time.Duration
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	conns  chan *EncryptedConn
	failed chan struct{}
	err    error
	wg     sync.WaitGroup
}

// NewListener starts accepting on inner. Closing the Listener closes inner.
func NewListener(inner net.Listener, server *Server, opts ListenerOptions) *Listener {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	logger := server.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		inner:   inner,
		server:  server,
		timeout: timeout,
		limiter: ratelimit.New(opts.RatePerSecond, opts.Burst, 0),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(chan *EncryptedConn),
		failed:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.serve()
	return l
}

func (l *Listener) serve() {
	defer l.wg.Done()
	defer close(l.failed)
	var backoff time.Duration
	for {
		raw, err := l.inner.Accept()
		if err != nil {
			if l.ctx.Err() != nil || !isTemporary(err) {
				l.err = err
				return
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			l.logger.Warn("accept failed, retrying", "err", err, "delay", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-l.ctx.Done():
				l.err = net.ErrClosed
				return
			}
		}
		backoff = 0
		host := remoteHost(raw.RemoteAddr())
		if !l.limiter.Allow(host, time.Now()) {
			l.logger.Debug("connection rate limited", "remote", host)
			l.server.Metrics.connectionRejected()
			raw.Close()
			continue
		}
		l.wg.Add(1)
		go l.handshake(raw)
	}
}

func (l *Listener) handshake(raw net.Conn) {
	defer l.wg.Done()
	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()
	conn, err := WrapServer(ctx, raw, l.server)
	if err != nil {
		return
	}
	select {
	case l.conns <- conn:
	case <-l.ctx.Done():
		conn.Close()
	}
}

// Accept waits for the next authenticated connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.failed:
		return nil, l.err
	}
}

// Close stops accepting and aborts handshakes in flight. It returns once
// every goroutine of the Listener has finished.
func (l *Listener) Close() error {
	l.cancel()
	err := l.inner.Close()
	l.wg.Wait()
	return err
}

func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}

// isTemporary reports errors such as running out of file descriptors, after
// which accepting again may succeed.
func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
