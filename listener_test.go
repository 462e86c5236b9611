package secretstream

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestListenerAcceptsAuthenticatedClients(t *testing.T) {
	p := validParms(t)
	l := NewListener(listen(t), p.server, ListenerOptions{})
	defer l.Close()

	go func() {
		raw, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			return
		}
		conn, err := WrapClient(context.Background(), raw, p.client, p.server.Identity.Public)
		if err != nil {
			return
		}
		conn.Write([]byte("ping"))
		conn.Close()
	}()

	conn, err := l.Accept()
	require.NoError(t, err)
	ec := conn.(*EncryptedConn)
	require.Equal(t, p.client.Identity.Public, ec.PeerKey())

	msg, err := ec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "ping", string(msg))
	ec.Close()
}

func TestListenerSkipsFailedHandshakes(t *testing.T) {
	p := validParms(t)
	l := NewListener(listen(t), p.server, ListenerOptions{HandshakeTimeout: 200 * time.Millisecond})
	defer l.Close()

	// One client that never speaks, one on the wrong network, one good.
	idle, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer idle.Close()

	wrong := *p.client
	wrong.NetworkID = randomNetworkID(t)
	raw, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, err = WrapClient(context.Background(), raw, &wrong, p.server.Identity.Public)
	require.ErrorIs(t, err, ErrHandshakeFailed)

	go func() {
		raw, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			return
		}
		if conn, err := WrapClient(context.Background(), raw, p.client, p.server.Identity.Public); err == nil {
			conn.Close()
		}
	}()

	conn, err := l.Accept()
	require.NoError(t, err)
	require.Equal(t, p.client.Identity.Public, conn.(*EncryptedConn).PeerKey())
	conn.Close()
}

func TestListenerRateLimit(t *testing.T) {
	p := validParms(t)
	reg := prometheus.NewRegistry()
	p.server.Metrics = NewMetrics(reg)
	l := NewListener(listen(t), p.server, ListenerOptions{RatePerSecond: 0.001, Burst: 1})
	defer l.Close()

	first, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer first.Close()

	second, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	// The limited connection is closed without a word.
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = second.Read(make([]byte, 1))
	require.Error(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(p.server.Metrics.connsRejected))
}

func TestListenerClose(t *testing.T) {
	p := validParms(t)
	l := NewListener(listen(t), p.server, ListenerOptions{})
	require.NoError(t, l.Close())
	_, err := l.Accept()
	require.ErrorIs(t, err, net.ErrClosed)
}

type temporaryError struct{}

func (temporaryError) Error() string   { return "too many open files" }
func (temporaryError) Timeout() bool   { return false }
func (temporaryError) Temporary() bool { return true }

// flakyListener fails its first Accept calls with a temporary error.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (f *flakyListener) Accept() (net.Conn, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, temporaryError{}
	}
	return f.Listener.Accept()
}

func TestListenerSurvivesTemporaryErrors(t *testing.T) {
	p := validParms(t)
	inner := &flakyListener{Listener: listen(t)}
	inner.failures.Store(3)
	l := NewListener(inner, p.server, ListenerOptions{})
	defer l.Close()

	go func() {
		raw, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			return
		}
		if conn, err := WrapClient(context.Background(), raw, p.client, p.server.Identity.Public); err == nil {
			conn.Close()
		}
	}()

	conn, err := l.Accept()
	require.NoError(t, err)
	require.Equal(t, p.client.Identity.Public, conn.(*EncryptedConn).PeerKey())
	conn.Close()
}

func TestListenerCloseWhileHandshaking(t *testing.T) {
	p := validParms(t)
	l := NewListener(listen(t), p.server, ListenerOptions{})

	// Handshakes that never finish must not keep Close waiting.
	for i := 0; i < 4; i++ {
		raw, err := net.Dial("tcp", l.Addr().String())
		require.NoError(t, err)
		defer raw.Close()
	}
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- l.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close waited for stalled handshakes")
	}
}
