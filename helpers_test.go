package secretstream

import (
	"context"
	"crypto/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type Fataler interface {
	Fatal(...any)
}

func keyPair(t Fataler) KeyPair {
	kp, err := GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func randomNetworkID(t Fataler) NetworkID {
	var n NetworkID
	if _, err := rand.Read(n[:]); err != nil {
		t.Fatal(err)
	}
	return n
}

type parms struct {
	netID  NetworkID
	client *Client
	server *Server
}

func validParms(t Fataler) *parms {
	netID := randomNetworkID(t)
	return &parms{
		netID:  netID,
		client: &Client{NetworkID: netID, Identity: keyPair(t)},
		server: &Server{NetworkID: netID, Identity: keyPair(t)},
	}
}

type connectResult struct {
	sender   *Sender
	receiver *Receiver
	peer     Pubkey
	err      error
}

// connectPair runs Connect and Accept against each other over the given
// transports and returns both results.
func connectPair(ctx context.Context, p *parms, serverKey Pubkey, clientSide, serverSide Transport) (client, server connectResult) {
	done := make(chan connectResult, 1)
	go func() {
		s, r, peer, err := p.server.Accept(ctx, serverSide)
		done <- connectResult{s, r, peer, err}
	}()
	s, r, err := p.client.Connect(ctx, clientSide, serverKey)
	client = connectResult{s, r, serverKey, err}
	server = <-done
	return client, server
}

// connected returns both ends of an established box stream over net.Pipe.
func connected(t *testing.T, p *parms) (client, server connectResult) {
	t.Helper()
	c, s := net.Pipe()
	client, server = connectPair(context.Background(), p, p.server.Identity.Public, c, s)
	require.NoError(t, client.err)
	require.NoError(t, server.err)
	return client, server
}

// tamperConn flips one bit of the byte written at offset.
type tamperConn struct {
	net.Conn
	offset  int
	written int
}

func (c *tamperConn) Write(p []byte) (int, error) {
	if c.offset >= c.written && c.offset < c.written+len(p) {
		q := append([]byte(nil), p...)
		q[c.offset-c.written] ^= 0x01
		p = q
	}
	c.written += len(p)
	return c.Conn.Write(p)
}
