package secretstream

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func wrappedPair(t *testing.T, p *parms) (client, server *EncryptedConn) {
	t.Helper()
	c, s := net.Pipe()
	done := make(chan error, 1)
	go func() {
		var err error
		server, err = WrapServer(context.Background(), s, p.server)
		done <- err
	}()
	client, err := WrapClient(context.Background(), c, p.client, p.server.Identity.Public)
	require.NoError(t, err)
	require.NoError(t, <-done)
	return client, server
}

func TestEncryptedConnReadWrite(t *testing.T) {
	p := validParms(t)
	client, server := wrappedPair(t, p)
	require.Equal(t, p.server.Identity.Public, client.PeerKey())
	require.Equal(t, p.client.Identity.Public, server.PeerKey())

	go func() {
		client.Write([]byte("abc def"))
		client.Write([]byte("ABC DEF MNO PQR"))
		client.Write(nil)
		client.Write([]byte("SHORT"))
		client.Close()
	}()

	var small [8]byte
	n, err := server.Read(small[:])
	require.NoError(t, err)
	require.Equal(t, "abc def", string(small[:n]))

	n, err = server.Read(small[:])
	require.NoError(t, err)
	require.Equal(t, "ABC DEF ", string(small[:n]))
	n, err = server.Read(small[:])
	require.NoError(t, err)
	require.Equal(t, "MNO PQR", string(small[:n]))

	// ReadFrame hands out empty messages; Read skips them.
	frame, err := server.ReadFrame()
	require.NoError(t, err)
	require.Empty(t, frame)

	frame, err = server.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "SHORT", string(frame))

	_, err = server.Read(small[:])
	require.ErrorIs(t, err, io.EOF)
	server.Close()
}

func TestReadFrameRefusesPartialBuffer(t *testing.T) {
	p := validParms(t)
	client, server := wrappedPair(t, p)
	go client.Write([]byte("0123456789"))

	var small [4]byte
	_, err := server.Read(small[:])
	require.NoError(t, err)
	_, err = server.ReadFrame()
	require.Error(t, err)

	rest, err := io.ReadAll(io.LimitReader(server, 6))
	require.NoError(t, err)
	require.Equal(t, "456789", string(rest))
	client.conn.Close()
	server.conn.Close()
}

func TestWrapClientFailureClosesConn(t *testing.T) {
	p := validParms(t)
	// A server on a different network.
	srv := *p.server
	srv.NetworkID = randomNetworkID(t)
	c, s := net.Pipe()
	go func() {
		WrapServer(context.Background(), s, &srv)
	}()
	_, err := WrapClient(context.Background(), c, p.client, p.server.Identity.Public)
	require.ErrorIs(t, err, ErrHandshakeFailed)
	_, err = c.Write([]byte{0})
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestReadDeliversFullPacketWithoutTerminator(t *testing.T) {
	p := validParms(t)
	client, server := wrappedPair(t, p)
	defer client.conn.Close()
	defer server.conn.Close()

	// One full packet and nothing after it, as other implementations send
	// for a 4096-byte write.
	go func() {
		client.sender.mu.Lock()
		defer client.sender.mu.Unlock()
		client.sender.writeChunk(make([]byte, MaxChunkSize))
	}()

	type result struct {
		n   int
		err error
	}
	got := make(chan result, 1)
	go func() {
		n, err := server.Read(make([]byte, 2*MaxChunkSize))
		got <- result{n, err}
	}()
	select {
	case r := <-got:
		require.NoError(t, r.err)
		require.Equal(t, MaxChunkSize, r.n)
	case <-time.After(2 * time.Second):
		t.Fatal("Read held back a packet that had already arrived")
	}

	_, err := server.ReadFrame()
	require.Error(t, err, "the rest of the message has not been read")
}

func TestCloseDoesNotWaitForPendingWrite(t *testing.T) {
	p := validParms(t)
	client, server := wrappedPair(t, p)
	defer server.conn.Close()

	// Nobody reads on the server side, so this Write blocks.
	wrote := make(chan error, 1)
	go func() {
		_, err := client.Write(make([]byte, 100))
		wrote <- err
	}()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- client.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a pending Write")
	}
	require.Error(t, <-wrote)
}

func TestCloseGivesUpOnGoodbye(t *testing.T) {
	p := validParms(t)
	client, server := wrappedPair(t, p)
	defer server.conn.Close()

	start := time.Now()
	require.NoError(t, client.Close())
	require.Less(t, time.Since(start), 2*time.Second)

	_, err := client.conn.Write([]byte{0})
	require.ErrorIs(t, err, io.ErrClosedPipe)
}
