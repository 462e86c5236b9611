package secretstream

import (
	"context"
	"errors"
	"net"
	"time"
)

// goodbyeTimeout bounds how long Close waits for the goodbye packet to be
// written.
const goodbyeTimeout = 500 * time.Millisecond

// EncryptedConn is a net.Conn whose traffic runs through a box stream.
// Every Write is sent as one message; Read hands out received data as a
// plain byte stream, as soon as each packet arrives.
type EncryptedConn struct {
	conn      net.Conn
	sender    *Sender
	receiver  *Receiver
	peer      Pubkey
	recvFrame []byte
	// midFrame is set while Read has consumed part of a multi-packet message.
	midFrame bool
}

func newEncryptedConn(conn net.Conn, s *Sender, r *Receiver, peer Pubkey) *EncryptedConn {
	return &EncryptedConn{conn: conn, sender: s, receiver: r, peer: peer}
}

// PeerKey returns the verified long-term key of the other side.
func (w *EncryptedConn) PeerKey() Pubkey {
	return w.peer
}

// Close closes the underlying connection, unblocking any pending Read or
// Write. The goodbye packet is sent first if no Write is in progress and
// the peer takes it within a short time.
func (w *EncryptedConn) Close() error {
	w.conn.SetWriteDeadline(time.Now().Add(goodbyeTimeout))
	w.sender.closeIfIdle()
	w.receiver.Close()
	if err := w.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (w *EncryptedConn) LocalAddr() net.Addr {
	return w.conn.LocalAddr()
}

func (w *EncryptedConn) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

// Read copies received data into b. Data is returned packet by packet, so
// a full packet is delivered without waiting for the rest of its message.
// If b is too small for the current packet, the remainder is kept for
// subsequent reads. Empty packets are skipped. Read returns io.EOF after the
// peer's goodbye.
func (w *EncryptedConn) Read(b []byte) (int, error) {
	for len(w.recvFrame) == 0 {
		chunk, err := w.receiver.ReadChunk()
		if err != nil {
			return 0, err
		}
		w.midFrame = len(chunk) == MaxChunkSize
		w.recvFrame = chunk
	}
	n := copy(b, w.recvFrame)
	w.recvFrame = w.recvFrame[n:]
	return n, nil
}

// ReadFrame returns the next whole message.
// It is an error to call ReadFrame while a previous Read left part of a
// message unread.
func (w *EncryptedConn) ReadFrame() ([]byte, error) {
	if len(w.recvFrame) != 0 || w.midFrame {
		return nil, errors.New("secretstream: cannot read a frame while part of a frame is unread")
	}
	return w.receiver.Next()
}

// Write sends b as one message.
func (w *EncryptedConn) Write(b []byte) (int, error) {
	if err := w.sender.Send(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (w *EncryptedConn) SetDeadline(t time.Time) error {
	return w.conn.SetDeadline(t)
}

func (w *EncryptedConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *EncryptedConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

// WrapClient runs the client handshake over conn and returns the encrypted
// connection.
//
// Lifecycle information:
//
//   - If WrapClient returns an error, conn will have been closed by the time
//     this function returns.
//   - Close on the returned connection also closes conn.
//   - If you read or write any data to conn rather than go through the
//     returned connection, your data will be transmitted in plaintext and
//     the peer will close the connection.  Don't do that.
func WrapClient(ctx context.Context, conn net.Conn, client *Client, server Pubkey) (*EncryptedConn, error) {
	s, r, err := client.Connect(ctx, conn, server)
	if err != nil {
		return nil, err
	}
	return newEncryptedConn(conn, s, r, server), nil
}

// WrapServer runs the server handshake over conn and returns the encrypted
// connection. Use PeerKey to learn who connected. The lifecycle of conn
// follows WrapClient.
func WrapServer(ctx context.Context, conn net.Conn, server *Server) (*EncryptedConn, error) {
	s, r, peer, err := server.Accept(ctx, conn)
	if err != nil {
		return nil, err
	}
	return newEncryptedConn(conn, s, r, peer), nil
}
