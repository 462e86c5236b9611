package secretstream

import (
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
)

// Transport is the reliable, ordered duplex byte stream a box stream runs
// over, typically a TCP connection. When it also has a SetDeadline method,
// handshakes honour context deadlines through it.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// sharedTransport closes the transport once both halves let go of it.
type sharedTransport struct {
	t    Transport
	refs atomic.Int32
	once sync.Once
	err  error
}

func newSharedTransport(t Transport) *sharedTransport {
	s := &sharedTransport{t: t}
	s.refs.Store(2)
	return s
}

func (s *sharedTransport) release() error {
	if s.refs.Add(-1) == 0 {
		return s.close()
	}
	return nil
}

func (s *sharedTransport) close() error {
	s.once.Do(func() { s.err = s.t.Close() })
	return s.err
}

// newStreams builds the two halves of a box stream from a handshake outcome.
func newStreams(t Transport, o *HandshakeOutcome, m *Metrics) (*Sender, *Receiver) {
	shared := newSharedTransport(t)
	s := &Sender{
		w:         t,
		state:     newBoxStreamState(o.Encrypt),
		transport: shared,
		metrics:   m,
	}
	r := &Receiver{
		r:         t,
		state:     newBoxStreamState(o.Decrypt),
		transport: shared,
		metrics:   m,
	}
	return s, r
}

// Sender encrypts and writes messages. It is safe for concurrent use;
// packets of one Send are never interleaved with another.
type Sender struct {
	mu        sync.Mutex
	w         io.Writer
	state     *boxStreamState
	buf       []byte
	closed    bool
	err       error
	transport *sharedTransport
	metrics   *Metrics
}

// Send writes msg as one logical message. Messages longer than MaxChunkSize
// span several packets; a message whose length is a multiple of
// MaxChunkSize, including the empty message, ends with an empty packet so
// the receiver can find its end.
//
// A failed write leaves the Sender unusable; the error is returned again by
// every later Send.
func (s *Sender) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}
	if s.err != nil {
		return s.err
	}
	for {
		n := min(len(msg), MaxChunkSize)
		if err := s.writeChunk(msg[:n]); err != nil {
			s.err = err
			return err
		}
		msg = msg[n:]
		if n < MaxChunkSize {
			return nil
		}
	}
}

func (s *Sender) writeChunk(chunk []byte) error {
	s.buf = s.state.seal(s.buf[:0], chunk)
	if err := wc(s.w, s.buf); err != nil {
		return newTransportError(err)
	}
	s.metrics.packetSent(len(chunk))
	return nil
}

// Close sends the goodbye packet exactly once and releases the Sender's
// hold on the transport. Later calls return nil.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// closeIfIdle is Close for callers that must not wait behind a pending
// Send. It reports false, and leaves the Sender alone, when a Send holds the
// lock.
func (s *Sender) closeIfIdle() (bool, error) {
	if !s.mu.TryLock() {
		return false, nil
	}
	defer s.mu.Unlock()
	return true, s.closeLocked()
}

func (s *Sender) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.err == nil {
		s.buf = s.state.sealGoodbye(s.buf[:0])
		if werr := wc(s.w, s.buf); werr != nil {
			err = newTransportError(werr)
		}
	}
	if cerr := s.transport.release(); err == nil && cerr != nil {
		err = newTransportError(cerr)
	}
	return err
}

// Receiver reads and decrypts messages. It must be consumed from a single
// goroutine; Close may be called from any goroutine.
type Receiver struct {
	r         io.Reader
	state     *boxStreamState
	header    [headerSize]byte
	err       error
	closed    atomic.Bool
	release   sync.Once
	transport *sharedTransport
	metrics   *Metrics
}

// ReadChunk returns the body of the next packet. It returns io.EOF once the
// peer said goodbye. Any other error is terminal and is returned again on
// every later call.
func (r *Receiver) ReadChunk() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.closed.Load() {
		return nil, ErrReceiverClosed
	}
	chunk, err := r.readChunk()
	if err != nil {
		r.terminate(err)
		return nil, err
	}
	return chunk, nil
}

func (r *Receiver) readChunk() ([]byte, error) {
	if err := rc(r.r, r.header[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, newTransportError(err)
	}
	h, err := r.state.openHeader(r.header[:])
	if err != nil {
		r.metrics.decryptionFailed()
		return nil, err
	}
	if h.isGoodbye() {
		return nil, io.EOF
	}
	body := make([]byte, h.length)
	if err := rc(r.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, newTransportError(err)
	}
	plain, err := r.state.openBody(h, body)
	if err != nil {
		r.metrics.decryptionFailed()
		return nil, err
	}
	r.metrics.packetReceived(len(plain))
	return plain, nil
}

// Next returns the next whole message, reassembled from as many packets as
// the sender split it into. It returns io.EOF after the peer's goodbye.
func (r *Receiver) Next() ([]byte, error) {
	var msg []byte
	for {
		chunk, err := r.ReadChunk()
		if err != nil {
			if errors.Is(err, io.EOF) && msg != nil {
				// Goodbye cut a message short; hand over what arrived.
				return msg, nil
			}
			return nil, err
		}
		msg = append(msg, chunk...)
		if len(chunk) < MaxChunkSize {
			if msg == nil {
				msg = []byte{}
			}
			return msg, nil
		}
	}
}

// Messages returns the sequence of remaining messages. The sequence ends
// silently after goodbye; a transport or decryption failure is yielded as
// the final element. It can be ranged over only once.
func (r *Receiver) Messages() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			msg, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}

// Close stops the Receiver and releases its hold on the transport.
func (r *Receiver) Close() error {
	r.closed.Store(true)
	return r.releaseTransport()
}

func (r *Receiver) terminate(err error) {
	r.err = err
	r.releaseTransport()
}

func (r *Receiver) releaseTransport() error {
	var err error
	r.release.Do(func() {
		if cerr := r.transport.release(); cerr != nil {
			err = newTransportError(cerr)
		}
	})
	return err
}
