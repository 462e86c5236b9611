package secretstream

import (
	"encoding/binary"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// MaxChunkSize is the largest body a single box stream packet carries.
	MaxChunkSize = 4096

	tagSize         = secretbox.Overhead
	headerPlainSize = 2 + tagSize
	headerSize      = headerPlainSize + secretbox.Overhead
)

// boxStreamState is one direction of a box stream. The key never changes;
// the nonce advances by two per packet, one for the header and one for the
// body.
type boxStreamState struct {
	key   [32]byte
	nonce [24]byte
}

func newBoxStreamState(p BoxStreamParams) *boxStreamState {
	return &boxStreamState{key: p.Key, nonce: p.Nonce}
}

// increment treats the nonce as a 24-byte big-endian integer, wrapping at
// the top.
func increment(n *[24]byte) {
	for i := len(n) - 1; i >= 0; i-- {
		n[i]++
		if n[i] != 0 {
			return
		}
	}
}

func (s *boxStreamState) advance() {
	increment(&s.nonce)
	increment(&s.nonce)
}

func (s *boxStreamState) bodyNonce() [24]byte {
	n := s.nonce
	increment(&n)
	return n
}

// seal appends the packet for body to dst. body must not exceed
// MaxChunkSize.
func (s *boxStreamState) seal(dst, body []byte) []byte {
	if len(body) > MaxChunkSize {
		panic("secretstream: chunk larger than MaxChunkSize")
	}
	bn := s.bodyNonce()
	sealedBody := secretbox.Seal(nil, body, &bn, &s.key)

	var header [headerPlainSize]byte
	binary.BigEndian.PutUint16(header[:2], uint16(len(body)))
	copy(header[2:], sealedBody[:tagSize])

	dst = secretbox.Seal(dst, header[:], &s.nonce, &s.key)
	dst = append(dst, sealedBody[tagSize:]...)
	s.advance()
	return dst
}

// sealGoodbye appends the end-of-stream packet to dst.
func (s *boxStreamState) sealGoodbye(dst []byte) []byte {
	var header [headerPlainSize]byte
	dst = secretbox.Seal(dst, header[:], &s.nonce, &s.key)
	s.advance()
	return dst
}

type packetHeader struct {
	length int
	tag    [tagSize]byte
}

func (h *packetHeader) isGoodbye() bool {
	return h.length == 0 && h.tag == [tagSize]byte{}
}

// openHeader authenticates a boxed header. A goodbye header advances the
// nonce and is reported through isGoodbye; any other header leaves the
// nonce in place for openBody.
func (s *boxStreamState) openHeader(boxed []byte) (packetHeader, error) {
	var h packetHeader
	plain, ok := secretbox.Open(nil, boxed, &s.nonce, &s.key)
	if !ok || len(plain) != headerPlainSize {
		return h, newDecryptionError("header")
	}
	h.length = int(binary.BigEndian.Uint16(plain[:2]))
	copy(h.tag[:], plain[2:])
	if h.isGoodbye() {
		s.advance()
		return h, nil
	}
	if h.length > MaxChunkSize {
		return h, newDecryptionError("length")
	}
	return h, nil
}

// openBody authenticates and decrypts the body announced by h.
func (s *boxStreamState) openBody(h packetHeader, ciphertext []byte) ([]byte, error) {
	boxed := make([]byte, 0, tagSize+len(ciphertext))
	boxed = append(boxed, h.tag[:]...)
	boxed = append(boxed, ciphertext...)
	bn := s.bodyNonce()
	plain, ok := secretbox.Open(nil, boxed, &bn, &s.key)
	if !ok {
		return nil, newDecryptionError("body")
	}
	s.advance()
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}
