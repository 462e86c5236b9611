package secretstream

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/secretbox"
)

func codecPair(t *testing.T) (enc, dec *boxStreamState) {
	var p BoxStreamParams
	_, err := rand.Read(p.Key[:])
	require.NoError(t, err)
	_, err = rand.Read(p.Nonce[:])
	require.NoError(t, err)
	return newBoxStreamState(p), newBoxStreamState(p)
}

func openPacket(t *testing.T, dec *boxStreamState, packet []byte) ([]byte, error) {
	t.Helper()
	require.GreaterOrEqual(t, len(packet), headerSize)
	h, err := dec.openHeader(packet[:headerSize])
	if err != nil {
		return nil, err
	}
	require.False(t, h.isGoodbye())
	require.Equal(t, len(packet)-headerSize, h.length)
	return dec.openBody(h, packet[headerSize:])
}

func TestPacketRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 11, 100, MaxChunkSize - 1, MaxChunkSize} {
		enc, dec := codecPair(t)
		body := make([]byte, size)
		rand.Read(body)

		packet := enc.seal(nil, body)
		require.Len(t, packet, headerSize+size)

		out, err := openPacket(t, dec, packet)
		require.NoError(t, err)
		require.True(t, bytes.Equal(body, out), "size %d", size)
	}
}

func TestNonceAdvancesByTwo(t *testing.T) {
	enc, dec := codecPair(t)
	want := enc.nonce
	for i := 0; i < 3; i++ {
		packet := enc.seal(nil, []byte("x"))
		increment(&want)
		increment(&want)
		require.Equal(t, want, enc.nonce)

		_, err := openPacket(t, dec, packet)
		require.NoError(t, err)
		require.Equal(t, enc.nonce, dec.nonce)
	}
	enc.sealGoodbye(nil)
	increment(&want)
	increment(&want)
	require.Equal(t, want, enc.nonce)
}

func TestIncrementWraps(t *testing.T) {
	var n [24]byte
	n[23] = 0xff
	n[22] = 0xff
	increment(&n)
	require.Equal(t, byte(1), n[21])
	require.Equal(t, byte(0), n[22])
	require.Equal(t, byte(0), n[23])

	for i := range n {
		n[i] = 0xff
	}
	increment(&n)
	require.Equal(t, [24]byte{}, n)
}

func TestOutOfOrderPacketsFail(t *testing.T) {
	enc, dec := codecPair(t)
	first := enc.seal(nil, []byte("first"))
	second := enc.seal(nil, []byte("second"))

	_, err := openPacket(t, dec, second)
	require.ErrorIs(t, err, ErrCorrupted)
	require.True(t, IsDecryptionError(err))

	// A failed header leaves the state untouched.
	out, err := openPacket(t, dec, first)
	require.NoError(t, err)
	require.Equal(t, "first", string(out))
}

func TestTamperedPacketsFail(t *testing.T) {
	enc, _ := codecPair(t)
	key := enc.key
	start := enc.nonce
	packet := enc.seal(nil, []byte("hello world"))

	for i := range packet {
		dec := newBoxStreamState(BoxStreamParams{Key: key, Nonce: start})
		bad := append([]byte(nil), packet...)
		bad[i] ^= 0x80
		_, err := openPacket(t, dec, bad)
		require.ErrorIs(t, err, ErrCorrupted, "byte %d", i)
	}
}

func TestGoodbyeIsRecognised(t *testing.T) {
	enc, dec := codecPair(t)
	packet := enc.sealGoodbye(nil)
	require.Len(t, packet, headerSize)

	h, err := dec.openHeader(packet)
	require.NoError(t, err)
	require.True(t, h.isGoodbye())
}

func TestEmptyChunkIsNotGoodbye(t *testing.T) {
	enc, dec := codecPair(t)
	packet := enc.seal(nil, nil)
	h, err := dec.openHeader(packet[:headerSize])
	require.NoError(t, err)
	require.False(t, h.isGoodbye())
	require.Equal(t, 0, h.length)
}

func TestOversizedLengthIsRejected(t *testing.T) {
	enc, dec := codecPair(t)
	var header [headerPlainSize]byte
	binary.BigEndian.PutUint16(header[:2], MaxChunkSize+1)
	header[2] = 1
	boxed := secretbox.Seal(nil, header[:], &enc.nonce, &enc.key)

	_, err := dec.openHeader(boxed)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestSealPanicsOnOversizedChunk(t *testing.T) {
	enc, _ := codecPair(t)
	require.Panics(t, func() { enc.seal(nil, make([]byte, MaxChunkSize+1)) })
}

func benchmarkSeal(size int, b *testing.B) {
	b.SetBytes(int64(size))
	var p BoxStreamParams
	enc := newBoxStreamState(p)
	body := make([]byte, size)
	var buf []byte
	for n := 0; n < b.N; n++ {
		buf = enc.seal(buf[:0], body)
	}
}

func BenchmarkSeal64(b *testing.B)   { benchmarkSeal(64, b) }
func BenchmarkSeal4096(b *testing.B) { benchmarkSeal(MaxChunkSize, b) }
