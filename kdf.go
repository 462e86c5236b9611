package secretstream

import (
	"crypto/sha256"

	"golang.org/x/crypto/nacl/auth"
)

// BoxStreamParams is the key and starting nonce for one direction of a box
// stream.
type BoxStreamParams struct {
	Key   [32]byte
	Nonce [24]byte
}

// HandshakeOutcome is the result of a successful handshake. The Encrypt
// parameters of one side equal the Decrypt parameters of the other.
type HandshakeOutcome struct {
	PeerKey Pubkey
	Encrypt BoxStreamParams
	Decrypt BoxStreamParams
}

// sessionSecrets accumulates the three Diffie-Hellman results of a handshake.
// ab is ephemeral-ephemeral, aB is client ephemeral with server long-term,
// Ab is client long-term with server ephemeral.
type sessionSecrets struct {
	netID NetworkID
	ab    [32]byte
	aB    [32]byte
	Ab    [32]byte
}

func (s *sessionSecrets) abHash() [32]byte {
	return sha256.Sum256(s.ab[:])
}

// authKey seals the client authenticate message.
func (s *sessionSecrets) authKey() [32]byte {
	h := sha256.New()
	h.Write(s.netID[:])
	h.Write(s.ab[:])
	h.Write(s.aB[:])
	return sum(h.Sum(nil))
}

// acceptKey seals the server accept message and seeds the box stream keys.
func (s *sessionSecrets) acceptKey() [32]byte {
	h := sha256.New()
	h.Write(s.netID[:])
	h.Write(s.ab[:])
	h.Write(s.aB[:])
	h.Write(s.Ab[:])
	return sum(h.Sum(nil))
}

func sum(b []byte) (out [32]byte) {
	copy(out[:], b)
	return out
}

// hmacTag is HMAC-SHA-512 truncated to 256 bits, keyed with the network ID.
func hmacTag(netID NetworkID, message []byte) [32]byte {
	k := [32]byte(netID)
	return *auth.Sum(message, &k)
}

func verifyTag(netID NetworkID, tag, message []byte) bool {
	k := [32]byte(netID)
	return auth.Verify(tag, message, &k)
}

func boxStreamKey(acceptKey [32]byte, pk Pubkey) [32]byte {
	inner := sha256.Sum256(acceptKey[:])
	h := sha256.New()
	h.Write(inner[:])
	h.Write(pk[:])
	return sum(h.Sum(nil))
}

func boxStreamNonce(netID NetworkID, eph ephemeralPubkey) (n [24]byte) {
	tag := hmacTag(netID, eph[:])
	copy(n[:], tag[:24])
	return n
}

// deriveOutcome computes both box stream directions from the completed set
// of shared secrets. Data we send is keyed to the remote identity and
// nonced from the remote ephemeral key; data we receive is the mirror image.
func deriveOutcome(s *sessionSecrets, local, remote Pubkey, localEph, remoteEph ephemeralPubkey) *HandshakeOutcome {
	ak := s.acceptKey()
	return &HandshakeOutcome{
		PeerKey: remote,
		Encrypt: BoxStreamParams{
			Key:   boxStreamKey(ak, remote),
			Nonce: boxStreamNonce(s.netID, remoteEph),
		},
		Decrypt: BoxStreamParams{
			Key:   boxStreamKey(ak, local),
			Nonce: boxStreamNonce(s.netID, localEph),
		},
	}
}
