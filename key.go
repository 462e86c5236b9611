package secretstream

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

const keySuffix = ".ed25519"

// NetworkID is the 32-byte key that partitions peers into separate networks.
// Peers holding different network IDs can never complete a handshake.
type NetworkID [32]byte

// MainNetworkID is the network ID used by the public Scuttlebutt network.
var MainNetworkID = mustNetworkID("d4a1cb88a66f02f8db635ce26441cc5dac1b08420ceaac230839b755845a9ffb")

func mustNetworkID(s string) NetworkID {
	n, err := NetworkIDFromString(s)
	if err != nil {
		panic(err)
	}
	return n
}

// NetworkIDFromString parses a network ID written either as 64 hex digits or
// as standard base64.
func NetworkIDFromString(s string) (n NetworkID, err error) {
	s = strings.TrimSpace(s)
	var data []byte
	if len(s) == hex.EncodedLen(len(n)) {
		data, err = hex.DecodeString(s)
	} else {
		data, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil {
		return n, fmt.Errorf("network id %q is not valid: %w", s, err)
	}
	if len(data) != len(n) {
		return n, fmt.Errorf("network id %q does not decode to 32 bytes", s)
	}
	copy(n[:], data)
	return n, nil
}

// String renders the network ID as standard base64.
func (n NetworkID) String() string {
	return base64.StdEncoding.EncodeToString(n[:])
}

// Pubkey is the long-term ed25519 public key identifying a peer.
type Pubkey [32]byte

// PubkeyFromString deserializes a Pubkey. It accepts the feed identifier form
// "@<base64>.ed25519" as well as bare base64, which is how multiserver
// addresses carry keys.
func PubkeyFromString(s string) (p Pubkey, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") {
		if !strings.HasSuffix(s, keySuffix) {
			return p, fmt.Errorf("public key %s is not an ed25519 key", s)
		}
		s = strings.TrimSuffix(s[1:], keySuffix)
	} else {
		s = strings.TrimSuffix(s, keySuffix)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("public key %s is not valid: %w", s, err)
	}
	if len(data) != len(p) {
		return p, fmt.Errorf("public key %s does not decode to 32 bytes", s)
	}
	copy(p[:], data)
	return p, nil
}

// String renders the key as a feed identifier, "@<base64>.ed25519".
func (k Pubkey) String() string {
	return "@" + k.Base64() + keySuffix
}

// Base64 renders the key as bare standard base64.
func (k Pubkey) Base64() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func (k Pubkey) verify(message, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k[:]), message, sig)
}

// curve converts the ed25519 public key to its curve25519 (Montgomery)
// equivalent.
func (k Pubkey) curve() ([32]byte, error) {
	var out [32]byte
	p, err := new(edwards25519.Point).SetBytes(k[:])
	if err != nil {
		return out, fmt.Errorf("public key is not a valid curve point: %w", err)
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// Privkey is an ed25519 private key in its 64-byte seed-plus-public form.
type Privkey [64]byte

// PrivkeyFromString deserializes a Privkey written as "<base64>.ed25519".
func PrivkeyFromString(s string) (p Privkey, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") {
		return p, fmt.Errorf("private key %s appears to be a public key", s)
	}
	if !strings.HasSuffix(s, keySuffix) {
		return p, fmt.Errorf("private key is not an ed25519 key")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSuffix(s, keySuffix))
	if err != nil {
		return p, fmt.Errorf("private key is not valid: %w", err)
	}
	if len(data) != len(p) {
		return p, fmt.Errorf("private key does not decode to 64 bytes, got %d", len(data))
	}
	copy(p[:], data)
	return p, nil
}

// String renders the key as "<base64>.ed25519". Handle with care.
func (k Privkey) String() string {
	return base64.StdEncoding.EncodeToString(k[:]) + keySuffix
}

// Public returns the public half embedded in the private key.
func (k Privkey) Public() Pubkey {
	var p Pubkey
	copy(p[:], k[32:])
	return p
}

func (k Privkey) sign(message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(k[:]), message)
}

// curve converts the ed25519 private key to a curve25519 scalar.
func (k Privkey) curve() [32]byte {
	h := sha512.Sum512(k[:32])
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	var out [32]byte
	copy(out[:], h[:32])
	return out
}

// KeyPair is a peer's long-term identity.
type KeyPair struct {
	Public  Pubkey
	Private Privkey
}

// GenKeyPair generates a fresh long-term identity.
//
// It is safe to invoke this function concurrently.
func GenKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("error reading entropy while generating keypair: %w", err)
	}
	var kp KeyPair
	copy(kp.Public[:], pub)
	copy(kp.Private[:], priv)
	return kp, nil
}

// KeyPairFromSeed derives an identity from a 32-byte ed25519 seed.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var kp KeyPair
	copy(kp.Private[:], priv)
	kp.Public = kp.Private.Public()
	return kp, nil
}

// KeyPairFromPrivkey rebuilds an identity from its private key, checking
// that the embedded public half matches the seed.
func KeyPairFromPrivkey(k Privkey) (KeyPair, error) {
	kp, err := KeyPairFromSeed(k[:32])
	if err != nil {
		return KeyPair{}, err
	}
	if kp.Private != k {
		return KeyPair{}, fmt.Errorf("private key does not match its public half")
	}
	return kp, nil
}

type ephemeralPrivkey [32]byte

type ephemeralPubkey [32]byte

func genEphemeralKeyPair() (ephemeralPrivkey, ephemeralPubkey, error) {
	var priv ephemeralPrivkey
	var pub ephemeralPubkey
	if _, err := rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("error reading entropy while generating ephemeral keypair: %w", err)
	}
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], out)
	return priv, pub, nil
}

// sharedSecret runs X25519. Low-order peer points yield an error.
func sharedSecret(priv, pub [32]byte) ([32]byte, error) {
	var s [32]byte
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return s, err
	}
	copy(s[:], out)
	return s, nil
}
