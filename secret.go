package secretstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const secretFileHeader = `# this is your SECRET name.
# this name gives you magical powers.
# with it you can mark your messages so that your friends can verify
# that they really did come from you.
#
# if any one learns this name, they can use it to destroy your identity
# NEVER show this to anyone!!!

`

type secretFile struct {
	Curve   string `json:"curve"`
	Public  string `json:"public"`
	Private string `json:"private"`
	ID      string `json:"id"`
}

// DefaultSecretPath returns ~/.ssb/secret.
func DefaultSecretPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ssb", "secret"), nil
}

// LoadSecretFile reads an identity from a Scuttlebutt secret file.
func LoadSecretFile(path string) (KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyPair{}, fmt.Errorf("cannot read secret file %s: %w", path, err)
	}
	kp, err := ParseSecret(data)
	if err != nil {
		return KeyPair{}, fmt.Errorf("secret file %s: %w", path, err)
	}
	return kp, nil
}

// ParseSecret decodes the contents of a secret file. Lines starting with #
// are comments.
func ParseSecret(data []byte) (KeyPair, error) {
	var body bytes.Buffer
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	var s secretFile
	if err := json.Unmarshal(body.Bytes(), &s); err != nil {
		return KeyPair{}, fmt.Errorf("cannot decode JSON: %w", err)
	}
	if s.Curve != "" && s.Curve != "ed25519" {
		return KeyPair{}, fmt.Errorf("unknown key scheme %q", s.Curve)
	}
	if s.Private == "" {
		return KeyPair{}, errors.New("no private key")
	}
	priv, err := PrivkeyFromString(s.Private)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPairFromPrivkey(priv)
}

// MarshalSecret renders kp in secret file format.
func MarshalSecret(kp KeyPair) ([]byte, error) {
	s := secretFile{
		Curve:   "ed25519",
		Public:  kp.Public.Base64() + keySuffix,
		Private: kp.Private.String(),
		ID:      kp.Public.String(),
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	out := append([]byte(secretFileHeader), data...)
	return append(out, '\n'), nil
}

// WriteSecretFile stores kp at path, readable by the owner only. It refuses
// to overwrite an existing file.
func WriteSecretFile(path string, kp KeyPair) error {
	data, err := MarshalSecret(kp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
