package secretstream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretFileRoundTrip(t *testing.T) {
	kp := keyPair(t)
	path := filepath.Join(t.TempDir(), ".ssb", "secret")

	require.NoError(t, WriteSecretFile(path, kp))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadSecretFile(path)
	require.NoError(t, err)
	require.Equal(t, kp, got)

	require.Error(t, WriteSecretFile(path, kp), "existing secret files are never overwritten")
}

func TestParseSecret(t *testing.T) {
	kp := keyPair(t)
	data := `
# if any one learns this name, they can use it to destroy your identity
# NEVER show this to anyone!!!
#
{
  "curve": "ed25519",
  "public": "` + kp.Public.Base64() + `.ed25519",
  "private": "` + kp.Private.String() + `",
  "id": "` + kp.Public.String() + `"
}`
	got, err := ParseSecret([]byte(data))
	require.NoError(t, err)
	require.Equal(t, kp, got)
}

func TestParseSecretErrors(t *testing.T) {
	kp := keyPair(t)
	for name, data := range map[string]string{
		"not json":     "# only a comment",
		"wrong curve":  `{"curve": "k256", "private": "` + kp.Private.String() + `"}`,
		"no private":   `{"curve": "ed25519"}`,
		"short key":    `{"private": "AQID.ed25519"}`,
		"wrong suffix": `{"private": "` + kp.Private.String() + `x"}`,
	} {
		_, err := ParseSecret([]byte(data))
		require.Error(t, err, name)
	}
}

func TestLoadSecretFileMissing(t *testing.T) {
	_, err := LoadSecretFile(filepath.Join(t.TempDir(), "secret"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
