package secret

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("test-secret")
	require.NoError(t, err)

	blob, err := c.Encrypt("62000000001")
	require.NoError(t, err)
	require.NotEqual(t, "62000000001", blob)

	plain, err := c.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, "62000000001", plain)

	// Nonces are random, so blobs differ between calls.
	blob2, err := c.Encrypt("62000000001")
	require.NoError(t, err)
	require.NotEqual(t, blob, blob2)
}

func TestCipherRejectsBadInput(t *testing.T) {
	_, err := NewCipher("")
	require.Error(t, err)

	c, err := NewCipher("test-secret")
	require.NoError(t, err)

	_, err = c.Decrypt("not base64 at all ***")
	require.Error(t, err)

	_, err = c.Decrypt("c2hvcnQ=")
	require.Error(t, err)

	other, err := NewCipher("different-secret")
	require.NoError(t, err)

	blob, err := c.Encrypt("62000000001")
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	require.Error(t, err)
}
