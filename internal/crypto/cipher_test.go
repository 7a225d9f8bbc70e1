package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewKeyMaterial()
	require.NoError(t, err)

	plaintext := []byte(Sanitize("hello <world>"))
	iv, ciphertext, err := Seal(key, plaintext)
	require.NoError(t, err)
	require.Len(t, iv, IVSize)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := Open(key, iv, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestSealRejectsBadKeySize(t *testing.T) {
	_, _, err := Seal([]byte("short"), []byte("hi"))
	require.ErrorIs(t, err, ErrEncryption)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, err := NewKeyMaterial()
	require.NoError(t, err)

	iv, ciphertext, err := Seal(key, []byte("hi"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xff
	_, err = Open(key, iv, ciphertext)
	require.ErrorIs(t, err, ErrEncryption)
}

func TestSanitizeEscapesMarkup(t *testing.T) {
	got := Sanitize(`<script>alert("x")</script>`)
	require.NotContains(t, got, "<script>")
	require.Contains(t, got, "&lt;script&gt;")
}

func TestCheckContentLength(t *testing.T) {
	require.Error(t, CheckContentLength(""))
	require.NoError(t, CheckContentLength("a"))
	require.NoError(t, CheckContentLength(strings.Repeat("a", MaxContentLen)))
	require.Error(t, CheckContentLength(strings.Repeat("a", MaxContentLen+1)))
}

func TestDecodeClientPayloadPassThrough(t *testing.T) {
	want, _ := hex.DecodeString("deadbeef")
	ciphertext, iv, err := DecodeClientPayload(ClientCiphertext{CiphertextHex: "deadbeef", IVHex: "0011"})
	require.NoError(t, err)
	require.True(t, bytes.Equal(want, ciphertext))
	require.Equal(t, []byte{0x00, 0x11}, iv)
}

func TestDecodeClientPayloadRequiresIV(t *testing.T) {
	_, _, err := DecodeClientPayload(ClientCiphertext{CiphertextHex: "deadbeef"})
	require.ErrorIs(t, err, ErrMissingIV)
}

func TestDecodeClientPayloadRejectsBadHex(t *testing.T) {
	_, _, err := DecodeClientPayload(ClientCiphertext{CiphertextHex: "zz", IVHex: "0011"})
	require.ErrorIs(t, err, ErrMalformedHex)

	_, _, err = DecodeClientPayload(ClientCiphertext{CiphertextHex: "deadbeef", IVHex: "zz"})
	require.ErrorIs(t, err, ErrMalformedHex)
}
