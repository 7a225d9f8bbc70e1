package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"unicode/utf8"
)

const (
	// AES-256-GCM sizes
	KeySize = 32
	IVSize  = 12

	// plaintext bounds, enforced before encryption
	MinContentLen = 1
	MaxContentLen = 5000
)

var (
	// ErrEncryption is the only error surfaced for cipher failures; it never
	// carries key material or partial plaintext.
	ErrEncryption = errors.New("encryption failed")

	ErrContentLength = errors.New("content length out of range")
	ErrMalformedHex  = errors.New("ciphertext is not well-formed hexadecimal")
	ErrMissingIV     = errors.New("iv is required for client-encrypted messages")
)

// Payload is the message payload, resolved once at ingress into exactly one
// of the two encryption modes. The type switch over Payload is the only
// branch point; adding a mode means adding a variant.
type Payload interface {
	mode() string
}

// ServerPlaintext is content the server sanitizes and encrypts itself.
type ServerPlaintext struct {
	Content string
}

// ClientCiphertext is content the sender already encrypted; the server stores
// it opaquely and never attempts to decrypt.
type ClientCiphertext struct {
	CiphertextHex string
	IVHex         string
}

func (ServerPlaintext) mode() string  { return "server" }
func (ClientCiphertext) mode() string { return "e2ee" }

// Mode reports the payload's encryption mode label, used for metrics.
func Mode(p Payload) string { return p.mode() }

// NewKeyMaterial generates fresh 256-bit symmetric key material.
func NewKeyMaterial() ([]byte, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return nil, ErrEncryption
	}
	return buf, nil
}

// Sanitize escapes markup-significant characters before encryption.
func Sanitize(content string) string {
	return html.EscapeString(content)
}

// CheckContentLength enforces the pre-encryption plaintext bounds.
func CheckContentLength(content string) error {
	n := utf8.RuneCountInString(content)
	if n < MinContentLen || n > MaxContentLen {
		return fmt.Errorf("%w: %d runes", ErrContentLength, n)
	}
	return nil
}

// Seal encrypts plaintext with AES-256-GCM under a random 12-byte IV. The
// auth tag is appended to the ciphertext.
func Seal(key, plaintext []byte) (iv []byte, ciphertext []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, ErrEncryption
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, ErrEncryption
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, ErrEncryption
	}

	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, ErrEncryption
	}

	return iv, aead.Seal(nil, iv, plaintext, nil), nil
}

// Open decrypts a sealed message. Used for round-trip verification and for
// clients that read server-encrypted history through a trusted channel.
func Open(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize || len(iv) != IVSize {
		return nil, ErrEncryption
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrEncryption
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrEncryption
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrEncryption
	}
	return plaintext, nil
}

// DecodeClientPayload validates a client-encrypted payload and returns the
// raw bytes to store. No key lookup and no decryption happens here.
func DecodeClientPayload(p ClientCiphertext) (ciphertext []byte, iv []byte, err error) {
	if p.IVHex == "" {
		return nil, nil, ErrMissingIV
	}
	ciphertext, err = hex.DecodeString(p.CiphertextHex)
	if err != nil || len(ciphertext) == 0 {
		return nil, nil, ErrMalformedHex
	}
	iv, err = hex.DecodeString(p.IVHex)
	if err != nil || len(iv) == 0 {
		return nil, nil, ErrMalformedHex
	}
	return ciphertext, iv, nil
}
