package ws

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var errInvalidToken = errors.New("invalid token")

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
