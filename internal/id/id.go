package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gofrs/uuid/v5"
)

// New returns a random request id. It falls back to raw random hex if the
// uuid generator fails.
func New() string {
	u, err := uuid.NewV4()
	if err == nil {
		return u.String()
	}

	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "req-fallback-id"
	}
	return hex.EncodeToString(b[:])
}
