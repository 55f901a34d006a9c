// Package identity synthesizes the per-run device identity sent to the
// remote API.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrMissingSecret = errors.New("identity secret is not configured")

// Identity is created once per acquisition run and never reused.
type Identity struct {
	ID     string
	Digest string
}

type Synthesizer struct {
	secret string
	newID  func() uuid.UUID
}

func NewSynthesizer(secret string) *Synthesizer {
	return &Synthesizer{secret: secret, newID: uuid.New}
}

// Synthesize returns a fresh uppercase UUID and its keyed digest.
func (s *Synthesizer) Synthesize() (Identity, error) {
	if s.secret == "" {
		return Identity{}, ErrMissingSecret
	}
	id := strings.ToUpper(s.newID().String())
	return Identity{ID: id, Digest: Digest(id, s.secret)}, nil
}

// Digest is hex(md5(id + secret)), the form the remote service verifies.
func Digest(id, secret string) string {
	sum := md5.Sum([]byte(id + secret))
	return hex.EncodeToString(sum[:])
}
