package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt cost 12 takes roughly 200ms on reference hardware. That latency is
// the point; callers must tolerate it.
const bcryptCost = 12

var (
	// ErrBadInput means the password was empty or malformed before hashing.
	ErrBadInput = errors.New("invalid password input")
	// ErrHash means bcrypt itself failed.
	ErrHash = errors.New("password hashing failed")
)

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher at the production cost factor.
func NewHasher() *Hasher {
	return &Hasher{cost: bcryptCost}
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrBadInput
	}
	// bcrypt silently truncates beyond 72 bytes; reject instead.
	if len(password) > 72 {
		return "", fmt.Errorf("%w: password exceeds 72 bytes", ErrBadInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHash, err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. bcrypt's comparison is
// constant-time over the derived key; the returned error does not reveal
// which byte diverged.
func (h *Hasher) Verify(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
