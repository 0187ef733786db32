package auth

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher is the PasswordHasher backed by bcrypt. The salt and cost are
// embedded in the hash string so Verify needs nothing else.
type BcryptHasher struct {
	cost int
}

var _ PasswordHasher = BcryptHasher{}

// NewBcryptHasher returns a hasher using cost, or the build default when cost
// is outside bcrypt's accepted range.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = passwordHashCost()
	}
	return BcryptHasher{cost: cost}
}

// Cost reports the work factor used for new hashes
func (h BcryptHasher) Cost() int {
	if h.cost == 0 {
		return passwordHashCost()
	}
	return h.cost
}

func (h BcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrNoEmptyString
	}

	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost())
	return string(b), err
}

// Verify never fails on a malformed stored hash, it reports false instead.
func (h BcryptHasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	return BcryptHasher{}.Hash(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// fallbackPasswordHash is a well-formed bcrypt hash served when the hasher
// keeps failing.
const fallbackPasswordHash = "$2a$10$LK9XRuhNxHHCvjX3tdkRKei1QiCDUKrJRhZv7WWZPuQGRUM92rOUa"

const randomHashAttempts = 3

// RandomPasswordHash is a hash nobody knows the password for. It is used to
// keep the cost of rejecting unknown users close to that of a wrong password.
func RandomPasswordHash(hasher PasswordHasher) string {
	for i := 0; i < randomHashAttempts; i++ {
		if h, err := hasher.Hash(uuid.NewString()); err == nil && h != "" {
			return h
		}
	}
	return fallbackPasswordHash
}
