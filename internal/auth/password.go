package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plain text password using bcrypt.
// Rejects passwords longer than 72 bytes (bcrypt's maximum).
func HashPassword(password string) (string, error) {
	if len(password) > 72 {
		return "", fmt.Errorf("password exceeds maximum length of 72 bytes")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// CheckPassword compares a plain text password with a hashed password
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Hasher adapts the bcrypt helpers to the hook pipeline's password
// hasher contract.
type Hasher struct{}

// Hash hashes a plain text password
func (Hasher) Hash(password string) (string, error) {
	return HashPassword(password)
}

// Compare reports whether the password matches the hash
func (Hasher) Compare(hash, password string) bool {
	return CheckPassword(password, hash)
}
