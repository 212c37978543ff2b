package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrWrongPassword    = errors.New("wrong password")
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordMismatch = errors.New("password confirmation does not match")
)

// HashPassword hashes a plaintext password with bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against its hash
func CheckPassword(hash, password string) error {
	if hash == "" {
		return ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

// ValidateNewPassword checks length and confirmation of a new password
func ValidateNewPassword(password, confirmation string, minLength int) error {
	if utf8.RuneCountInString(password) < minLength {
		return ErrPasswordTooShort
	}
	if !SecureCompare(password, confirmation) {
		return ErrPasswordMismatch
	}
	return nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
