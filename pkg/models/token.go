package models

import "time"

// TokenKind distinguishes the access keys a user can hold
type TokenKind string

const (
	TokenKindAPI TokenKind = "api"
	TokenKindRSS TokenKind = "rss"
)

// Token is a persisted access key. Only the bcrypt hash of the secret is stored;
// the plaintext key is "<id>.<secret>" and is shown once on creation.
type Token struct {
	ID         string     `json:"id"`
	UserID     int64      `json:"user_id"`
	Kind       TokenKind  `json:"kind"`
	SecretHash string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
