package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/store"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// KeyStore persists access tokens
type KeyStore interface {
	CreateToken(ctx context.Context, token *models.Token) error
	GetToken(ctx context.Context, id string) (*models.Token, error)
	FindUserToken(ctx context.Context, userID int64, kind models.TokenKind) (*models.Token, error)
	DeleteToken(ctx context.Context, id string) error
	TouchToken(ctx context.Context, id string, at time.Time) error
}

// TokenManager issues and verifies access keys of the form "<id>.<secret>".
// Only a bcrypt hash of the secret is persisted.
type TokenManager struct {
	store KeyStore
	cost  int
	now   func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(s KeyStore) *TokenManager {
	return &TokenManager{store: s, cost: bcrypt.DefaultCost, now: time.Now}
}

// Generate creates a new token and returns its plaintext key
func (tm *TokenManager) Generate(ctx context.Context, userID int64, kind models.TokenKind) (string, *models.Token, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), tm.cost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash token: %w", err)
	}

	token := &models.Token{
		ID:         uuid.NewString(),
		UserID:     userID,
		Kind:       kind,
		SecretHash: string(hash),
		CreatedAt:  tm.now().UTC(),
	}
	if err := tm.store.CreateToken(ctx, token); err != nil {
		return "", nil, err
	}
	return token.ID + "." + secret, token, nil
}

// Find returns the user's token of the given kind, or nil when there is none
func (tm *TokenManager) Find(ctx context.Context, userID int64, kind models.TokenKind) (*models.Token, error) {
	token, err := tm.store.FindUserToken(ctx, userID, kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return token, err
}

// Revoke deletes the user's token of the given kind, if any
func (tm *TokenManager) Revoke(ctx context.Context, userID int64, kind models.TokenKind) error {
	for {
		token, err := tm.Find(ctx, userID, kind)
		if err != nil || token == nil {
			return err
		}
		if err := tm.store.DeleteToken(ctx, token.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
}

// Reset destroys the existing token and creates a fresh one
func (tm *TokenManager) Reset(ctx context.Context, userID int64, kind models.TokenKind) (string, *models.Token, error) {
	if err := tm.Revoke(ctx, userID, kind); err != nil {
		return "", nil, err
	}
	return tm.Generate(ctx, userID, kind)
}

// Ensure returns the existing token or creates one. The plaintext key is
// only known, and only returned, when a token was created.
func (tm *TokenManager) Ensure(ctx context.Context, userID int64, kind models.TokenKind) (string, *models.Token, error) {
	existing, err := tm.Find(ctx, userID, kind)
	if err != nil {
		return "", nil, err
	}
	if existing != nil {
		return "", existing, nil
	}
	return tm.Generate(ctx, userID, kind)
}

// Validate verifies a plaintext key and records its use
func (tm *TokenManager) Validate(ctx context.Context, key string) (*models.Token, error) {
	id, secret, ok := strings.Cut(key, ".")
	if !ok || id == "" || secret == "" {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidToken
	}

	token, err := tm.store.GetToken(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidToken
	}

	if err := tm.store.TouchToken(ctx, id, tm.now().UTC()); err != nil {
		return nil, err
	}
	return token, nil
}
