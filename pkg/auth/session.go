package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/psantana5/tracker/pkg/models"
)

// Claims represents session JWT claims
type Claims struct {
	Login string `json:"login"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager signs and verifies session tokens with HMAC-SHA256
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewSessionManager creates a session manager
func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{secret: []byte(secret), ttl: ttl, issuer: "tracker", now: time.Now}
}

// GenerateSecret returns a random signing secret
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// Issue signs a session token for the user
func (sm *SessionManager) Issue(user *models.User) (string, time.Time, error) {
	now := sm.now()
	expires := now.Add(sm.ttl)
	claims := &Claims{
		Login: user.Login,
		Role:  string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    sm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a session token and returns the user id it was issued for
func (sm *SessionManager) Parse(tokenString string) (int64, *Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return sm.secret, nil
	}, jwt.WithIssuer(sm.issuer), jwt.WithTimeFunc(sm.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, nil, ErrTokenExpired
		}
		return 0, nil, ErrInvalidToken
	}
	if !token.Valid {
		return 0, nil, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, nil, ErrInvalidToken
	}
	return userID, claims, nil
}
