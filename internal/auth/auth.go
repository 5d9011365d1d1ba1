// Package auth provides the credential-verification surface the core needs:
// HMAC-signed bearer tokens with expiry, bcrypt password hashing, and gin
// middleware. User storage lives in the database package.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// Token kinds
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

var (
	// ErrInvalidToken covers malformed, mis-signed, or wrong-kind tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates the token's expiry has passed.
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the payload carried inside a signed token.
type Claims struct {
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	Kind      string `json:"kind"`
	ExpiresAt int64  `json:"exp"`
}

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether the password matches the stored hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateToken signs a token of the given kind for the user.
func CreateToken(userID uint, username string, isAdmin bool, kind string) (string, error) {
	cfg := config.Get()

	var ttl time.Duration
	switch kind {
	case TokenKindAccess:
		ttl = time.Duration(cfg.Auth.AccessTokenExpireMinutes) * time.Minute
	case TokenKindRefresh:
		ttl = time.Duration(cfg.Auth.RefreshTokenExpireDays) * 24 * time.Hour
	default:
		return "", fmt.Errorf("unknown token kind: %s", kind)
	}

	claims := Claims{
		UserID:    userID,
		Username:  username,
		IsAdmin:   isAdmin,
		Kind:      kind,
		ExpiresAt: time.Now().UTC().Add(ttl).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + sign(encoded, cfg.Auth.SecretKey), nil
}

// VerifyToken validates signature, expiry, and kind, returning the claims.
func VerifyToken(token, kind string) (*Claims, error) {
	cfg := config.Get()

	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, ErrInvalidToken
	}

	if !hmac.Equal([]byte(sign(parts[0], cfg.Auth.SecretKey)), []byte(parts[1])) {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	if time.Now().UTC().Unix() > claims.ExpiresAt {
		return nil, ErrExpiredToken
	}
	return &claims, nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
