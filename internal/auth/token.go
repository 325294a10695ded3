package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trivia-room-service/internal/domain"
)

// playerClaims carries the identity of an authenticated player.
type playerClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a verified token says about its holder.
type Identity struct {
	PlayerID    string
	DisplayName string
}

// TokenManager issues and verifies HS256 player tokens.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
}

func NewTokenManager(secretKey string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secretKey: []byte(secretKey), ttl: ttl}
}

// Enabled reports whether a secret is configured. Without one every token is rejected.
func (m *TokenManager) Enabled() bool {
	return m != nil && len(m.secretKey) > 0
}

func (m *TokenManager) Generate(playerID, name string, now time.Time) (string, error) {
	if !m.Enabled() {
		return "", errors.New("token secret is not configured")
	}
	claims := playerClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

func (m *TokenManager) Verify(tokenString string) (Identity, error) {
	if !m.Enabled() || tokenString == "" {
		return Identity{}, domain.ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &playerClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return m.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*playerClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, domain.ErrInvalidToken
	}
	return Identity{PlayerID: claims.Subject, DisplayName: claims.Name}, nil
}
