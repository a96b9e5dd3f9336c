// Package auth provides the JWT token service and password hashing the
// authentication hooks are wired with.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quarrydb/quarry/internal/core/request"
)

// TokenService generates and verifies HS256 bearer tokens
type TokenService struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewTokenService creates a token service with the given signing secret
// and token lifetime.
func NewTokenService(secretKey string, tokenTTL time.Duration) *TokenService {
	return &TokenService{
		secretKey: secretKey,
		tokenTTL:  tokenTTL,
	}
}

// Generate signs a token carrying the identity's claims
func (s *TokenService) Generate(identity *request.Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": identity.UserID,
		"email":   identity.Email,
		"dev":     identity.Dev,
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// Verify validates a token and returns the resolved identity
func (s *TokenService) Verify(tokenString string) (*request.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify exact signing method to prevent algorithm confusion attacks
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}

	identity := &request.Identity{UserID: userID}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if dev, ok := claims["dev"].(bool); ok {
		identity.Dev = dev
	}
	return identity, nil
}
