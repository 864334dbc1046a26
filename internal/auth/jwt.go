package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
	"github.com/plategrid/backoffice-backend/internal/core/ports"
)

// Claims defines the structured data carried in a staff JWT. Tokens are
// issued by the staff-identity service; this service only verifies them.
type Claims struct {
	StaffID      string `json:"staff_id"`
	RestaurantID string `json:"restaurant_id"`
	jwt.RegisteredClaims
}

// TokenManager verifies staff tokens.
type TokenManager struct {
	secretKey []byte
}

var _ ports.TokenVerifier = (*TokenManager)(nil)

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secretKey: []byte(secret)}
}

// Verify parses and validates the token string and returns its claims.
func (tm *TokenManager) Verify(tokenString string) (*ports.TokenClaims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secretKey, nil
	})

	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}

	if !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	return &ports.TokenClaims{
		StaffID:      claims.StaffID,
		RestaurantID: claims.RestaurantID,
	}, nil
}
