package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"market-rtc/internal/config"
)

// Service verifies the identity credential presented at the websocket
// handshake. Tokens are issued elsewhere; this side only checks the
// signature and pulls the identity out. The identity is trusted for the
// lifetime of the connection.
type Service struct {
	cfg *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// Identity is the authenticated subject extracted from a verified token.
type Identity struct {
	ID       string
	Username string
}

func (s *Service) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.JWT.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	sub, ok := (*claims)["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("missing subject in token")
	}

	identity := &Identity{ID: sub}
	if username, ok := (*claims)["username"].(string); ok {
		identity.Username = username
	}

	return identity, nil
}
