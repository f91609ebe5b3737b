package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// TokenService issues and validates the HS256 bearer tokens accepted by the gateway
type TokenService struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewTokenService creates a TokenService with the given secret key and token TTL
func NewTokenService(secretKey string, tokenTTL time.Duration) *TokenService {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &TokenService{
		secretKey: secretKey,
		tokenTTL:  tokenTTL,
	}
}

// TTL returns how long issued tokens stay valid
func (s *TokenService) TTL() time.Duration {
	return s.tokenTTL
}

// GenerateToken generates a token for subject. prefixes restricts the query
// names the token may run; an empty list allows every query.
func (s *TokenService) GenerateToken(subject string, prefixes []string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":     subject,
		"queries": prefixes,
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// ValidateToken validates a token and returns its principal
func (s *TokenService) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
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

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	principal := &Principal{Subject: subject}
	if raw, ok := claims["queries"].([]interface{}); ok {
		for _, p := range raw {
			if prefix, ok := p.(string); ok {
				principal.Prefixes = append(principal.Prefixes, prefix)
			}
		}
	}
	return principal, nil
}

// Principal is the caller identified by a bearer token
type Principal struct {
	Subject  string
	Prefixes []string
}

// Allows reports whether the principal may run the named query
func (p *Principal) Allows(name string) bool {
	if len(p.Prefixes) == 0 {
		return true
	}
	for _, prefix := range p.Prefixes {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// HashSecret hashes a client secret with bcrypt.
// Rejects secrets longer than 72 bytes (bcrypt's maximum)
func HashSecret(secret string) (string, error) {
	if len(secret) > 72 {
		return "", fmt.Errorf("secret exceeds maximum length of 72 bytes")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckSecret compares a plain text secret with its bcrypt hash
func CheckSecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
