package servicekey

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid service key")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("service key expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrUnknownKeyID is returned when the kid header names no known secret
	ErrUnknownKeyID = errors.New("unknown key id")

	// ErrNoSigningKeys is returned when the validator has no keyring
	ErrNoSigningKeys = errors.New("no signing keys configured")
)

// Config holds configuration for the Validator
type Config struct {
	// Issuer every accepted key must carry
	Issuer string

	// Keys is the signing keyring, kid to shared secret. Multiple entries
	// allow zero-downtime rotation.
	Keys map[string]string

	// Leeway tolerated on time-based claims
	Leeway time.Duration
}

// Validator verifies HS256-signed service keys against a static keyring.
type Validator struct {
	issuer string
	keys   map[string][]byte
	leeway time.Duration
}

// NewValidator creates a service key validator
func NewValidator(config Config) (*Validator, error) {
	if len(config.Keys) == 0 {
		return nil, ErrNoSigningKeys
	}
	if config.Leeway == 0 {
		config.Leeway = 30 * time.Second
	}

	keys := make(map[string][]byte, len(config.Keys))
	for kid, secret := range config.Keys {
		keys[kid] = []byte(secret)
	}

	return &Validator{
		issuer: config.Issuer,
		keys:   keys,
		leeway: config.Leeway,
	}, nil
}

// ValidateToken validates a service key and returns its identity
func (v *Validator) ValidateToken(tokenString string) (*ServiceKey, error) {
	var kid string

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		header, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		kid = header

		secret, exists := v.keys[kid]
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(v.leeway))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, ErrUnknownKeyID) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}

	return parseClaims(claims, kid)
}

// KeyIDs lists the kids in the keyring. Key issuance lives in the
// provisioning system; this validator only verifies.
func (v *Validator) KeyIDs() []string {
	kids := make([]string, 0, len(v.keys))
	for kid := range v.keys {
		kids = append(kids, kid)
	}
	return kids
}
