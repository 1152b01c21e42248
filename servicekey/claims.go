package servicekey

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// Plans a tenant can be provisioned on.
const (
	PlanFree       = "free"
	PlanMetered    = "metered"
	PlanEnterprise = "enterprise"
)

// ScopeAdmin unlocks the operator endpoints (margins, provider management).
const ScopeAdmin = "admin"

// Claims carried by a signed service key.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Plan     string   `json:"plan"`
	Scopes   []string `json:"scopes,omitempty"`
}

// ServiceKey is the validated identity behind a request.
type ServiceKey struct {
	TenantID  string
	Plan      string
	Scopes    []string
	KeyID     string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasScope checks whether the key grants a scope
func (k *ServiceKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the key grants operator access
func (k *ServiceKey) IsAdmin() bool {
	return k.HasScope(ScopeAdmin)
}

// parseClaims converts raw Claims into a ServiceKey, enforcing the required
// tenant claim.
func parseClaims(claims *Claims, kid string) (*ServiceKey, error) {
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}

	plan := claims.Plan
	if plan == "" {
		plan = PlanFree
	}

	key := &ServiceKey{
		TenantID: claims.TenantID,
		Plan:     plan,
		Scopes:   claims.Scopes,
		KeyID:    kid,
		Subject:  claims.Subject,
	}
	if claims.IssuedAt != nil {
		key.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		key.ExpiresAt = claims.ExpiresAt.Time
	}
	return key, nil
}

// ExtractTenantID reads the tenant claim without verifying the signature.
// Only for logging and diagnostics on the rejection path; never trust it
// for authorization.
func ExtractTenantID(tokenString string) (string, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.TenantID == "" {
		return "", fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	return claims.TenantID, nil
}
