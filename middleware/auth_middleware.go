package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/servicekey"
	"github.com/botmesh/model-gateway/services/translate"
	"github.com/botmesh/model-gateway/utils"
)

// KeyValidator defines the interface for validating service keys
type KeyValidator interface {
	// ValidateToken validates a service key and returns its identity
	ValidateToken(tokenString string) (*servicekey.ServiceKey, error)
}

// Dialect selects the wire format for authentication failures. Requests on
// the OpenAI and Anthropic surfaces get rejections in their own envelope so
// SDK error handling keeps working.
type Dialect int

const (
	// DialectAdmin uses the plain management API envelope
	DialectAdmin Dialect = iota

	// DialectOpenAI uses the OpenAI error envelope
	DialectOpenAI

	// DialectAnthropic uses the Anthropic error envelope
	DialectAnthropic
)

// AuthMiddleware provides service key authentication middleware
type AuthMiddleware struct {
	validator KeyValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator KeyValidator, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// apiKeyHeaderName is the Anthropic-style API key header (Authorization
// header takes precedence)
const apiKeyHeaderName = "x-api-key"

// RequireServiceKey requires a valid service key on every request. The key
// is read from the Authorization header ("Bearer KEY") or the x-api-key
// header, which is how the OpenAI and Anthropic client SDKs send it.
func (m *AuthMiddleware) RequireServiceKey(dialect Dialect) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			token := extractAPIKey(r)
			if token == "" {
				m.logger.Warn("missing service key",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path))
				m.writeAuthError(w, dialect, http.StatusUnauthorized, "Missing API key")
				return
			}

			key, err := m.validator.ValidateToken(token)
			if err != nil {
				// The unverified tenant id is for the rejection log only
				tenantID, _ := servicekey.ExtractTenantID(token)
				m.logger.Warn("service key validation failed",
					zap.String("request_id", requestID),
					zap.String("claimed_tenant_id", tenantID),
					zap.Error(err))

				message := "Invalid API key"
				if errors.Is(err, servicekey.ErrTokenExpired) {
					message = "API key expired"
				}
				m.writeAuthError(w, dialect, http.StatusUnauthorized, message)
				return
			}

			ctx = WithServiceKey(ctx, key)
			ctx = WithTenantID(ctx, key.TenantID)

			m.logger.Debug("service key accepted",
				zap.String("request_id", requestID),
				zap.String("tenant_id", key.TenantID),
				zap.String("plan", key.Plan),
				zap.String("kid", key.KeyID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope requires that the authenticated service key carries a scope.
// Used on the operator routes, so failures always use the management
// envelope. Must run after RequireServiceKey.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			key := GetServiceKeyFromContext(ctx)
			if key == nil {
				m.logger.Error("service key not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !key.HasScope(scope) {
				m.logger.Warn("insufficient scope",
					zap.String("request_id", requestID),
					zap.String("tenant_id", key.TenantID),
					zap.String("required_scope", scope),
					zap.Strings("key_scopes", key.Scopes))
				_ = utils.WriteForbidden(w, "Insufficient scope")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes an authentication failure in the route's dialect
func (m *AuthMiddleware) writeAuthError(w http.ResponseWriter, dialect Dialect, status int, message string) {
	switch dialect {
	case DialectOpenAI:
		status, body := translate.MapToOpenAIError(status, message)
		_ = utils.WriteJSON(w, status, body)
	case DialectAnthropic:
		status, body := translate.MapToAnthropicError(status, message)
		_ = utils.WriteJSON(w, status, body)
	default:
		if status == http.StatusForbidden {
			_ = utils.WriteForbidden(w, message)
			return
		}
		_ = utils.WriteUnauthorized(w, message)
	}
}

// extractAPIKey extracts the service key from the Authorization header
// ("Bearer KEY") or the x-api-key header. Authorization takes precedence
// when both are present.
func extractAPIKey(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeaderName))
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
