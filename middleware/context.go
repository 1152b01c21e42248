package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/botmesh/model-gateway/servicekey"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ServiceKeyKey is the context key for the authenticated service key
	ServiceKeyKey contextKey = "service_key"

	// TenantIDKey is the context key for tenant ID
	TenantIDKey contextKey = "tenant_id"
)

// GetRequestIDFromContext retrieves the request ID from context, falling
// back to the chi request ID when no explicit one was set
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimiddleware.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetServiceKeyFromContext retrieves the authenticated service key from context
func GetServiceKeyFromContext(ctx context.Context) *servicekey.ServiceKey {
	if val := ctx.Value(ServiceKeyKey); val != nil {
		if key, ok := val.(*servicekey.ServiceKey); ok {
			return key
		}
	}
	return nil
}

// WithServiceKey adds an authenticated service key to the context
func WithServiceKey(ctx context.Context, key *servicekey.ServiceKey) context.Context {
	return context.WithValue(ctx, ServiceKeyKey, key)
}

// GetTenantIDFromContext retrieves the tenant ID from context
func GetTenantIDFromContext(ctx context.Context) string {
	if val := ctx.Value(TenantIDKey); val != nil {
		if tenantID, ok := val.(string); ok {
			return tenantID
		}
	}
	return ""
}

// WithTenantID adds a tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}
