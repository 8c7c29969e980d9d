package tenant

import (
	"context"
	"errors"
	"strings"
)

// Key for tenant ID in context
type contextKey string

const (
	companyIDKey contextKey = "companyID"
	requestIDKey contextKey = "requestID"
)

// ErrCompanyIDNotFound is returned when tenant ID is not found in context
var ErrCompanyIDNotFound = errors.New("company ID not found in context")

// WithCompanyID adds a tenant ID to the context
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyIDKey, companyID)
}

// FromContext extracts the tenant ID from the context
func FromContext(ctx context.Context) (string, error) {
	companyID, ok := ctx.Value(companyIDKey).(string)
	if !ok || companyID == "" {
		return "", ErrCompanyIDNotFound
	}
	return companyID, nil
}

// MustFromContext extracts the tenant ID from the context or panics
func MustFromContext(ctx context.Context) string {
	companyID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return companyID
}

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// MustFromRequestIDContext extracts the request ID from the context or panics
func MustFromRequestIDContext(ctx context.Context) string {
	requestID, err := FromRequestIDContext(ctx)
	if err != nil {
		panic(err)
	}
	return requestID
}

// SchemaName returns the postgres schema holding a company's handoff tables.
// Characters outside [a-z0-9_] are replaced so the name never needs quoting.
func SchemaName(companyID string) string {
	var b strings.Builder
	b.WriteString("handoff_")
	for _, r := range strings.ToLower(companyID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Detached returns a background context carrying the tenant and request ids of ctx.
// Work that outlives the request (async rescoring) uses it so cancellation does not leak in.
func Detached(ctx context.Context) context.Context {
	out := context.Background()
	if companyID, err := FromContext(ctx); err == nil {
		out = WithCompanyID(out, companyID)
	}
	if requestID, err := FromRequestIDContext(ctx); err == nil {
		out = WithRequestID(out, requestID)
	}
	return out
}
