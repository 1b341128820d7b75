package seclog

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "seclog_request_id"
	clientKey    ctxKey = "seclog_client"
)

// Client describes the caller a security event is attributed to.
type Client struct {
	UserAgent string
	IP        string
}

// WithRequestID attaches the request identifier to the context for security logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClient attaches user-agent and address of the caller.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// ClientFromContext returns the caller attached by WithClient.
func ClientFromContext(ctx context.Context) Client {
	if ctx == nil {
		return Client{}
	}
	c, _ := ctx.Value(clientKey).(Client)
	return c
}
