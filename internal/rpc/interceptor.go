package rpc

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"shalomjobs.org/internal/obs"
	"shalomjobs.org/internal/seclog"
)

// ClientInterceptor attaches request id and caller details for the
// security log, then logs the call.
func ClientInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	rid := first(md, "x-request-id")
	if rid == "" {
		rid = uuid.NewString()
	}
	client := seclog.Client{UserAgent: first(md, "user-agent")}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		client.IP = p.Addr.String()
		if host, _, err := net.SplitHostPort(client.IP); err == nil {
			client.IP = host
		}
	}
	ctx = seclog.WithRequestID(ctx, rid)
	ctx = seclog.WithClient(ctx, client)

	start := time.Now()
	resp, err := handler(ctx, req)
	obs.LogRequest(map[string]any{
		"ts":          start.UTC().Format(time.RFC3339Nano),
		"level":       "info",
		"msg":         "rpc_complete",
		"request_id":  rid,
		"method":      info.FullMethod,
		"code":        status.Code(err).String(),
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
	return resp, err
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
