// Package rpc exposes sign-in over gRPC alongside the standard health service.
//
// Messages are google.protobuf.Struct so clients need no generated stubs:
//
//	/shalomjobs.auth.v1.AuthService/Login   {email, password}
//	/shalomjobs.auth.v1.AuthService/Verify  {token}
//	/shalomjobs.auth.v1.AuthService/Logout  {token}
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"shalomjobs.org/internal/auth"
	"shalomjobs.org/internal/obs"
)

const ServiceName = "shalomjobs.auth.v1.AuthService"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// AuthServer is the handler side of AuthService.
type AuthServer interface {
	Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Logout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Server implements AuthServer and owns the health status.
type Server struct {
	auth      *auth.Service
	readiness readinessChecker
	health    *health.Server
	version   string
}

// NewServer creates the gRPC service wrapper.
func NewServer(svc *auth.Service, r readinessChecker, version string) *Server {
	return &Server{auth: svc, readiness: r, health: health.NewServer(), version: version}
}

// Register attaches AuthService and grpc.health.v1 to s.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&authServiceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
}

// CheckReadiness probes readiness once and publishes the result to the
// health service.
func (s *Server) CheckReadiness(ctx context.Context) error {
	st := healthpb.HealthCheckResponse_SERVING
	var err error
	if s.readiness != nil {
		err = s.readiness.Check(ctx)
	}
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(err == nil)
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return err
}

// WatchReadiness re-probes every interval until ctx is done.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	_ = s.CheckReadiness(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.CheckReadiness(ctx); err != nil {
				obs.Warn("readiness check failed", map[string]any{"error": err})
			}
		}
	}
}

// Shutdown marks every service NOT_SERVING.
func (s *Server) Shutdown() { s.health.Shutdown() }

func (s *Server) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.auth.Login(ctx, stringField(in, "email"), stringField(in, "password"))
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"token":      res.Token,
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
		"redirect":   res.Redirect,
		"message":    res.Message,
		"user":       accountFields(res.Account),
	})
}

func (s *Server) Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.auth.Authenticate(ctx, stringField(in, "token"))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return structpb.NewStruct(map[string]any{"valid": false})
		}
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"valid":      true,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
		"user":       accountFields(sess.Account),
	})
}

func (s *Server) Logout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.auth.Logout(ctx, stringField(in, "token")); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"status": "signed_out"})
}

func stringField(in *structpb.Struct, name string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[name].GetStringValue()
}

func accountFields(acc auth.Account) map[string]any {
	raw, err := json.Marshal(acc.Public())
	if err != nil {
		return map[string]any{"id": acc.ID}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"id": acc.ID}
	}
	return out
}

func toStatus(err error) error {
	var (
		locked   *auth.LockedError
		rejected *auth.RejectedError
		invalid  *auth.ValidationError
	)
	switch {
	case errors.As(err, &locked):
		return status.Errorf(codes.ResourceExhausted, "account locked, retry in %d minute(s)", locked.RemainingMinutes)
	case errors.As(err, &rejected):
		return status.Errorf(codes.Unauthenticated, "invalid credentials, %d attempt(s) remaining", rejected.RemainingAttempts)
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, invalid.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid or expired session")
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	default:
		obs.Error("rpc internal error", map[string]any{"error": err})
		return status.Error(codes.Internal, "internal error")
	}
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unary("Login", AuthServer.Login)},
		{MethodName: "Verify", Handler: unary("Verify", AuthServer.Verify)},
		{MethodName: "Logout", Handler: unary("Logout", AuthServer.Logout)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shalomjobs/auth/v1/auth.proto",
}

func unary(method string, call func(AuthServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
