// Command smoke-auth exercises a running shalom-api over gRPC: it signs the
// demo user in, verifies the session and signs out again.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"shalomjobs.org/internal/rpc"
)

func main() {
	addr := envOr("SHALOM_GRPC_TARGET", "localhost:9090")
	email := envOr("SHALOM_SMOKE_EMAIL", "user@example.com")
	password := envOr("SHALOM_SMOKE_PASSWORD", "password123")

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	if err != nil {
		log.Fatalf("health: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("service not serving: %v", health.GetStatus())
	}

	login, err := call(ctx, conn, "Login", map[string]any{"email": email, "password": password})
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	token := login.GetFields()["token"].GetStringValue()
	if token == "" {
		log.Fatal("login returned no token")
	}

	verify, err := call(ctx, conn, "Verify", map[string]any{"token": token})
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	if !verify.GetFields()["valid"].GetBoolValue() {
		log.Fatal("fresh token did not verify")
	}

	if _, err := call(ctx, conn, "Logout", map[string]any{"token": token}); err != nil {
		log.Fatalf("logout: %v", err)
	}
	verify, err = call(ctx, conn, "Verify", map[string]any{"token": token})
	if err != nil {
		log.Fatalf("verify after logout: %v", err)
	}
	if verify.GetFields()["valid"].GetBoolValue() {
		log.Fatal("token still valid after logout")
	}

	fmt.Printf("✅ auth smoke test passed: %s signed in and out\n", email)
}

func call(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+rpc.ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
