//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"

	authpb "github.com/vibast-solutions/ms-go-auth/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultShiftStreamCallerAPIKey   = "shiftstream-caller-key"
	defaultShiftStreamNoAccessAPIKey = "shiftstream-no-access-key"
	defaultShiftStreamAppAPIKey      = "shiftstream-app-api-key"
	shiftStreamAuthMockAddr          = "0.0.0.0:38085"
)

func shiftStreamCallerAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("SHIFTSTREAM_CALLER_API_KEY")); value != "" {
		return value
	}
	return defaultShiftStreamCallerAPIKey
}

func shiftStreamNoAccessAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("SHIFTSTREAM_NO_ACCESS_API_KEY")); value != "" {
		return value
	}
	return defaultShiftStreamNoAccessAPIKey
}

func shiftStreamAppAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("SHIFTSTREAM_APP_API_KEY")); value != "" {
		return value
	}
	return defaultShiftStreamAppAPIKey
}

type shiftStreamAuthGRPCServer struct {
	authpb.UnimplementedAuthServiceServer
}

func (s *shiftStreamAuthGRPCServer) ValidateInternalAccess(ctx context.Context, req *authpb.ValidateInternalAccessRequest) (*authpb.ValidateInternalAccessResponse, error) {
	if incomingShiftStreamAPIKey(ctx) != shiftStreamAppAPIKey() {
		return nil, status.Error(codes.Unauthenticated, "unauthorized caller")
	}

	apiKey := strings.TrimSpace(req.GetApiKey())
	switch apiKey {
	case shiftStreamCallerAPIKey():
		return &authpb.ValidateInternalAccessResponse{
			ServiceName:   "merchant-dashboard",
			AllowedAccess: []string{"shiftstream-service", "notifications-service"},
		}, nil
	case shiftStreamNoAccessAPIKey():
		return &authpb.ValidateInternalAccessResponse{
			ServiceName:   "merchant-dashboard",
			AllowedAccess: []string{"notifications-service"},
		}, nil
	default:
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}
}

func incomingShiftStreamAPIKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("x-api-key")
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func TestMain(m *testing.M) {
	if os.Getenv("SHIFTSTREAM_CALLER_API_KEY") == "" {
		_ = os.Setenv("SHIFTSTREAM_CALLER_API_KEY", defaultShiftStreamCallerAPIKey)
	}
	if os.Getenv("SHIFTSTREAM_NO_ACCESS_API_KEY") == "" {
		_ = os.Setenv("SHIFTSTREAM_NO_ACCESS_API_KEY", defaultShiftStreamNoAccessAPIKey)
	}
	if os.Getenv("SHIFTSTREAM_APP_API_KEY") == "" {
		_ = os.Setenv("SHIFTSTREAM_APP_API_KEY", defaultShiftStreamAppAPIKey)
	}

	listener, err := net.Listen("tcp", shiftStreamAuthMockAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start shiftstream auth grpc mock: %v\n", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	authpb.RegisterAuthServiceServer(grpcServer, &shiftStreamAuthGRPCServer{})

	go func() {
		_ = grpcServer.Serve(listener)
	}()

	exitCode := m.Run()

	grpcServer.GracefulStop()
	_ = listener.Close()

	os.Exit(exitCode)
}
