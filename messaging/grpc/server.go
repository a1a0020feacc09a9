// Package grpc serves the standard gRPC health service so orchestrators can
// probe the messaging node without going through HTTP.
package grpc

import (
	"net"

	apphealth "campusconnect/backend/pkg/health"
	"campusconnect/backend/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported through the health service
const ServiceName = "campusconnect.messaging"

// Server wraps a gRPC server exposing grpc.health.v1.Health
type Server struct {
	server *grpc.Server
	health *health.Server
	log    *logger.Logger
}

// NewServer creates the server and mirrors checker results into the health
// service. Until the first check run the node reports NOT_SERVING.
func NewServer(checker *apphealth.Checker, log *logger.Logger) *Server {
	s := &Server{
		server: grpc.NewServer(),
		health: health.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.setServing(false)

	if checker != nil {
		checker.OnChange(s.setServing)
	}
	return s
}

func (s *Server) setServing(healthy bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// Start listens on port and serves in the background
func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	go func() {
		if err := s.Serve(lis); err != nil {
			s.log.LogError(err, "gRPC server stopped")
		}
	}()
	return nil
}

// Stop marks the node as not serving and drains open calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
