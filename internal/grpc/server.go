package grpc

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/disaster-live-feed/internal/broadcast"
	"github.com/mr1hm/disaster-live-feed/internal/models"
)

// Server streams live alerts to gRPC clients. Each Subscribe call is one
// session in the broadcast registry, next to the WebSocket and SSE ones.
type Server struct {
	registry      *broadcast.Registry
	sessionBuffer int
	grpcServer    *grpc.Server
	health        *health.Server
}

func NewServer(registry *broadcast.Registry, sessionBuffer int) *Server {
	s := &Server{
		registry:      registry,
		sessionBuffer: sessionBuffer,
		grpcServer:    grpc.NewServer(),
		health:        health.NewServer(),
	}

	s.grpcServer.RegisterService(&alertFeedDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

// Serve blocks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop reports NOT_SERVING and waits for open streams to end. Close the
// registry first so Subscribe calls return.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

func (s *Server) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	filter, err := newFilter(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	session := broadcast.NewChannelSession(s.sessionBuffer)
	id := s.registry.Connect(session)
	defer func() {
		s.registry.Remove(id)
		session.Close()
	}()

	slog.Info("grpc session connected", "session_id", id,
		"disaster_type", req.DisasterType, "min_severity", req.MinSeverity)

	for {
		select {
		case <-stream.Context().Done():
			slog.Info("grpc session disconnected", "session_id", id)
			return nil
		case <-session.Done():
			return nil
		case ev := <-session.Events():
			if !filter.match(ev) {
				continue
			}
			if err := stream.SendMsg(&ev); err != nil {
				slog.Error("failed to send alert to stream", "error", err, "session_id", id)
				return err
			}
		}
	}
}

type filter struct {
	disasterType string
	minSeverity  models.Severity
}

func newFilter(req *SubscribeRequest) (filter, error) {
	f := filter{disasterType: strings.TrimSpace(req.DisasterType), minSeverity: models.SeverityLow}
	if req.MinSeverity != "" {
		sev, ok := models.ParseSeverity(req.MinSeverity)
		if !ok {
			return filter{}, fmt.Errorf("unknown min_severity %q", req.MinSeverity)
		}
		f.minSeverity = sev
	}
	return f, nil
}

func (f filter) match(ev models.AlertEvent) bool {
	if f.disasterType != "" && !strings.EqualFold(f.disasterType, ev.DisasterType) {
		return false
	}
	return ev.Severity.AtLeast(f.minSeverity)
}
