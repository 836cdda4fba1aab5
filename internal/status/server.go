// Package status exposes the health of a prediction run: a gRPC health
// service and an HTTP server with /metrics, /healthz and /readyz.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/inpaint-predict/internal/metrics"
)

// ServiceName is the health service name reported for the run.
const ServiceName = "inpaint-predict"

// Options configures the status endpoints. Empty addresses disable the
// corresponding server.
type Options struct {
	HTTPAddr    string
	GRPCAddr    string
	RunID       string
	OTELEnabled bool
}

// Server owns the health state and the optional listeners.
type Server struct {
	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
	log    zerolog.Logger

	httpAddr net.Addr
	grpcAddr net.Addr
}

// New creates a Server in the NOT_SERVING state.
func New(log zerolog.Logger) *Server {
	s := &Server{health: health.NewServer(), log: log}
	s.SetServing(false)
	return s
}

// Health returns the underlying gRPC health server.
func (s *Server) Health() *health.Server { return s.health }

// SetServing flips the overall and service health status.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
		metrics.SetHealthy()
	} else {
		metrics.SetUnhealthy()
	}
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus("", st)
}

// Start binds the configured listeners and serves them in the background.
func (s *Server) Start(opts Options) error {
	if opts.HTTPAddr != "" {
		lis, err := net.Listen("tcp", opts.HTTPAddr)
		if err != nil {
			return err
		}
		s.httpAddr = lis.Addr()
		s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			s.log.Info().Str("addr", s.httpAddr.String()).Msg("HTTP server listening (metrics, health)")
			if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	if opts.GRPCAddr != "" {
		lis, err := net.Listen("tcp", opts.GRPCAddr)
		if err != nil {
			s.Shutdown(context.Background())
			return err
		}
		s.grpcAddr = lis.Addr()

		interceptors := []grpc.UnaryServerInterceptor{
			UnaryRequestIDInterceptor(opts.RunID),
			UnaryLoggingInterceptor(s.log),
			UnaryMetricsInterceptor(),
		}
		var serverOpts []grpc.ServerOption
		if opts.OTELEnabled {
			serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
		}
		serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(interceptors...))

		s.grpc = grpc.NewServer(serverOpts...)
		healthpb.RegisterHealthServer(s.grpc, s.health)
		reflection.Register(s.grpc)

		go func() {
			s.log.Info().Str("addr", s.grpcAddr.String()).Msg("gRPC health server listening")
			if err := s.grpc.Serve(lis); err != nil {
				s.log.Error().Err(err).Msg("gRPC server error")
			}
		}()
	}
	return nil
}

// HTTPAddr returns the bound HTTP address, or nil.
func (s *Server) HTTPAddr() net.Addr { return s.httpAddr }

// GRPCAddr returns the bound gRPC address, or nil.
func (s *Server) GRPCAddr() net.Addr { return s.grpcAddr }

// Handler serves /metrics, /healthz and /readyz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.check("OK", "Service Unavailable"))
	// Readiness follows health: the run is ready once the model is loaded.
	mux.HandleFunc("/readyz", s.check("Ready", "Not Ready"))
	return mux
}

func (s *Server) check(ok, fail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.health.Check(r.Context(), &healthpb.HealthCheckRequest{})
		if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(fail))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(ok))
	}
}

// Shutdown marks the run NOT_SERVING and stops both servers.
func (s *Server) Shutdown(ctx context.Context) {
	s.SetServing(false)
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("HTTP server shutdown")
		}
	}
}
