package server

import (
	"DSCEngine/internal/event"
	"DSCEngine/internal/ingestion"
	"DSCEngine/internal/observability"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dsc.engine.v1.EngineService"

// engineServer is the handler type checked by grpc.Server.RegisterService.
type engineServer interface {
	Execute(ctx context.Context, req *ingestion.CommandMessage) (*CommandResponse, error)
}

// unary builds a method descriptor that decodes Req and calls fn.
func unary[Req any, Resp any](name string, fn func(*Service, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(*Service), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// commandMethod binds one engine operation to its own RPC.
func commandMethod(op event.OperationType) grpc.MethodDesc {
	name := op.String()
	return unary(name, func(s *Service, ctx context.Context, req *ingestion.CommandMessage) (*CommandResponse, error) {
		req.Operation = name
		return s.Execute(ctx, req)
	})
}

// ServiceDesc describes the engine service: one RPC per operation plus the
// views, projection queries and admin calls. Messages use the JSON codec.
func ServiceDesc() grpc.ServiceDesc {
	methods := []grpc.MethodDesc{}
	for op := event.OperationDepositCollateral; op <= event.OperationLiquidate; op++ {
		methods = append(methods, commandMethod(op))
	}
	methods = append(methods,
		unary("GetAccountInformation", (*Service).GetAccountInformation),
		unary("GetHealthFactor", (*Service).GetHealthFactor),
		unary("GetCollateralBalance", (*Service).GetCollateralBalance),
		unary("GetUsdValue", (*Service).GetUsdValue),
		unary("GetTokenAmountFromUsd", (*Service).GetTokenAmountFromUsd),
		unary("GetParameters", (*Service).GetParameters),
		unary("GetPosition", (*Service).GetPosition),
		unary("ListLiquidations", (*Service).ListLiquidations),
		unary("ListJournals", (*Service).ListJournals),
		unary("VerifyIntegrity", (*Service).VerifyIntegrity),
		unary("RebuildProjections", (*Service).RebuildProjections),
		unary("GetEventLogInfo", (*Service).GetEventLogInfo),
		unary("TakeSnapshot", (*Service).TakeSnapshot),
	)
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*engineServer)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "dsc/engine/v1/engine.proto",
	}
}

// GRPCServer wraps the gRPC server and the HTTP gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       *Service
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger

	rpcMetrics  *grpc_prometheus.ServerMetrics
	corsOrigins []string
	limiter     *rate.Limiter
}

// Option configures a GRPCServer.
type Option func(*GRPCServer)

// WithRPCMetrics registers per-method gRPC server metrics on reg.
func WithRPCMetrics(reg prometheus.Registerer) Option {
	return func(s *GRPCServer) {
		m := grpc_prometheus.NewServerMetrics()
		m.EnableHandlingTimeHistogram()
		reg.MustRegister(m)
		s.rpcMetrics = m
	}
}

// WithCORS allows browser calls to the HTTP gateway from origins.
func WithCORS(origins []string) Option {
	return func(s *GRPCServer) { s.corsOrigins = origins }
}

// WithRateLimit caps requests across both transports at perMinute, with a
// burst of the same size. Zero or less disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(s *GRPCServer) {
		if perMinute <= 0 {
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// NewGRPCServer creates a gRPC server with the engine, health and
// reflection services registered.
func NewGRPCServer(grpcAddr, httpAddr string, svc *Service, hc *observability.HealthChecker, metrics *observability.Metrics, logger zerolog.Logger, opts ...Option) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       svc,
		healthChecker: hc,
		metrics:       metrics,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	var interceptors []grpc.UnaryServerInterceptor
	if s.rpcMetrics != nil {
		interceptors = append(interceptors, s.rpcMetrics.UnaryServerInterceptor())
	}
	interceptors = append(interceptors, s.observeUnary, s.recoverUnary, s.limitUnary)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	desc := ServiceDesc()
	grpcServer.RegisterService(&desc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	if s.rpcMetrics != nil {
		s.rpcMetrics.InitializeMetrics(grpcServer)
	}

	s.grpcServer = grpcServer
	return s
}

// Server exposes the underlying gRPC server, e.g. to serve on a custom listener.
func (s *GRPCServer) Server() *grpc.Server {
	return s.grpcServer
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON routes and health endpoints until
// ctx is cancelled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP handler: gateway routes plus /healthz and /readyz.
func (s *GRPCServer) Handler() (http.Handler, error) {
	gw, err := NewGateway(s.service, s.metrics)
	if err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", s.limitHTTP(gw))

	if len(s.corsOrigins) == 0 {
		return httpMux, nil
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(httpMux), nil
}

func (s *GRPCServer) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

func (s *GRPCServer) limitUnary(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !s.allow() {
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return handler(ctx, req)
}

// limitHTTP applies the limiter to gateway routes; health probes bypass it.
func (s *GRPCServer) limitHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allow() {
			writeError(w, status.Error(codes.ResourceExhausted, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *GRPCServer) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("method", info.FullMethod).Interface("panic", r).Msg("panic in unary handler")
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

func (s *GRPCServer) observeUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	observe(s.metrics, path.Base(info.FullMethod), start, status.Code(err).String())
	return resp, err
}

func observe(m *observability.Metrics, endpoint string, start time.Time, code string) {
	if m == nil {
		return
	}
	m.QueryRequests.WithLabelValues(endpoint, code).Inc()
	m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
