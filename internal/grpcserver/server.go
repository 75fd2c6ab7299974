// Package grpcserver exposes the placement service over gRPC.
//
// Two services are registered: the standard grpc.health.v1 health service,
// whose status follows a periodic database ping, and placement.v1.Placement,
// a small operator API. The placement service has no .proto; its messages
// are the Go structs below, encoded with the "json" codec, so clients call
// it with grpc.CallContentSubtype("json").
//
// It delegates all business logic to placement.Service and handles only the
// transport concerns: metadata extraction, error mapping and codecs.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"jobmate/placement-service/internal/placement"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "placement.v1.Placement"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the placement service exchange plain Go structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// ─── Messages ────────────────────────────────────────────────────────────────

type AdRequest struct {
	AdID string `json:"adId"`
}

type PaymentRequest struct {
	PaymentID string `json:"paymentId"`
}

type RunJobRequest struct {
	Job string `json:"job"`
}

// ─── Server ──────────────────────────────────────────────────────────────────

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server implements the placement.v1.Placement service.
type Server struct {
	svc    *placement.Service
	health *health.Server
	log    *zap.Logger
}

// PlacementServer is the handler type of the placement service.
type PlacementServer interface {
	Service() *placement.Service
}

// NewServer constructs a Server backed by the given placement.Service.
func NewServer(svc *placement.Service, log *zap.Logger) *Server {
	return &Server{svc: svc, health: health.NewServer(), log: log}
}

// Service returns the wrapped placement.Service.
func (s *Server) Service() *placement.Service { return s.svc }

// Register mounts the health and placement services on gs.
func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
	gs.RegisterService(&serviceDesc, s)
}

// WatchHealth pings the database every interval and updates the serving
// status until ctx is done.
func (s *Server) WatchHealth(ctx context.Context, db Pinger, interval time.Duration) {
	s.checkHealth(ctx, db)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-t.C:
			s.checkHealth(ctx, db)
		}
	}
}

func (s *Server) checkHealth(ctx context.Context, db Pinger) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err := db.Ping(ctx); err != nil {
		s.log.Warn("database ping failed", zap.Error(err))
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// ─── RPC implementations ──────────────────────────────────────────────────────

func (s *Server) getAd(ctx context.Context, req *AdRequest) (any, error) {
	return s.svc.GetAd(ctx, actorFromCtx(ctx), req.AdID)
}

func (s *Server) manualJump(ctx context.Context, req *AdRequest) (any, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.svc.ManualJump(ctx, actor, req.AdID)
}

func (s *Server) approvePayment(ctx context.Context, req *PaymentRequest) (any, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.svc.ApprovePayment(ctx, actor, req.PaymentID)
}

func (s *Server) runJob(ctx context.Context, req *RunJobRequest) (any, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != placement.RoleAdmin {
		return nil, status.Error(codes.PermissionDenied, "running jobs requires the admin role")
	}
	return s.svc.RunJob(ctx, req.Job)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlacementServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetAd", (*Server).getAd),
		unary("ManualJump", (*Server).manualJump),
		unary("ApprovePayment", (*Server).approvePayment),
		unary("RunJob", (*Server).runJob),
	},
	Metadata: "placement.v1",
}

// unary adapts a typed method to a grpc.MethodDesc, running interceptors
// and mapping domain errors.
func unary[Req any](name string, call func(*Server, context.Context, *Req) (any, error)) grpc.MethodDesc {
	invoke := func(s *Server, ctx context.Context, req *Req) (any, error) {
		resp, err := call(s, ctx, req)
		if err != nil {
			return nil, toGRPCError(err)
		}
		return resp, nil
	}
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return invoke(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return invoke(s, ctx, r.(*Req))
			})
		},
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// actorFromCtx extracts the x-user-id / x-user-role values forwarded by the
// Gateway via gRPC metadata.
func actorFromCtx(ctx context.Context) placement.Actor {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if vals := md.Get(key); len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	return placement.Actor{UserID: first("x-user-id"), Role: placement.ParseRole(first("x-user-role"))}
}

func requireActor(ctx context.Context) (placement.Actor, error) {
	actor := actorFromCtx(ctx)
	if actor.UserID == "" {
		return actor, status.Error(codes.Unauthenticated, "missing x-user-id metadata")
	}
	return actor, nil
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, placement.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	var ve *placement.ValidationError
	if errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, ve.Msg)
	}
	var rej *placement.Rejection
	if errors.As(err, &rej) {
		switch rej.Code {
		case placement.CodeForbidden:
			return status.Error(codes.PermissionDenied, rej.Error())
		case placement.CodeQuotaExhausted, placement.CodeCooldown:
			return status.Error(codes.ResourceExhausted, rej.Error())
		case placement.CodeAlreadyProcessed:
			return status.Error(codes.AlreadyExists, rej.Error())
		}
		return status.Error(codes.FailedPrecondition, rej.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}
