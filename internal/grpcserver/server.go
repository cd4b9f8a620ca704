// Package grpcserver exposes the search pipeline as the JobSearch gRPC
// service.
//
// Messages are google.protobuf.Struct values carrying the same JSON shape as
// the HTTP endpoint, so internal callers and browser clients share one
// contract. The server handles only transport concerns: metadata extraction,
// error mapping and conversion between Struct and the domain model.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/search-service/internal/model"
	"jobmate/search-service/internal/search"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "jobmate.search.v1.JobSearch"
	// SearchMethod is the full method path of the Search RPC.
	SearchMethod = "/" + ServiceName + "/Search"

	requestIDKey = "x-request-id"
)

// Searcher runs one search request.
type Searcher interface {
	Search(ctx context.Context, req model.SearchRequest) (*model.SearchResponse, error)
}

// JobSearchServer is the server API for the JobSearch service.
type JobSearchServer interface {
	Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobSearchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Search", Handler: searchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jobmate/search/v1/search.proto",
}

func searchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobSearchServer).Search(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SearchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobSearchServer).Search(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements JobSearchServer.
type Server struct {
	svc Searcher
}

// NewServer constructs a Server backed by svc.
func NewServer(svc Searcher) *Server {
	return &Server{svc: svc}
}

// New returns a grpc.Server with the JobSearch and health services
// registered.
func New(svc Searcher, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		requestIDInterceptor,
		loggingInterceptor(logger.With("component", "grpc")),
	))
	gs.RegisterService(&serviceDesc, NewServer(svc))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// Search runs the cached job search.
func (s *Server) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req model.SearchRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request: "+err.Error())
	}

	resp, err := s.svc.Search(ctx, req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	out, err := toStruct(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response: "+err.Error())
	}
	return out, nil
}

// ─── Client ──────────────────────────────────────────────────────────────────

// Client calls the JobSearch service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Search sends req and decodes the response into the domain model.
func (c *Client) Search(ctx context.Context, req model.SearchRequest, opts ...grpc.CallOption) (*model.SearchResponse, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SearchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	var resp model.SearchResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// toGRPCError maps pipeline errors to gRPC status errors.
func toGRPCError(err error) error {
	var ve *search.ValidationError
	if errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, ve.Msg)
	}
	if errors.Is(err, search.ErrMissingAPIKey) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	var ue *search.UpstreamError
	if errors.As(err, &ue) {
		return status.Error(codes.Unavailable, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// requestIDInterceptor copies x-request-id metadata into the context the
// search pipeline reads it from.
func requestIDInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(requestIDKey); len(vals) > 0 && vals[0] != "" {
			ctx = search.WithRequestID(ctx, vals[0])
		}
	}
	return handler(ctx, req)
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
			"request_id", search.RequestIDFrom(ctx),
		)
		return resp, err
	}
}
