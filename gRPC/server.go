package proto

import (
	"PersonDetServer/engine"
	"PersonDetServer/logger"
	"PersonDetServer/monitor"
	"PersonDetServer/worker"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type Server struct {
	UnimplementedDetectServiceServer

	Registry   *worker.Registry
	Pool       *worker.Pool
	NewBackend worker.Factory

	// CloseChannel is closed once Shutdown has been requested.
	CloseChannel chan struct{}
	closeOnce    sync.Once
}

func NewServer(registry *worker.Registry, pool *worker.Pool, factory worker.Factory) *Server {
	return &Server{
		Registry:     registry,
		Pool:         pool,
		NewBackend:   factory,
		CloseChannel: make(chan struct{}),
	}
}

func (s *Server) InitEngine(ctx context.Context, req *InitEngineRequest) (*InitEngineResponse, error) {
	monitor.Request(monitor.TransportGRPC)
	cfg := engine.DefaultConfig()
	cfg.ModelPath = req.ModelPath
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.PersonIndex != nil {
		cfg.PersonIndex = int(*req.PersonIndex)
	}
	if req.ArenaSize != 0 {
		cfg.ArenaSize = int(req.ArenaSize)
	}
	if req.NumThreads != 0 {
		cfg.NumThreads = int(req.NumThreads)
	}
	cfg.UseEdgeTPU = req.UseEdgeTPU
	if cfg.Threshold > 1.0 || cfg.Threshold < 0.0 {
		return nil, status.Errorf(codes.InvalidArgument, "threshold must be between 0.0 and 1.0, got %f", cfg.Threshold)
	}
	if cfg.ModelPath == "" {
		return nil, status.Error(codes.InvalidArgument, "model path cannot be empty")
	}
	if cfg.PersonIndex < 0 || cfg.ArenaSize < 0 || cfg.NumThreads < 0 {
		return nil, status.Error(codes.InvalidArgument, "personIndex, arenaSize and numThreads must not be negative")
	}
	backend, err := s.NewBackend(cfg)
	if err != nil {
		logger.Log().Error("InitEngine failed", zap.String("ModelPath", req.ModelPath), zap.Error(err))
		return nil, status.Errorf(codes.FailedPrecondition, "failed to initialize engine: %v", err)
	}
	id := s.Registry.Add(backend, req.Description)
	if req.SetDefault {
		s.Registry.SetDefault(id)
	}
	logger.Log().Info("Initialized new engine",
		zap.String("ID", id),
		zap.String("ModelPath", req.ModelPath),
		zap.Float32("Threshold", cfg.Threshold),
		zap.Int("PersonIndex", cfg.PersonIndex),
		zap.Bool("UseEdgeTPU", req.UseEdgeTPU),
	)
	return &InitEngineResponse{
		Success: true,
		Id:      id,
		Message: "Successfully initialized engine",
	}, nil
}

func (s *Server) lookup(id string) (*worker.Engine, error) {
	if id == "" {
		if e, ok := s.Registry.Default(); ok {
			return e, nil
		}
		return nil, status.Error(codes.NotFound, "no default engine")
	}
	e, ok := s.Registry.Get(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "detector with ID %s not found", id)
	}
	return e, nil
}

func (s *Server) Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	monitor.Request(monitor.TransportGRPC)
	e, err := s.lookup(req.Id)
	if err != nil {
		return nil, err
	}
	det, err := s.Pool.Detect(ctx, e.Backend, req.ImgData, int(req.Size))
	if err != nil {
		return nil, detectStatus(err)
	}
	return &DetectResponse{
		Success:    true,
		Person:     det.Person,
		Score:      det.Score,
		Raw:        det.Raw,
		LatencyMs:  det.LatencyMs,
		DetectedAt: timestamppb.Now(),
	}, nil
}

func detectStatus(err error) error {
	switch {
	case errors.Is(err, engine.ErrNilImage), errors.Is(err, engine.ErrInputSize), errors.Is(err, worker.ErrBadFrame):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, worker.ErrPoolClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Errorf(codes.Internal, "inference error: %v", err)
	}
}

func (s *Server) engineInfo(e *worker.Engine) *EngineInfo {
	cfg := e.Backend.CheckConfig()
	def, ok := s.Registry.Default()
	return &EngineInfo{
		Id:          e.ID,
		Description: e.Description,
		ModelPath:   cfg.ModelPath,
		Threshold:   cfg.Threshold,
		PersonIndex: int32(cfg.PersonIndex),
		ArenaSize:   int32(cfg.ArenaSize),
		NumThreads:  int32(cfg.NumThreads),
		UseEdgeTPU:  cfg.UseEdgeTPU,
		State:       e.Backend.Status(),
		IsDefault:   ok && def.ID == e.ID,
		Created:     timestamppb.New(e.Created),
	}
}

func (s *Server) CheckEngine(ctx context.Context, req *CheckEngineRequest) (*CheckEngineResponse, error) {
	monitor.Request(monitor.TransportGRPC)
	e, err := s.lookup(req.Id)
	if err != nil {
		return nil, err
	}
	return &CheckEngineResponse{
		Success:    true,
		EngineInfo: s.engineInfo(e),
		Message:    "Detector status retrieved successfully",
	}, nil
}

func (s *Server) CheckAllEngine(ctx context.Context, req *emptypb.Empty) (*CheckAllEngineResponse, error) {
	monitor.Request(monitor.TransportGRPC)
	all := s.Registry.All()
	infos := make([]*EngineInfo, 0, len(all))
	for _, e := range all {
		infos = append(infos, s.engineInfo(e))
	}
	return &CheckAllEngineResponse{
		Success: true,
		Engines: infos,
		Message: "All Detectors status retrieved successfully",
	}, nil
}

func (s *Server) DestroyEngine(ctx context.Context, req *DestroyEngineRequest) (*DestroyEngineResponse, error) {
	monitor.Request(monitor.TransportGRPC)
	if !s.Registry.Remove(req.Id) {
		logger.Log().Error("detector not found with ID", zap.String("ID", req.Id))
		return nil, status.Errorf(codes.NotFound, "detector with ID %s not found", req.Id)
	}
	return &DestroyEngineResponse{
		Success: true,
		Message: "Detector destroyed successfully",
	}, nil
}

// Shutdown only signals; main owns the teardown order.
func (s *Server) Shutdown(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.Request(monitor.TransportGRPC)
	s.closeOnce.Do(func() {
		logger.Log().Warn("Shutdown requested over gRPC")
		close(s.CloseChannel)
	})
	return &emptypb.Empty{}, nil
}

func StartGRPCServer(port int, srv DetectServiceServer) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return Serve(lis, srv), nil
}

func Serve(lis net.Listener, srv DetectServiceServer) *grpc.Server {
	s := grpc.NewServer()
	RegisterDetectServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s
}
