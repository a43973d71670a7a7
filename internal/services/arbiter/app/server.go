// Package server wires the arbiter runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/wordwager/internal/platform/config"
	"github.com/louisbranch/wordwager/internal/platform/timeouts"
	"github.com/louisbranch/wordwager/internal/services/arbiter/engine"
	"github.com/louisbranch/wordwager/internal/services/arbiter/events"
	arbitersqlite "github.com/louisbranch/wordwager/internal/services/arbiter/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const healthServiceName = "wordwager.arbiter"

type serverEnv struct {
	DBPath string `env:"WORDWAGER_ARBITER_DB_PATH"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "arbiter.db")
	}
	return cfg
}

// Server hosts the arbiter runtime: storage, engine, lease sweep, and the
// gRPC health surface.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *arbitersqlite.Store
	engine     *engine.Engine
	bus        *events.Bus
	service    *Service
	sweepStop  context.CancelFunc
	sweepDone  chan struct{}
}

// New creates a configured arbiter server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured arbiter server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	env := loadServerEnv()
	store, err := openArbiterStore(env.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	bus := events.NewBus()
	eng, err := engine.New(store, bus, engine.Options{})
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("new engine: %w", err)
	}
	service, err := NewService(eng, store)
	if err != nil {
		eng.Close()
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("new service: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		engine:     eng,
		bus:        bus,
		service:    service,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Service returns the application surface backed by this server's engine.
func (s *Server) Service() *Service {
	if s == nil {
		return nil
	}
	return s.service
}

// Run creates and serves an arbiter server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve resumes lease timers, starts the recovery sweep, and serves gRPC
// until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	armed, err := s.engine.ResumeLeases(ctx)
	if err != nil {
		return fmt.Errorf("resume leases: %w", err)
	}
	log.Printf("arbiter resumed %d lease timers", armed)
	s.startSweep()

	log.Printf("arbiter server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// startSweep runs the recovery sweep on a fixed cadence until Close.
func (s *Server) startSweep() {
	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepStop = cancel
	s.sweepDone = make(chan struct{})
	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(timeouts.LeaseSweep)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if err := s.engine.Sweep(sweepCtx); err != nil {
					log.Printf("arbiter sweep: %v", err)
				}
			}
		}
	}()
}

// Close releases arbiter server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.sweepStop != nil {
		s.sweepStop()
		<-s.sweepDone
		s.sweepStop = nil
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.engine != nil {
		s.engine.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close arbiter store: %v", err)
		}
	}
}

func openArbiterStore(path string) (*arbitersqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := arbitersqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open arbiter sqlite store: %w", err)
	}
	return store, nil
}
