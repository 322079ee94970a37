// Package server exposes the memory agent over a WebSocket turn endpoint,
// an HTTP health check and the gRPC health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/conversation"
	"github.com/becomeliminal/memory-agent/engine"
)

// Runner executes one turn. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, state *conversation.State, cfg *config.AgentConfig) (*engine.Result, error)
}

// Config configures the server.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// GRPCAddr is the gRPC health listen address. Empty disables gRPC.
	GRPCAddr string

	// Agent supplies the model and system prompt for every turn, and the
	// user id when a request does not name one.
	Agent *config.AgentConfig

	Engine       Runner
	Checkpointer conversation.Checkpointer

	// TurnTimeout bounds one turn. Default: 2 minutes.
	TurnTimeout time.Duration
}

// Server is the memory agent service.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	health   *health.Server

	threadsMu sync.Mutex
	threads   map[string]*threadLock // thread id → turn lock, while in use
}

// threadLock is dropped from the map once no turn holds or waits on it.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg.Checkpointer == nil {
		return nil, errors.New("server: checkpointer is required")
	}
	if cfg.Agent == nil {
		cfg.Agent = config.NewAgentConfig()
	}
	if cfg.TurnTimeout == 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}

	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		health:  health.NewServer(),
		threads: make(map[string]*threadLock),
	}, nil
}

// Handler returns the HTTP routes: /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// RegisterGRPC registers the health service on gs and marks it serving.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Run serves until ctx is cancelled, then shuts both listeners down.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	var gs *grpc.Server
	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", s.cfg.GRPCAddr, err)
		}
		gs = grpc.NewServer()
		s.RegisterGRPC(gs)
		go func() {
			log.Printf("[SERVER] gRPC health on %s", s.cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	go func() {
		log.Printf("[SERVER] WebSocket: ws://%s/ws", s.cfg.Addr)
		log.Printf("[SERVER] Health:    http://%s/health", s.cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Printf("[SERVER] Shutting down")
	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	if gs != nil {
		gs.GracefulStop()
	}
	return runErr
}

// lockThread serialises turns on one thread across connections. The
// returned func releases the lock.
func (s *Server) lockThread(threadID string) func() {
	s.threadsMu.Lock()
	l, ok := s.threads[threadID]
	if !ok {
		l = &threadLock{}
		s.threads[threadID] = l
	}
	l.refs++
	s.threadsMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.threadsMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.threads, threadID)
		}
		s.threadsMu.Unlock()
	}
}

