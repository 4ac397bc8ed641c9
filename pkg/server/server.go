package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
)

// Server is the HTTP/WebSocket server for a group registry.
type Server struct {
	config   *ServerConfig
	registry *group.Registry

	// Connection management
	conns   *ConnManager
	metrics *MetricsCollector

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// Dispatch middleware
	mwMu       sync.RWMutex
	middleware []DispatchMiddleware

	// HTTP routing
	routerOnce sync.Once
	router     chi.Router

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	httpServer   *http.Server
	addr         atomic.Pointer[net.Addr]
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	logger *slog.Logger
}

// New creates a server for the groups in registry. A nil config selects
// DefaultServerConfig; zero fields of a given config are filled with
// defaults.
func New(config *ServerConfig, registry *group.Registry) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	config.fillDefaults()
	if registry == nil {
		registry = group.NewRegistry()
	}

	logger := config.Logger.With("component", "server")
	if err := config.Validate(); err != nil {
		logger.Error("config validation failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		registry: registry,
		conns: NewConnManager(registry, config.MaxConnections,
			config.ConnConfig.IdleTimeout, config.CleanupInterval, config.Logger),
		metrics: NewMetricsCollector(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	return s
}

// Use appends dispatch middleware. The first middleware added is the
// outermost. Middleware applies to connections accepted afterwards.
func (s *Server) Use(mw ...DispatchMiddleware) {
	s.mwMu.Lock()
	defer s.mwMu.Unlock()
	s.middleware = append(s.middleware, mw...)
}

// chain builds the dispatch function for a new connection.
func (s *Server) chain() DispatchFunc {
	s.mwMu.RLock()
	mw := make([]DispatchMiddleware, len(s.middleware))
	copy(mw, s.middleware)
	s.mwMu.RUnlock()
	return Chain(s.route, mw...)
}

// route is the innermost DispatchFunc. It handles subscriptions itself and
// passes every other command to the registry.
func (s *Server) route(_ context.Context, c *Conn, msg protocol.Message) protocol.Message {
	switch msg.Func() {
	case protocol.FuncSubscribe:
		return s.subscribe(c, msg)
	case protocol.FuncUnsubscribe:
		s.unsubscribe(c, msg)
		return nil
	default:
		return s.registry.Dispatch(msg, c)
	}
}

// lookup resolves the group msg names, reporting failures to c.
func (s *Server) lookup(c *Conn, msg protocol.Message) (group.Group, bool) {
	name := msg.Name()
	g, ok := s.registry.Lookup(name)
	if !ok {
		c.sendCoded(protocol.ErrUnknownGroup, "unknown group: "+name)
		return nil, false
	}
	if t := msg.Type(); t != string(g.Kind()) {
		c.sendCoded(protocol.ErrKindMismatch, fmt.Sprintf("group %s is a %s, not a %s", name, g.Kind(), t))
		return nil, false
	}
	return g, true
}

// subscribe subscribes c and returns the group's current state for vars
// and lists.
func (s *Server) subscribe(c *Conn, msg protocol.Message) protocol.Message {
	g, ok := s.lookup(c, msg)
	if !ok {
		return nil
	}
	if !g.Subscribable() {
		c.sendCoded(protocol.ErrNotSubscribable, "group "+g.Name()+" is not subscribable")
		return nil
	}
	c.Subscribe(g)
	c.logger.Debug("subscribed", "group", g.Name(), "kind", g.Kind())

	if g.Kind() == group.KindFunction {
		return nil
	}
	return g.HandleCommand(protocol.FuncGet, protocol.Message{}, c)
}

func (s *Server) unsubscribe(c *Conn, msg protocol.Message) {
	g, ok := s.lookup(c, msg)
	if !ok {
		return
	}
	c.Unsubscribe(g)
	c.logger.Debug("unsubscribed", "group", g.Name(), "kind", g.Kind())
}

// Handler returns the HTTP handler serving the WebSocket endpoint, health,
// metrics and the group listing.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)

		r.Get(s.config.Path, s.HandleWebSocket)
		r.Get("/healthz", s.handleHealth)
		r.Get("/groups", s.handleGroups)
		if s.config.MetricsHandler != nil {
			r.Handle(s.config.MetricsPath, s.config.MetricsHandler)
		}
		s.router = r
	})
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// HandleWebSocket upgrades the request and starts a connection.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if limit := s.config.MaxConnections; limit > 0 && s.conns.Count() >= limit {
		s.conns.rejected.Add(1)
		s.logger.Warn("connection rejected", "reason", ErrMaxConnections, "remote_addr", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(ws, s.config.ConnConfig, s.chain(), s.metrics, s.logger)
	c.RemoteAddr = r.RemoteAddr
	c.RequestID = middleware.GetReqID(r.Context())

	if err := s.conns.Add(c); err != nil {
		s.logger.Warn("connection rejected", "reason", err, "remote_addr", r.RemoteAddr)
		deadline := time.Now().Add(s.config.ConnConfig.WriteTimeout)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"), deadline)
		ws.Close()
		return
	}

	c.start(s.ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.shuttingDown.Load() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"connections": s.conns.Count(),
	})
}

// GroupInfo describes one registered group.
type GroupInfo struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Subscribable bool   `json:"subscribable"`
	Subscribers  int    `json:"subscribers"`
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.registry.Groups()
	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupInfo{
			Name:         g.Name(),
			Kind:         string(g.Kind()),
			Subscribable: g.Subscribable(),
			Subscribers:  g.Subscribers(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run listens on the configured address and serves until ctx is done or
// the process receives SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	addr := ln.Addr()
	s.addr.Store(&addr)

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server starting", "address", addr.String(), "path", s.config.Path)
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	})
	return g.Wait()
}

// Addr returns the listening address once Run has started, or nil.
func (s *Server) Addr() net.Addr {
	if p := s.addr.Load(); p != nil {
		return *p
	}
	return nil
}

// Shutdown closes every connection and then the HTTP server. Calling it
// more than once returns the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		s.shuttingDown.Store(true)
		s.cancel()

		var errs []error
		if err := s.conns.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("shutdown error", "error", err)
				errs = append(errs, err)
			}
		}
		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("server shutdown complete")
	})
	return s.shutdownErr
}

// Registry returns the group registry.
func (s *Server) Registry() *group.Registry {
	return s.registry
}

// Conns returns the connection manager.
func (s *Server) Conns() *ConnManager {
	return s.conns
}

// Collector returns the transport metrics collector.
func (s *Server) Collector() *MetricsCollector {
	return s.metrics
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
