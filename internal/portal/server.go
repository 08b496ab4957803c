// Package portal serves the local HTTP endpoints of an edge node.
//
// The portal is how a node without network settings gets provisioned, and
// how a technician on the local network reads its state:
//
//	GET  /healthz    liveness
//	GET  /status     lifecycle, breakers, watchdog and actuator snapshot
//	POST /provision  network and broker settings
//	GET  /events     recent alerts and emergency events
//	GET  /ws         live status stream
//
// Handlers never touch node state directly. Reads use the snapshot the
// control loop publishes after each tick; provisioning is posted to the
// loop and the handler waits for its answer.
//
//	srv, err := portal.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/config"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/logging"
	"github.com/nerrad567/kaiser-edge/internal/node"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// Node is the part of the node the portal serves. *node.Node implements it.
type Node interface {
	Status() node.Status
	Provision(ctx context.Context, p node.Provisioning) error
	RecentEvents(ctx context.Context, limit int) ([]storage.Event, error)
}

// Deps holds the dependencies required by the portal.
type Deps struct {
	Config  config.PortalConfig
	Logger  *logging.Logger
	Node    Node
	Version string
}

// Server is the portal HTTP server.
type Server struct {
	cfg     config.PortalConfig
	logger  *logging.Logger
	node    Node
	version string
	hub     *hub
	server  *http.Server
	addr    net.Addr
	errc    chan error
	stopHub context.CancelFunc
}

// New creates a portal server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Node == nil {
		return nil, fmt.Errorf("node is required")
	}
	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		node:    deps.Node,
		version: deps.Version,
		hub:     newHub(deps.Logger),
		errc:    make(chan error, 1),
	}, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in a background goroutine.
// A failure to bind is returned; later serve errors are reported by Wait.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("portal listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.addr = ln.Addr()
	s.logger.Info("portal listening", "address", s.addr.String())

	hubCtx, cancel := context.WithCancel(ctx)
	s.stopHub = cancel
	go s.hub.run(hubCtx, s.node)

	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("portal server error", "error", err)
		}
		s.errc <- err
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr { return s.addr }

// Wait blocks until the server stops or ctx ends, then shuts it down.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case err := <-s.errc:
		return err
	case <-ctx.Done():
		return s.Close()
	}
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.stopHub()
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("portal shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down portal: %w", err)
	}
	return nil
}
