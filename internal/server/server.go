package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/text/encoding"

	"github.com/infodancer/mailmock/internal/logging"
	"github.com/infodancer/mailmock/internal/metrics"
)

// stopTimeout bounds how long Stop waits for the accept loop to exit.
const stopTimeout = 5 * time.Second

// ConnectionHandler processes one client connection from greeting to close.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// Config holds configuration for creating a protocol Server.
type Config struct {
	// Protocol names the served protocol ("smtp", "pop3", "imap"), used for
	// logging and metrics labels.
	Protocol string

	// Port to listen on. 0 means choose a free port.
	Port int

	// TLSConfig enables TLS. With ImplicitTLS the handshake happens at
	// accept time; otherwise the config is available for STARTTLS.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// Encoding applied to the line transport. Nil means no transcoding.
	Encoding encoding.Encoding

	Logger    *slog.Logger
	Collector metrics.Collector

	// Clock provides timestamps for greetings and digests. Nil = time.Now.
	Clock func() time.Time
}

// Server owns a listening socket and serves one client connection at a time.
// It retains every past connection for test inspection.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	collector metrics.Collector
	handler   ConnectionHandler
	clock     func() time.Time

	mu      sync.Mutex
	ln      net.Listener
	current *Connection
	history []*Connection
	stopped chan struct{}

	wg sync.WaitGroup
}

// New creates a Server with the given configuration.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Server{
		cfg:       cfg,
		logger:    logger.With(slog.String("protocol", cfg.Protocol)),
		collector: collector,
		clock:     clock,
		stopped:   make(chan struct{}),
	}
}

// SetHandler sets the connection handler. Must be called before Start.
func (s *Server) SetHandler(handler ConnectionHandler) {
	s.handler = handler
}

// Start opens the listening socket and launches the accept loop.
func (s *Server) Start() error {
	if s.handler == nil {
		return errors.New("no handler configured")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("%s: listen: %w", s.cfg.Protocol, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("server listening", slog.Int("port", s.Port()))

	s.wg.Add(1)
	go s.run()

	return nil
}

// run accepts and serves connections sequentially. Only one client is
// serviced at a time; an I/O failure aborts the current connection and the
// loop continues with the next accept.
func (s *Server) run() {
	defer s.wg.Done()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopped:
				return
			default:
			}
			s.logger.Error("accept failed", "error", err.Error())
			return
		}

		s.serve(nc)
	}
}

func (s *Server) serve(nc net.Conn) {
	conn := NewConnection(nc, ConnectionConfig{
		Encoding:   s.cfg.Encoding,
		Logger:     s.logger,
		LogTraffic: true,
	})
	defer func() {
		_ = conn.Close()
		s.collector.ConnectionClosed(s.cfg.Protocol)
	}()

	s.collector.ConnectionOpened(s.cfg.Protocol)

	s.mu.Lock()
	s.current = conn
	s.history = append(s.history, conn)
	s.mu.Unlock()

	if s.cfg.ImplicitTLS {
		if err := conn.UpgradeToTLS(s.cfg.TLSConfig); err != nil {
			s.logger.Error("TLS handshake failed", "error", err.Error())
			return
		}
		s.collector.TLSConnectionEstablished(s.cfg.Protocol)
	}

	s.logger.Info("client connected", slog.String("remote", nc.RemoteAddr().String()))

	ctx := logging.WithContext(context.Background(), s.logger)
	s.handler(ctx, conn)

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Stop closes the listening socket, aborts any in-flight connection, and
// waits up to a bounded interval for the accept loop to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	select {
	case <-s.stopped:
		s.mu.Unlock()
		return
	default:
		close(s.stopped)
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if s.current != nil {
		_ = s.current.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("timed out waiting for accept loop to stop")
	}
}

// Port returns the bound listening port.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.cfg.Port
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Protocol returns the protocol label this server was created with.
func (s *Server) Protocol() string {
	return s.cfg.Protocol
}

// TLSConfig returns the server's TLS configuration, if any.
func (s *Server) TLSConfig() *tls.Config {
	return s.cfg.TLSConfig
}

// ImplicitTLS reports whether connections are TLS from accept time.
func (s *Server) ImplicitTLS() bool {
	return s.cfg.ImplicitTLS
}

// Collector returns the metrics collector.
func (s *Server) Collector() metrics.Collector {
	return s.collector
}

// Clock returns the injected clock.
func (s *Server) Clock() func() time.Time {
	return s.clock
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// History returns a snapshot of all connections served so far, the in-flight
// one included. Safe to call from test goroutines while a client is served.
func (s *Server) History() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, len(s.history))
	copy(out, s.history)
	return out
}
