// Package scpimock implements a newline-framed SCPI instrument simulator
// over TCP for exercising the socket transport without hardware.
package scpimock

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures the simulated instrument.
type Options struct {
	// Listen is the TCP address to bind, e.g. "127.0.0.1:5025". Port 0
	// picks a free port.
	Listen string

	// Identity is the *IDN? response. Zero fields get defaults.
	Identity Identity

	// ResponseDelay is slept before every reply, to provoke client
	// timeouts.
	ResponseDelay time.Duration

	// IdleTimeout closes a connection with no traffic. Defaults to 30s.
	IdleTimeout time.Duration

	Logger *zap.Logger
}

// Identity is the four-field identification an instrument reports.
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

func (id Identity) String() string {
	return strings.Join([]string{id.Manufacturer, id.Model, id.Serial, id.Firmware}, ",")
}

// Server is one simulated instrument. All connections share its state.
type Server struct {
	listen      string
	identity    Identity
	idleTimeout time.Duration
	logger      *zap.Logger

	listener net.Listener
	stopChan chan struct{}
	wg       sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	mu        sync.Mutex
	delay     time.Duration
	voltage   float64
	frequency float64
	errQueue  []string
}

// NewServer creates a simulated instrument. It does not bind until Start.
func NewServer(opts Options) *Server {
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1:5025"
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Identity.Manufacturer == "" {
		opts.Identity.Manufacturer = "GPIBTOOL"
	}
	if opts.Identity.Model == "" {
		opts.Identity.Model = "SCPIMOCK"
	}
	if opts.Identity.Serial == "" {
		opts.Identity.Serial = "SN000001"
	}
	if opts.Identity.Firmware == "" {
		opts.Identity.Firmware = "0.1.0"
	}

	s := &Server{
		listen:      opts.Listen,
		identity:    opts.Identity,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		stopChan:    make(chan struct{}),
		conns:       make(map[net.Conn]struct{}),
		delay:       opts.ResponseDelay,
	}
	s.reset()
	return s
}

// Start binds the listen address and serves connections until Close.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	s.listener = listener

	s.logger.Info("instrument simulator listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("identity", s.identity.String()))

	s.wg.Add(1)
	go s.serve()
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ResourceAddress returns the bound address as a VISA socket resource.
func (s *Server) ResourceAddress() string {
	addr := s.Addr()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("TCPIP::%s::%s::SOCKET", host, port)
}

// SetResponseDelay changes the reply delay for subsequent commands.
func (s *Server) SetResponseDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// serve accepts connections until the listener closes.
func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			s.logger.Warn("failed to accept connection", zap.Error(err))
			continue
		}

		s.trackConn(conn)
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) forgetConn(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, conn)
}

// handleConnection runs one connection's command loop.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.forgetConn(conn)
	defer conn.Close()

	s.logger.Debug("connection opened", zap.Stringer("client", conn.RemoteAddr()))

	scanner := bufio.NewScanner(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			return
		}
		if !scanner.Scan() {
			s.logger.Debug("connection closed", zap.Stringer("client", conn.RemoteAddr()))
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reply, ok := s.execute(line)
		s.logger.Debug("command processed",
			zap.String("command", line),
			zap.String("reply", reply),
			zap.Stringer("client", conn.RemoteAddr()))
		if !ok {
			continue
		}

		if delay := s.responseDelay(); delay > 0 {
			time.Sleep(delay)
		}
		if err := conn.SetWriteDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			return
		}
		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			return
		}
	}
}

func (s *Server) responseDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// Close stops accepting, drops live connections, and waits for their
// handlers to finish.
func (s *Server) Close() error {
	select {
	case <-s.stopChan:
		return nil
	default:
		close(s.stopChan)
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return err
}
