package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/matheus3301/wpp-archive/internal/api"
	"github.com/matheus3301/wpp-archive/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// ErrSocketInUse is returned when another process answers on the socket.
var ErrSocketInUse = errors.New("socket already served")

// Server serves the archive API on the session's Unix socket.
type Server struct {
	rpc    *grpc.Server
	ln     net.Listener
	path   string
	logger *zap.Logger
}

// NewServer binds the socket and registers svc. The socket is owner-only.
func NewServer(p Params, logger *zap.Logger, svc *api.ArchiveService) (*Server, error) {
	path := p.SocketPath
	if path == "" {
		path = session.SocketPath(p.SessionName)
	}
	if err := clearStaleSocket(path); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("restrict socket: %w", err)
	}

	rpc := grpc.NewServer(grpc.ChainUnaryInterceptor(api.UnaryLogger(logger.Named("rpc"))))
	api.RegisterArchiveServer(rpc, svc)
	return &Server{rpc: rpc, ln: ln, path: path, logger: logger}, nil
}

// clearStaleSocket removes a socket file left by a daemon that died without
// cleaning up. A socket somebody still answers on is refused.
func clearStaleSocket(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%s: %w", path, ErrSocketInUse)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	s.logger.Info("serving archive API", zap.String("socket", s.path))
	return s.rpc.Serve(s.ln)
}

// Stop drains in-flight calls, cutting them off once ctx ends, and removes
// the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("stopping archive API")
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		s.rpc.GracefulStop()
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("forcing API shutdown", zap.Error(ctx.Err()))
		s.rpc.Stop()
	}
	_ = os.Remove(s.path)
}
