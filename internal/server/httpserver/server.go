package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server serves the router on one address, with or without TLS.
type Server struct {
	srv *http.Server
}

type ServerOption func(*http.Server)

// WithTLS serves TLS with certificates from cfg, usually a reloading
// GetCertificate.
func WithTLS(cfg *tls.Config) ServerOption {
	return func(s *http.Server) { s.TLSConfig = cfg }
}

// New creates a server for addr. Only header reads are bounded: a
// WebSocket connection outlives any write timeout.
func New(addr string, handler http.Handler, opts ...ServerOption) *Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return &Server{srv: srv}
}

func (s *Server) Addr() string { return s.srv.Addr }

// TLS reports whether the server was given a TLS config.
func (s *Server) TLS() bool { return s.srv.TLSConfig != nil }

// Run listens on the configured address and serves until Shutdown, which
// makes it return nil.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown, which makes it return nil.
func (s *Server) Serve(l net.Listener) error {
	var err error
	if s.TLS() {
		err = s.srv.ServeTLS(l, "", "")
	} else {
		err = s.srv.Serve(l)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
// Upgraded WebSocket connections are hijacked and not waited for; the
// gateway closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
