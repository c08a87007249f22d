// Package server implements the accept loop and per-connection protocol
// handling: decode RESP frames, dispatch them, and fan mutating commands
// out to attached replicas. It is grounded on the teacher's RedisServer
// (internal/server/redis_server.go) for the accept-loop/connection-
// tracking/graceful-shutdown shape, with AOF, RDB autosave, cluster, and
// Sentinel machinery stripped — all explicit Non-goals here.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"goredis-core/internal/config"
	"goredis-core/internal/dispatch"
	"goredis-core/internal/keyspace"
	"goredis-core/internal/logger"
	"goredis-core/internal/replication"
)

// Server owns the listening socket and the registry replicas attach to.
type Server struct {
	cfg        config.Config
	ks         *keyspace.Keyspace
	dispatcher *dispatch.Dispatcher
	state      *replication.State
	registry   *replication.Registry

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup
}

// New builds a Server. registry is nil on a replica process: cmd/server
// only creates one for a primary. With a nil registry, PSYNC still gets
// the FULLRESYNC reply and snapshot, but the connection is not attached
// as a replica sink and writes are not fanned out.
func New(cfg config.Config, ks *keyspace.Keyspace, d *dispatch.Dispatcher, state *replication.State, registry *replication.Registry) *Server {
	return &Server{cfg: cfg, ks: ks, dispatcher: d, state: state, registry: registry}
}

// Serve listens on cfg.Port and accepts connections until ctx is
// cancelled, at which point it stops accepting, closes the listener, and
// waits for in-flight connection handlers to finish.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	s.listener = ln
	logger.Infof("server: listening on %s (role=%s)", addr, s.cfg.Role)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				s.wg.Wait()
				logger.Infof("server: accept loop stopped")
				return nil
			}
			logger.Warnf("server: accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}
