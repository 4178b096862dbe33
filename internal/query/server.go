// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package query

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/epgcache/internal/log"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 1 << 20

// Server accepts line protocol connections. Each connection may send any
// number of requests, one per line; every recognised request gets exactly
// one response line.
type Server struct {
	handler     *Handler
	idleTimeout time.Duration
	logger      zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a Server. A zero idleTimeout keeps idle connections open.
func NewServer(h *Handler, idleTimeout time.Duration) *Server {
	return &Server{
		handler:     h,
		idleTimeout: idleTimeout,
		logger:      xglog.WithComponent("query"),
		conns:       make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It closes ln and every
// open connection before returning, and returns nil on a ctx shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info().
		Str(xglog.FieldEvent, "query.listening").
		Str("addr", ln.Addr().String()).
		Msg("query server listening")

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeConns()
	})
	defer func() {
		stop()
		_ = ln.Close()
		s.closeConns()
		s.wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.track(conn)
		if ctx.Err() != nil {
			_ = conn.Close()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With().Str("remote_addr", conn.RemoteAddr().String()).Logger()
	logger.Debug().Str(xglog.FieldEvent, "query.conn_opened").Msg("connection opened")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	w := bufio.NewWriter(conn)
	for {
		if s.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		resp, ok := s.handler.Handle(ctx, scanner.Text())
		if !ok {
			continue
		}
		if _, err := w.Write(append(resp, '\n')); err != nil {
			break
		}
		if err := w.Flush(); err != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug().Err(err).Str(xglog.FieldEvent, "query.conn_error").Msg("connection read failed")
	}
	logger.Debug().Str(xglog.FieldEvent, "query.conn_closed").Msg("connection closed")
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}
