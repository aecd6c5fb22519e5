// Package server serves the query protocol on a Unix or TCP socket.
//
// Every connection gets its own goroutine and a reader goroutine feeding it
// request lines, so a waiting query never blocks other clients. The number
// of connections served at once is bounded; further clients queue in the
// listen backlog until a slot frees up.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/engine"
	"github.com/coffersTech/livequery/internal/query"
	"github.com/coffersTech/livequery/internal/registry"
	"github.com/coffersTech/livequery/internal/render"
	"github.com/coffersTech/livequery/internal/table"
	"github.com/coffersTech/livequery/internal/tables"
)

const (
	DefaultMaxConnections  = 20
	DefaultMaxResponseSize = 100 << 20
)

type Options struct {
	Tables  *table.Registry
	Core    *core.Store
	Engine  *engine.Engine
	Clients *registry.Store // created when nil
	Metrics *Metrics        // optional
	Logger  *slog.Logger

	// IdleTimeout bounds the wait for the first line of a request,
	// QueryTimeout the time to read the rest of it and WriteTimeout every
	// write of the response. Zero disables a timeout.
	IdleTimeout  time.Duration
	QueryTimeout time.Duration
	WriteTimeout time.Duration

	MaxConnections  int
	MaxResponseSize int
}

type Server struct {
	opts    Options
	logger  *slog.Logger
	sem     *semaphore.Weighted
	clients *registry.Store

	requests    atomic.Int64
	connections atomic.Int64
	active      atomic.Int64

	// per-second rates as float64 bits, see RunRateTicker
	requestsRate    atomic.Uint64
	connectionsRate atomic.Uint64

	wg sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.MaxResponseSize <= 0 {
		opts.MaxResponseSize = DefaultMaxResponseSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clients == nil {
		opts.Clients = registry.NewStore()
	}
	if opts.Engine == nil {
		var hub *core.Hub
		if opts.Core != nil {
			hub = opts.Core.Hub()
		}
		opts.Engine = engine.New(hub, opts.Logger)
	}
	return &Server{
		opts:    opts,
		logger:  opts.Logger,
		sem:     semaphore.NewWeighted(int64(opts.MaxConnections)),
		clients: opts.Clients,
	}
}

// Clients returns the registry of open connections.
func (s *Server) Clients() *registry.Store { return s.clients }

// Listen opens a listener. A stale Unix socket file is removed first.
func Listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return net.Listen(network, address)
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// every open connection and waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.logger.Info("serving queries",
		"addr", ln.Addr().String(),
		"max_connections", s.opts.MaxConnections,
		"max_response_size", humanize.IBytes(uint64(s.opts.MaxResponseSize)))

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		nc, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept failed, retrying", "err", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.serveConn(ctx, nc)
		}()
	}
}

// Stats reports the connection counters for the status table.
func (s *Server) Stats() tables.ServerStats {
	return tables.ServerStats{
		Requests:          s.requests.Load(),
		RequestsRate:      math.Float64frombits(s.requestsRate.Load()),
		Connections:       s.connections.Load(),
		ConnectionsRate:   math.Float64frombits(s.connectionsRate.Load()),
		ActiveConnections: s.active.Load(),
	}
}

// RunRateTicker recomputes the request and connection rates every interval
// until ctx is done.
func (s *Server) RunRateTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastReq, lastConn := s.requests.Load(), s.connections.Load()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, conn := s.requests.Load(), s.connections.Load()
			s.requestsRate.Store(math.Float64bits(float64(req-lastReq) / interval.Seconds()))
			s.connectionsRate.Store(math.Float64bits(float64(conn-lastConn) / interval.Seconds()))
			lastReq, lastConn = req, conn
		}
	}
}

// execute parses and runs one request, writing the body to w.
func (s *Server) execute(ctx context.Context, clientID string, lines []string, w io.Writer) (int, error) {
	start := time.Now()
	s.requests.Add(1)

	var (
		name string
		res  engine.Result
	)
	p, err := query.Parse(lines, s.opts.Tables)
	if err == nil {
		name = p.Table.Name
		s.clients.Begin(clientID, name)
		defer s.clients.End(clientID)
		res, err = s.opts.Engine.Execute(ctx, p, w)
	}
	if errors.Is(err, render.ErrTooLarge) {
		err = &query.Error{
			Code: query.StatusTooLarge,
			Msg:  "Response size exceeds the maximum of " + humanize.IBytes(uint64(s.opts.MaxResponseSize)),
		}
	}

	status := query.StatusOf(err)
	s.opts.Metrics.observe(name, status, res.Faults, time.Since(start))
	switch {
	case ctx.Err() != nil:
		s.logger.Debug("query aborted", "table", name, "err", ctx.Err())
	case status == query.StatusInternal:
		s.logger.Warn("query failed", "table", name, "err", err)
	case err != nil:
		s.logger.Debug("query rejected", "status", status, "err", err)
	default:
		s.logger.Debug("query done", "table", name, "rows", res.Rows, "scanned", res.Scanned,
			"took", time.Since(start))
	}
	return status, err
}

// command hands an external command to the core. Commands have no response.
func (s *Server) command(line string) {
	if s.opts.Core == nil {
		return
	}
	if err := s.opts.Core.ProcessCommand(line); err != nil {
		s.logger.Warn("command rejected", "err", err)
	}
}
