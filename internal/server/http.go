package server

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coffersTech/livequery/internal/query"
	"github.com/coffersTech/livequery/internal/registry"
	"github.com/coffersTech/livequery/internal/render"
)

// maxRequestBody bounds a request program posted to /query.
const maxRequestBody = 1 << 20

// StatusHeader carries the protocol status of an HTTP query response.
const StatusHeader = "X-Livequery-Status"

// AdminHandler serves the administrative HTTP API:
//
//	POST /query        run a request program, same protocol as the socket
//	GET  /connections  open socket connections
//	GET  /metrics      Prometheus metrics
//	GET  /healthz      liveness
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/connections", registry.NewServer(s.clients).HandleList)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// ServeAdmin runs the admin API on addr until ctx is done.
func (s *Server) ServeAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("admin server shutdown", "err", err)
		}
	})
	defer stop()

	s.logger.Info("serving admin API", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleQuery runs the request program in the POST body. The body ends at
// the first blank line; COMMAND lines are passed to the core.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var lines []string
	sc := bufio.NewScanner(http.MaxBytesReader(w, r.Body, maxRequestBody))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if len(lines) == 0 {
				continue
			}
			break
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(lines) == 0 {
		http.Error(w, "empty request", http.StatusBadRequest)
		return
	}

	if isCommand(lines[0]) {
		for _, line := range lines {
			s.command(line)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	clientID := s.clients.Register("http", r.RemoteAddr)
	defer s.clients.Remove(clientID)

	buf := &render.LimitedBuffer{Max: s.opts.MaxResponseSize}
	status, err := s.execute(r.Context(), clientID, lines, buf)
	if r.Context().Err() != nil {
		return
	}
	body := buf.Bytes()
	if err != nil {
		body = []byte(errorBody(err))
	}

	w.Header().Set(StatusHeader, strconv.Itoa(status))
	w.Header().Set("Content-Type", contentType(lines, err))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(httpStatus(status))
	w.Write(body)
}

func httpStatus(status int) int {
	switch status {
	case query.StatusOK:
		return http.StatusOK
	case query.StatusBadRequest:
		return http.StatusBadRequest
	case query.StatusNotFound:
		return http.StatusNotFound
	case query.StatusTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadGateway
}

func contentType(lines []string, err error) string {
	if err == nil {
		for _, line := range lines[1:] {
			kw, arg, _ := strings.Cut(line, ":")
			if strings.TrimSpace(kw) == "OutputFormat" && strings.Contains(strings.TrimSpace(arg), "json") {
				return "application/json"
			}
		}
	}
	return "text/plain; charset=utf-8"
}
