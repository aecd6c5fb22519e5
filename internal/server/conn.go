package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/coffersTech/livequery/internal/engine"
	"github.com/coffersTech/livequery/internal/query"
	"github.com/coffersTech/livequery/internal/render"
)

const (
	ioBufferSize  = 64 << 10
	maxLineLength = 1 << 20

	// hangupPollInterval is how often a half-closed Unix socket is checked
	// for a full close while its request runs.
	hangupPollInterval = 100 * time.Millisecond
)

var (
	errReadTimeout = errors.New("timeout while reading request")
	errLineTooLong = errors.New("request line too long")
)

// lineReader reads request lines in its own goroutine so the connection
// handler can notice a disconnect while a query runs.
type lineReader struct {
	lines   chan string
	stopped chan struct{} // closed when reading ended; err is set before
	err     error
}

func startReader(nc net.Conn, done <-chan struct{}) *lineReader {
	r := &lineReader{lines: make(chan string, 64), stopped: make(chan struct{})}
	go func() {
		defer close(r.stopped)
		sc := bufio.NewScanner(nc)
		sc.Buffer(make([]byte, ioBufferSize), maxLineLength)
		for sc.Scan() {
			select {
			case r.lines <- sc.Text():
			case <-done:
				return
			}
		}
		r.err = sc.Err()
		if errors.Is(r.err, bufio.ErrTooLong) {
			r.err = errLineTooLong
		}
	}()
	return r
}

// next returns the next line, io.EOF once the client closed its side, or
// errReadTimeout after timeout (zero waits forever).
func (r *lineReader) next(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case line := <-r.lines:
		return line, nil
	case <-r.stopped:
		// lines sent before stopping are still buffered
		select {
		case line := <-r.lines:
			return line, nil
		default:
		}
		if r.err == nil || errors.Is(r.err, io.EOF) {
			return "", io.EOF
		}
		return "", r.err
	case <-expired:
		return "", errReadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// deadlineWriter sets a write deadline before every write and remembers the
// first failure.
type deadlineWriter struct {
	nc      net.Conn
	timeout time.Duration
	err     error
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.timeout > 0 {
		w.nc.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	n, err := w.nc.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

type conn struct {
	srv *Server
	nc  net.Conn
	id  string
	r   *lineReader
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()
	defer nc.Close()

	network := nc.LocalAddr().Network()
	c := &conn{
		srv: s,
		nc:  nc,
		id:  s.clients.Register(network, nc.RemoteAddr().String()),
		r:   startReader(nc, ctx.Done()),
	}
	defer s.clients.Remove(c.id)

	s.connections.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)
	s.opts.Metrics.connOpened()
	defer s.opts.Metrics.connClosed()

	logger := s.logger.With("client", c.id)
	logger.Debug("connection opened", "network", network, "remote", nc.RemoteAddr().String())

	for {
		lines, err := c.readRequest(ctx)
		if errors.Is(err, errLineTooLong) {
			c.reject(lines)
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("connection closed", "err", err)
			}
			return
		}
		if !c.handle(ctx, lines) {
			return
		}
	}
}

// readRequest collects the lines of one request up to a blank line or EOF.
// Blank lines before a request are skipped.
func (c *conn) readRequest(ctx context.Context) ([]string, error) {
	var (
		lines    []string
		deadline time.Time
	)
	for {
		timeout := c.srv.opts.IdleTimeout
		if len(lines) > 0 {
			timeout = 0
			if !deadline.IsZero() {
				if timeout = time.Until(deadline); timeout <= 0 {
					return nil, errReadTimeout
				}
			}
		}

		line, err := c.r.next(ctx, timeout)
		if errors.Is(err, io.EOF) && len(lines) > 0 {
			return lines, nil
		}
		if errors.Is(err, errLineTooLong) {
			return lines, err
		}
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			if len(lines) == 0 {
				continue
			}
			return lines, nil
		}
		if len(lines) == 0 && c.srv.opts.QueryTimeout > 0 {
			deadline = time.Now().Add(c.srv.opts.QueryTimeout)
		}
		lines = append(lines, line)
	}
}

// reject answers a request whose line exceeded maxLineLength with a 400.
// lines holds whatever was read before it.
func (c *conn) reject(lines []string) {
	var flags requestFlags
	if len(lines) > 0 {
		flags = sniff(lines)
	}
	qe := &query.Error{
		Code: query.StatusBadRequest,
		Msg:  "Request line exceeds the maximum of " + humanize.IBytes(maxLineLength),
	}
	c.srv.opts.Metrics.observe("", qe.Code, 0, 0)
	c.srv.logger.Debug("query rejected", "client", c.id, "status", qe.Code, "err", qe.Msg)

	w := &deadlineWriter{nc: c.nc, timeout: c.srv.opts.WriteTimeout}
	body := []byte(errorBody(qe))
	if flags.fixed16 {
		render.WriteFixed16(w, qe.Code, body)
		return
	}
	w.Write(body)
}

// requestFlags are the headers the server needs even when the request does
// not parse.
type requestFlags struct {
	fixed16   bool
	keepAlive bool
}

func sniff(lines []string) requestFlags {
	var f requestFlags
	for _, line := range lines[1:] {
		kw, arg, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		arg = strings.TrimSpace(arg)
		switch strings.TrimSpace(kw) {
		case "ResponseHeader":
			f.fixed16 = arg == "fixed16"
		case "KeepAlive":
			f.keepAlive = arg == "on"
		}
	}
	return f
}

func isCommand(line string) bool {
	return strings.HasPrefix(line, "COMMAND ")
}

// handle answers one request and reports whether the connection stays open.
func (c *conn) handle(ctx context.Context, lines []string) bool {
	if isCommand(lines[0]) {
		for _, line := range lines {
			c.srv.command(line)
		}
		return true
	}

	flags := sniff(lines)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWait := make(chan struct{})
	go c.watchDisconnect(ctx, cancel, stopWait, flags.keepAlive)
	ctx = engine.WithWaitStop(ctx, stopWait)

	w := &deadlineWriter{nc: c.nc, timeout: c.srv.opts.WriteTimeout}
	if err := c.srv.respond(ctx, c.id, lines, flags, w); err != nil {
		return false
	}
	return flags.keepAlive
}

// watchDisconnect cancels a running query when the client goes away.
//
// A read error cancels, and so does EOF on a keepalive connection. Other
// clients may shut down their sending side right after the request and still
// read the response. On a Unix socket a full close is told apart from that
// by polling for a hangup. Over TCP it cannot be, so EOF ends a pending wait
// instead: the query answers with the current state and, if the client is
// gone, the connection closes after the write.
func (c *conn) watchDisconnect(ctx context.Context, cancel context.CancelFunc, stopWait chan<- struct{}, keepAlive bool) {
	select {
	case <-ctx.Done():
		return
	case <-c.r.stopped:
	}
	if keepAlive || (c.r.err != nil && !errors.Is(c.r.err, io.EOF)) {
		cancel()
		return
	}

	hungUp, known := peerHungUp(c.nc)
	if !known {
		close(stopWait)
		return
	}
	ticker := time.NewTicker(hangupPollInterval)
	defer ticker.Stop()
	for !hungUp {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		hungUp, _ = peerHungUp(c.nc)
	}
	cancel()
}

// respond runs the request and writes its response. It returns an error when
// the connection is no longer usable.
func (s *Server) respond(ctx context.Context, clientID string, lines []string, flags requestFlags, w *deadlineWriter) error {
	if flags.fixed16 {
		buf := &render.LimitedBuffer{Max: s.opts.MaxResponseSize}
		status, err := s.execute(ctx, clientID, lines, buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		body := buf.Bytes()
		if err != nil {
			body = []byte(errorBody(err))
		}
		bw := bufio.NewWriterSize(w, ioBufferSize)
		if err := render.WriteFixed16(bw, status, body); err != nil {
			return err
		}
		return bw.Flush()
	}

	bw := bufio.NewWriterSize(w, ioBufferSize)
	_, err := s.execute(ctx, clientID, lines, bw)
	if w.err != nil {
		return w.err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		bw.WriteString(errorBody(err))
	}
	return bw.Flush()
}

func errorBody(err error) string {
	var qe *query.Error
	if errors.As(err, &qe) {
		return qe.Msg + "\n"
	}
	return "internal error: " + err.Error() + "\n"
}
