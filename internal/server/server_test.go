package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/table"
	"github.com/coffersTech/livequery/internal/tables"
)

const objects = `
hosts:
  - name: a
    address: 10.0.0.1
    services:
      - description: cpu
  - name: b
    address: 10.0.0.2
`

type harness struct {
	core    *core.Store
	srv     *Server
	network string
	addr    string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func start(t *testing.T, mod func(*Options)) *harness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return serve(t, ln, mod)
}

func startUnix(t *testing.T) *harness {
	t.Helper()
	dir, err := os.MkdirTemp("", "lq")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	ln, err := Listen("unix", filepath.Join(dir, "live.sock"))
	require.NoError(t, err)
	return serve(t, ln, nil)
}

func serve(t *testing.T, ln net.Listener, mod func(*Options)) *harness {
	t.Helper()
	store := core.NewStore()
	require.NoError(t, store.Load([]byte(objects)))

	reg := table.NewRegistry()
	opts := Options{
		Tables:       reg,
		Core:         store,
		Metrics:      NewMetrics(store.Hub()),
		IdleTimeout:  5 * time.Second,
		QueryTimeout: 5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	if mod != nil {
		mod(&opts)
	}
	srv := New(opts)
	tables.Register(reg, tables.Deps{Core: store, Server: srv.Stats})

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		core:    store,
		srv:     srv,
		network: ln.Addr().Network(),
		addr:    ln.Addr().String(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		h.err = srv.Serve(ctx, ln)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.Dial(h.network, h.addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// roundTrip sends a request without keepalive and reads until the server
// closes the connection.
func (h *harness) roundTrip(t *testing.T, req string) string {
	t.Helper()
	c := h.dial(t)
	_, err := io.WriteString(c, req+"\n\n")
	require.NoError(t, err)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	return string(out)
}

// readFixed16 reads one fixed16 response.
func readFixed16(t *testing.T, r *bufio.Reader) (int, string) {
	t.Helper()
	head := make([]byte, 16)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	status, err := strconv.Atoi(strings.TrimSpace(string(head[:3])))
	require.NoError(t, err)
	n, err := strconv.Atoi(strings.TrimSpace(string(head[4:15])))
	require.NoError(t, err)
	body := make([]byte, n)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	return status, string(body)
}

func TestQuery(t *testing.T) {
	h := start(t, nil)

	tests := []struct {
		name string
		req  string
		want string
	}{
		{"plain", "GET hosts\nColumns: name address", "a;10.0.0.1\nb;10.0.0.2\n"},
		{"stats", "GET services\nStats: state = 0", "1\n"},
		{"headers", "GET hosts\nColumns: name\nColumnHeaders: on\nSeparators: 10 44 124 124", "name\na\nb\n"},
		{"error", "GET nope", "Invalid GET request, no such table 'nope'\n"},
		{"fixed16", "GET hosts\nColumns: name\nResponseHeader: fixed16", "200           4\na\nb\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.roundTrip(t, tt.req))
		})
	}

	t.Run("fixed16 error", func(t *testing.T) {
		out := h.roundTrip(t, "GET hosts\nColumns: bogus\nResponseHeader: fixed16")
		status, body := readFixed16(t, bufio.NewReader(strings.NewReader(out)))
		assert.Equal(t, 400, status)
		assert.Contains(t, body, "has no column 'bogus'")
		assert.True(t, strings.HasSuffix(body, "\n"))
	})
}

func TestRequestEndsAtEOF(t *testing.T) {
	h := start(t, nil)
	c := h.dial(t)
	_, err := io.WriteString(c, "GET hosts\nColumns: name\nFilter: name = b")
	require.NoError(t, err)
	require.NoError(t, c.(*net.TCPConn).CloseWrite())

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "b\n", string(out))
}

func TestKeepAlive(t *testing.T) {
	h := start(t, nil)
	c := h.dial(t)
	r := bufio.NewReader(c)
	c.SetDeadline(time.Now().Add(5 * time.Second))

	for _, name := range []string{"a", "b", "a"} {
		_, err := io.WriteString(c, "GET hosts\nColumns: address\nFilter: name = "+name+
			"\nKeepAlive: on\nResponseHeader: fixed16\n\n")
		require.NoError(t, err)
		status, body := readFixed16(t, r)
		assert.Equal(t, 200, status)
		assert.Equal(t, map[string]string{"a": "10.0.0.1\n", "b": "10.0.0.2\n"}[name], body)
	}

	// commands share the connection and have no response
	_, err := io.WriteString(c, "COMMAND [1700000000] DISABLE_NOTIFICATIONS\n\n"+
		"GET status\nColumns: enable_notifications requests\nKeepAlive: on\nResponseHeader: fixed16\n\n")
	require.NoError(t, err)
	status, body := readFixed16(t, r)
	assert.Equal(t, 200, status)
	assert.Equal(t, "0;4\n", body)
	assert.Equal(t, int64(4), h.srv.Stats().Requests)
	assert.Equal(t, int64(1), h.srv.Stats().ActiveConnections)
}

func TestResponseTooLarge(t *testing.T) {
	h := start(t, func(o *Options) { o.MaxResponseSize = 8 })

	out := h.roundTrip(t, "GET hosts\nColumns: name address\nResponseHeader: fixed16")
	status, body := readFixed16(t, bufio.NewReader(strings.NewReader(out)))
	assert.Equal(t, 413, status)
	assert.Equal(t, "Response size exceeds the maximum of 8 B\n", body)

	// small results still fit
	assert.Equal(t, "200           2\na\n", h.roundTrip(t, "GET hosts\nColumns: name\nLimit: 1\nResponseHeader: fixed16"))
}

const waitForDown = "GET hosts\nColumns: state\nFilter: name = a\nWaitObject: a\nWaitCondition: state = 1\nWaitTrigger: check\n"

func TestDisconnectCancelsWait(t *testing.T) {
	tests := []struct {
		name    string
		request string
		unix    bool
	}{
		{"keepalive", waitForDown + "KeepAlive: on\n\n", false},
		{"tcp", waitForDown + "\n", false},
		{"unix", waitForDown + "\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h *harness
			if tt.unix {
				h = startUnix(t)
			} else {
				h = start(t, nil)
			}
			c := h.dial(t)
			_, err := io.WriteString(c, tt.request)
			require.NoError(t, err)

			hub := h.core.Hub()
			require.Eventually(t, func() bool { return hub.Waiters() == 1 }, 5*time.Second, time.Millisecond)
			c.Close()
			require.Eventually(t, func() bool { return hub.Waiters() == 0 }, 5*time.Second, time.Millisecond)
			require.Eventually(t, func() bool { return h.srv.Stats().ActiveConnections == 0 }, 5*time.Second, time.Millisecond)
		})
	}
}

func TestHalfClosedTCPEndsWait(t *testing.T) {
	h := start(t, nil)
	c := h.dial(t)
	_, err := io.WriteString(c, waitForDown+"\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.core.Hub().Waiters() == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, c.(*net.TCPConn).CloseWrite())
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "0\n", string(out))
	assert.Zero(t, h.core.Hub().Waiters())
}

func TestHalfClosedUnixKeepsWaiting(t *testing.T) {
	h := startUnix(t)
	c := h.dial(t)
	_, err := io.WriteString(c, waitForDown+"\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.core.Hub().Waiters() == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, c.(*net.UnixConn).CloseWrite())
	time.Sleep(3 * hangupPollInterval)
	require.Equal(t, int64(1), h.core.Hub().Waiters())

	require.NoError(t, h.core.ProcessCommand("COMMAND [1700000000] PROCESS_HOST_CHECK_RESULT;a;1;down"))
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(out))
}

func TestLineTooLong(t *testing.T) {
	h := start(t, nil)
	c := h.dial(t)
	_, err := io.WriteString(c, "GET hosts\nResponseHeader: fixed16\n"+strings.Repeat("x", maxLineLength))
	require.NoError(t, err)

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	msg := "Request line exceeds the maximum of 1.0 MiB\n"
	assert.Equal(t, fmt.Sprintf("%3d %11d\n", 400, len(msg))+msg, string(out))
	require.Eventually(t, func() bool { return h.srv.Stats().ActiveConnections == 0 }, 5*time.Second, time.Millisecond)
}

func TestWaitAnsweredAfterCommand(t *testing.T) {
	h := start(t, nil)
	waiter := h.dial(t)
	_, err := io.WriteString(waiter, "GET services\nColumns: state plugin_output\nWaitObject: a;cpu\n"+
		"WaitCondition: state = 2\nWaitTrigger: state\nWaitTimeout: 10000\n\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.core.Hub().Waiters() == 1 }, 5*time.Second, time.Millisecond)

	cmd := h.dial(t)
	_, err = io.WriteString(cmd, "COMMAND [1700000000] PROCESS_SERVICE_CHECK_RESULT;a;cpu;2;disk on fire\n")
	require.NoError(t, err)
	require.NoError(t, cmd.(*net.TCPConn).CloseWrite())

	waiter.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(waiter)
	require.NoError(t, err)
	assert.Equal(t, "2;disk on fire\n", string(out))
}

func TestIdleTimeout(t *testing.T) {
	h := start(t, func(o *Options) { o.IdleTimeout = 50 * time.Millisecond })
	c := h.dial(t)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConnectionLimit(t *testing.T) {
	h := start(t, func(o *Options) { o.MaxConnections = 1 })

	first := h.dial(t)
	_, err := io.WriteString(first, "GET hosts\nColumns: name\nLimit: 1\nKeepAlive: on\n\n")
	require.NoError(t, err)
	r := bufio.NewReader(first)
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "a\n", line)

	second := h.dial(t)
	_, err = io.WriteString(second, "GET hosts\nColumns: name\nLimit: 1\n\n")
	require.NoError(t, err)
	second.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = second.Read(make([]byte, 1))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout(), "second client must wait for a free slot")

	first.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(out))
}

func TestShutdownClosesConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := start(t, nil)
	idle := h.dial(t)
	_, err := io.WriteString(idle, "GET hosts\nWaitTrigger: all\nKeepAlive: on\n\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.core.Hub().Waiters() == 1 }, 5*time.Second, time.Millisecond)

	h.cancel()
	select {
	case <-h.done:
		require.NoError(t, h.err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Zero(t, h.core.Hub().Waiters())
	idle.Close()
}

func TestUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "lq")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "live.sock")
	// a stale socket file is replaced
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	store := core.NewStore()
	require.NoError(t, store.Load([]byte(objects)))
	reg := table.NewRegistry()
	tables.Register(reg, tables.Deps{Core: store})
	srv := New(Options{Tables: reg, Core: store})

	ln, err := Listen("unix", path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	c, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer c.Close()
	_, err = io.WriteString(c, "GET hosts\nStats: state = 0\nStats: state != 0\n\n")
	require.NoError(t, err)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "2;0\n", string(out))
}

func TestAdminHandler(t *testing.T) {
	h := start(t, nil)
	ts := httptest.NewServer(h.srv.AdminHandler())
	defer ts.Close()

	post := func(body string) (*http.Response, string) {
		resp, err := http.Post(ts.URL+"/query", "text/plain", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		out, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(out)
	}

	resp, body := post("GET hosts\nColumns: name\nOutputFormat: json\n")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "200", resp.Header.Get(StatusHeader))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "[[\"a\"],\n[\"b\"]]\n", body)

	resp, body = post("GET nope\n")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "404", resp.Header.Get(StatusHeader))
	assert.Equal(t, "Invalid GET request, no such table 'nope'\n", body)

	resp, _ = post("COMMAND [1700000000] DISABLE_NOTIFICATIONS\n")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, h.core.Program().EnableNotifications)

	resp, _ = post("\n\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		out, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(out)
	}

	code, out := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", out)

	code, out = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, out, `livequery_requests_total{status="200",table="hosts"} 1`)
	assert.Contains(t, out, `livequery_requests_total{status="404",table="-"} 1`)
	assert.Contains(t, out, "livequery_waiters 0")

	c := h.dial(t)
	_, err := io.WriteString(c, "GET hosts\nWaitTrigger: all\nKeepAlive: on\n\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.core.Hub().Waiters() == 1 }, 5*time.Second, time.Millisecond)
	code, out = get("/connections")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, out, `"network":"tcp"`)
	assert.Contains(t, out, `"remote":"127.0.0.1"`)
	assert.Contains(t, out, `"table":"hosts"`)
}
