package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/server"
	"github.com/coffersTech/livequery/internal/table"
	"github.com/coffersTech/livequery/internal/tables"
)

const objects = `
hosts:
  - name: a
    address: 10.0.0.1
    services:
      - description: cpu
      - description: disk
  - name: b
    address: 10.0.0.2
`

// serve starts a server on a loopback port and returns its address.
func serve(t *testing.T) string {
	t.Helper()
	store := core.NewStore()
	require.NoError(t, store.Load([]byte(objects)))
	reg := table.NewRegistry()
	srv := server.New(server.Options{Tables: reg, Core: store, IdleTimeout: 5 * time.Second})
	tables.Register(reg, tables.Deps{Core: store, Server: srv.Stats})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return "tcp://" + ln.Addr().String()
}

func dial(t *testing.T, addr string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestQuery(t *testing.T) {
	c := dial(t, serve(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name    string
		request string
		columns []string
		rows    [][]any
	}{
		{
			name:    "columns",
			request: "GET hosts\nColumns: name address",
			rows:    [][]any{{"a", "10.0.0.1"}, {"b", "10.0.0.2"}},
		},
		{
			name:    "column headers",
			request: "GET hosts\nColumns: name\nColumnHeaders: on\nFilter: name = b",
			columns: []string{"name"},
			rows:    [][]any{{"b"}},
		},
		{
			name:    "lists",
			request: "GET hosts\nColumns: services\nFilter: name = a",
			rows:    [][]any{{[]any{"cpu", "disk"}}},
		},
		{
			name:    "stats",
			request: "GET services\nStats: state >= 0",
			rows:    [][]any{{float64(2)}},
		},
		{
			name:    "client headers are replaced",
			request: "GET hosts\nColumns: name\nFilter: name = a\nOutputFormat: csv\nKeepAlive: off\nResponseHeader: off",
			rows:    [][]any{{"a"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Query(ctx, tt.request)
			require.NoError(t, err)
			assert.Equal(t, tt.columns, res.Columns)
			assert.Equal(t, tt.rows, res.Rows)
		})
	}
}

func TestQueryError(t *testing.T) {
	c := dial(t, serve(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Query(ctx, "GET nosuch")
	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 404, qe.Status)
	assert.Contains(t, qe.Message, "no such table 'nosuch'")

	// the connection survives an error response
	res, err := c.Query(ctx, "GET hosts\nColumns: name\nFilter: name = a")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"a"}}, res.Rows)
}

func TestCommand(t *testing.T) {
	c := dial(t, serve(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Command(ctx, "DISABLE_NOTIFICATIONS"))
	res, err := c.Query(ctx, "GET status\nColumns: enable_notifications")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{float64(0)}}, res.Rows)
}

func TestDialErrors(t *testing.T) {
	for _, addr := range []string{"localhost:6557", "http://localhost", ""} {
		t.Run(addr, func(t *testing.T) {
			_, err := Dial(context.Background(), addr)
			assert.ErrorContains(t, err, "invalid address")
		})
	}
}

func TestHasHeaders(t *testing.T) {
	tests := []struct {
		lines []string
		want  bool
	}{
		{[]string{"GET hosts"}, true},
		{[]string{"GET hosts", "Columns: name"}, false},
		{[]string{"GET hosts", "Columns: name", "ColumnHeaders: on"}, true},
		{[]string{"GET hosts", "ColumnHeaders: off"}, false},
		{[]string{"GET hosts", "Stats: state = 0"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hasHeaders(tt.lines), "%q", tt.lines)
	}
}

func TestMultiSite(t *testing.T) {
	up := serve(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	down := "tcp://" + ln.Addr().String()
	ln.Close()

	m := &MultiSite{
		Sites: []Site{
			{Name: "west", Addr: up},
			{Name: "east", Addr: up},
			{Name: "north", Addr: down},
		},
		MaxConcurrent: 2,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := m.Query(ctx, "GET hosts\nStats: state >= 0")
	require.Len(t, results, 3)
	assert.Equal(t, []string{"east", "north", "west"},
		[]string{results[0].Site, results[1].Site, results[2].Site})

	for _, i := range []int{0, 2} {
		require.NoError(t, results[i].Err)
		assert.Equal(t, [][]any{{float64(2)}}, results[i].Result.Rows)
	}
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Result)
}
