package engine

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/query"
	"github.com/coffersTech/livequery/internal/table"
)

type svc struct {
	host string

	mu      sync.Mutex
	state   int64
	latency float64
}

func (s *svc) State() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *svc) setState(v int64) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
}

type fixture struct {
	rows []*svc
	reg  *table.Registry
	hub  *core.Hub
	eng  *Engine
}

func newFixture(t *testing.T, rows ...*svc) *fixture {
	t.Helper()
	f := &fixture{rows: rows, reg: table.NewRegistry(), hub: core.NewHub()}
	services, err := table.New("services", "", table.Slice(func() []*svc { return f.rows }),
		table.String("host", "", func(s *svc) string { return s.host }),
		table.Int("state", "", (*svc).State),
		table.Float("latency", "", func(s *svc) float64 { return s.latency }),
		table.Int("fragile", "", func(s *svc) int64 {
			if s.host == "boom" {
				panic("broken object")
			}
			return 1
		}),
	)
	require.NoError(t, err)
	require.NoError(t, f.reg.Register(services.WithLookup(func(key string) (table.Row, bool) {
		for _, r := range f.rows {
			if r.host == key {
				return r, true
			}
		}
		return nil, false
	})))

	broken, err := table.New("broken", "", func(context.Context, *table.Hints) iter.Seq[table.Row] {
		return func(func(table.Row) bool) { panic("iterator failed") }
	}, table.String("x", "", func(s *svc) string { return s.host }))
	require.NoError(t, err)
	require.NoError(t, f.reg.Register(broken))

	f.eng = New(f.hub, nil)
	return f
}

func exampleServices() []*svc {
	return []*svc{
		{host: "a", state: 0, latency: 0.5},
		{host: "a", state: 2, latency: 1.5},
		{host: "b", state: 0, latency: 4},
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context, req string) (string, Result, error) {
	t.Helper()
	p, err := query.Parse(strings.Split(req, "\n"), f.reg)
	require.NoError(t, err)
	var buf bytes.Buffer
	res, err := f.eng.Execute(ctx, p, &buf)
	return buf.String(), res, err
}

func (f *fixture) mustRun(t *testing.T, req string) string {
	t.Helper()
	out, _, err := f.run(t, context.Background(), req)
	require.NoError(t, err)
	return out
}

func TestExecute(t *testing.T) {
	f := newFixture(t, exampleServices()...)

	tests := []struct {
		name string
		req  string
		want string
	}{
		{"filter", "GET services\nColumns: host state\nFilter: state = 2", "a;2\n"},
		{"no match", "GET services\nColumns: host\nFilter: host = nope", ""},
		{"grouped count", "GET services\nStats: state = 2\nStatsGroupBy: host", "a;1\nb;0\n"},
		{"column headers", "GET services\nColumns: host state\nColumnHeaders: on", "host;state\na;0\na;2\nb;0\n"},
		{"default headers", "GET services\nFilter: host = b", "host;state;latency;fragile\nb;0;4;1\n"},
		{"stats headers", "GET services\nStats: sum latency\nStats: state = 0\nColumnHeaders: on", "stats_1;stats_2\n6;2\n"},
		{"stats no match", "GET services\nFilter: host = nope\nStats: state = 2\nStats: avg latency", "0;0\n"},
		{"avg of one row", "GET services\nFilter: state = 2\nStats: avg latency", "1.5\n"},
		{"sort", "GET services\nColumns: host state\nSort: state desc\nSort: host desc", "a;2\nb;0\na;0\n"},
		{"limit streams", "GET services\nColumns: host\nLimit: 2", "a\na\n"},
		{"stats sort", "GET services\nColumns: host\nStats: sum latency\nSort: stats_1 desc", "b;4\na;2\n"},
		{"stats limit", "GET services\nColumns: host\nStats: state >= 0\nLimit: 1", "a;2\n"},
		{"json", "GET services\nColumns: host state\nFilter: state = 2\nOutputFormat: json", "[[\"a\",2]]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.mustRun(t, tt.req))
		})
	}
}

func TestLimitAfterSort(t *testing.T) {
	var rows []*svc
	for i := range 20 {
		rows = append(rows, &svc{host: fmt.Sprintf("h%02d", (i*7)%20), state: int64(i % 4)})
	}
	f := newFixture(t, rows...)

	full := f.mustRun(t, "GET services\nColumns: host state\nSort: state\nSort: host desc")
	lines := strings.SplitAfter(full, "\n")
	lines = lines[:len(lines)-1]
	require.Len(t, lines, 20)

	for n := 0; n <= 21; n++ {
		got := f.mustRun(t, "GET services\nColumns: host state\nSort: state\nSort: host desc\nLimit: "+strconv.Itoa(n))
		want := strings.Join(lines[:min(n, len(lines))], "")
		assert.Equal(t, want, got, "limit %d", n)
	}
}

func TestLimitAfterSortInStatsMode(t *testing.T) {
	var rows []*svc
	for i := range 40 {
		rows = append(rows, &svc{host: fmt.Sprintf("h%02d", (i*7)%13), state: int64(i % 4), latency: float64(i % 5)})
	}
	f := newFixture(t, rows...)

	tests := []struct {
		name string
		req  string
	}{
		{"by stats", "GET services\nColumns: host\nStats: state >= 2\nStats: sum latency\nSort: stats_1 desc\nSort: host"},
		{"by group columns", "GET services\nColumns: host state\nStats: state >= 0\nSort: host desc\nSort: state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full := f.mustRun(t, tt.req)
			lines := strings.SplitAfter(full, "\n")
			lines = lines[:len(lines)-1]
			require.Greater(t, len(lines), 10)

			for n := 0; n <= len(lines)+1; n++ {
				got := f.mustRun(t, tt.req+"\nLimit: "+strconv.Itoa(n))
				want := strings.Join(lines[:min(n, len(lines))], "")
				assert.Equal(t, want, got, "limit %d", n)
			}
		})
	}

	// the full result really is ordered by stats_1 desc, then host
	full := f.mustRun(t, tests[0].req)
	var prev []string
	for _, line := range strings.Split(strings.TrimSpace(full), "\n") {
		cur := strings.Split(line, ";")
		if prev != nil {
			pc, _ := strconv.Atoi(prev[1])
			cc, _ := strconv.Atoi(cur[1])
			assert.True(t, pc > cc || (pc == cc && prev[0] < cur[0]), "%v before %v", prev, cur)
		}
		prev = cur
	}

	out, _, err := f.run(t, context.Background(), tests[0].req+"\nLimit: 0")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGroupCountsAddUp(t *testing.T) {
	var rows []*svc
	for i := range 100 {
		rows = append(rows, &svc{host: "h" + strconv.Itoa(i%7), state: int64(i % 3)})
	}
	f := newFixture(t, rows...)

	out := f.mustRun(t, "GET services\nFilter: state != 1\nColumns: host\nStats: host ~ .")
	var total int
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		_, n, ok := strings.Cut(line, ";")
		require.True(t, ok)
		v, err := strconv.Atoi(n)
		require.NoError(t, err)
		total += v
	}

	filtered := 0
	for _, r := range rows {
		if r.state != 1 {
			filtered++
		}
	}
	assert.Equal(t, filtered, total)
}

func TestAccessorFaultSkipsRow(t *testing.T) {
	f := newFixture(t, &svc{host: "a"}, &svc{host: "boom"}, &svc{host: "b"})

	out, res, err := f.run(t, context.Background(), "GET services\nColumns: host fragile")
	require.NoError(t, err)
	assert.Equal(t, "a;1\nb;1\n", out)
	assert.Equal(t, 1, res.Faults)
	assert.Equal(t, 3, res.Scanned)

	out, res, err = f.run(t, context.Background(), "GET services\nColumns: host\nFilter: fragile = 1")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)
	assert.Equal(t, 1, res.Faults)
}

func TestPanicOutsideRowsIsInternalError(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, context.Background(), "GET broken\nColumns: x")
	require.Error(t, err)
	assert.Equal(t, query.StatusInternal, query.StatusOf(err))
}

func TestCancelledQuery(t *testing.T) {
	var rows []*svc
	for i := range 1000 {
		rows = append(rows, &svc{host: strconv.Itoa(i)})
	}
	f := newFixture(t, rows...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, res, err := f.run(t, ctx, "GET services\nColumns: host")
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, res.Scanned, checkEvery)
}

func TestWaitTimeoutZeroPollsOnce(t *testing.T) {
	f := newFixture(t, exampleServices()...)

	start := time.Now()
	out := f.mustRun(t, "GET services\nColumns: host state\nFilter: host = b\nWaitObject: b\nWaitCondition: state = 3\nWaitTimeout: 0")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "b;0\n", out)
	assert.Equal(t, int64(0), f.hub.Waiters())
}

func TestWaitTimeoutElapses(t *testing.T) {
	f := newFixture(t, exampleServices()...)

	start := time.Now()
	out := f.mustRun(t, "GET services\nColumns: state\nFilter: host = b\nWaitObject: b\nWaitCondition: state = 3\nWaitTimeout: 50")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, "0\n", out)
}

func TestWaitWakesOnTrigger(t *testing.T) {
	rows := exampleServices()
	f := newFixture(t, rows...)

	done := make(chan string)
	go func() {
		out, _, err := f.run(t, context.Background(),
			"GET services\nColumns: state\nFilter: host = b\nWaitObject: b\nWaitCondition: state = 2\nWaitTrigger: state\nWaitTimeout: 5000")
		assert.NoError(t, err)
		done <- out
	}()

	require.Eventually(t, func() bool { return f.hub.Waiters() == 1 }, time.Second, time.Millisecond)

	// an unrelated trigger does not wake the waiter
	rows[2].setState(2)
	f.hub.Notify(core.TriggerComment)
	select {
	case <-done:
		t.Fatal("woke up on the wrong trigger")
	case <-time.After(20 * time.Millisecond):
	}

	f.hub.Notify(core.TriggerState)
	select {
	case out := <-done:
		assert.Equal(t, "2\n", out)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.Equal(t, int64(0), f.hub.Waiters())
}

func TestWaitConditionAlreadyTrue(t *testing.T) {
	f := newFixture(t, exampleServices()...)
	start := time.Now()
	out := f.mustRun(t, "GET services\nColumns: host\nFilter: host = b\nWaitObject: b\nWaitCondition: state = 0")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "b\n", out)
}

func TestWaitCancelled(t *testing.T) {
	f := newFixture(t, exampleServices()...)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := f.run(t, ctx, "GET services\nColumns: host\nWaitObject: b\nWaitCondition: state = 3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), f.hub.Waiters())
}

func TestWaitStopped(t *testing.T) {
	f := newFixture(t, exampleServices()...)
	stop := make(chan struct{})
	ctx := WithWaitStop(context.Background(), stop)

	done := make(chan string)
	go func() {
		out, _, err := f.run(t, ctx, "GET services\nColumns: state\nFilter: host = b\nWaitObject: b\nWaitCondition: state = 3")
		assert.NoError(t, err)
		done <- out
	}()
	require.Eventually(t, func() bool { return f.hub.Waiters() == 1 }, time.Second, time.Millisecond)

	close(stop)
	select {
	case out := <-done:
		assert.Equal(t, "0\n", out)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not end")
	}
	assert.Equal(t, int64(0), f.hub.Waiters())
}

func TestConcurrentQueriesDuringMutation(t *testing.T) {
	rows := exampleServices()
	f := newFixture(t, rows...)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); ctx.Err() == nil; i++ {
			rows[1].setState(i % 4)
			f.hub.Notify(core.TriggerState)
		}
	}()

	var queries sync.WaitGroup
	for range 8 {
		queries.Add(1)
		go func() {
			defer queries.Done()
			for range 50 {
				out, _, err := f.run(t, context.Background(), "GET services\nStats: state >= 0\nStats: sum state")
				if !assert.NoError(t, err) {
					return
				}
				assert.Regexp(t, `^3;[0-9]+\n$`, out)
			}
		}()
	}
	queries.Wait()
	cancel()
	wg.Wait()
}
