// Package client talks to a livequery server over its query socket.
//
// Every request is sent with KeepAlive, a fixed16 response header and JSON
// output, so one Conn serves any number of sequential queries.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

// Error is a non-200 response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("livequery: status %d: %s", e.Status, e.Message)
}

// Result is a decoded query response. Columns is set when the request asked
// for column headers. Values are string, float64, []any or map[string]any.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Conn is a keepalive connection. It is safe for concurrent use; requests
// are serialized.
type Conn struct {
	mu     sync.Mutex
	nc     net.Conn
	r      *bufio.Reader
	parser fastjson.Parser
	now    func() time.Time
}

// Dial connects to addr, given as unix:///path or tcp://host:port.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	network, address, ok := strings.Cut(addr, "://")
	if !ok || (network != "unix" && network != "tcp") {
		return nil, errors.Errorf("invalid address %q, want unix:///path or tcp://host:port", addr)
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &Conn{nc: nc, r: bufio.NewReader(nc), now: time.Now}, nil
}

func (c *Conn) Close() error {
	return c.nc.Close()
}

// controlled are the headers the client sets itself.
var controlled = map[string]bool{
	"KeepAlive":      true,
	"ResponseHeader": true,
	"OutputFormat":   true,
}

// Query sends a request program such as "GET hosts\nColumns: name" and
// decodes the JSON response.
func (c *Conn) Query(ctx context.Context, request string) (*Result, error) {
	lines := strings.Split(strings.TrimSpace(request), "\n")
	var b strings.Builder
	for _, line := range lines {
		kw, _, _ := strings.Cut(line, ":")
		if controlled[strings.TrimSpace(kw)] || strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("OutputFormat: json\nKeepAlive: on\nResponseHeader: fixed16\n\n")

	body, err := c.roundTrip(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return c.decode(body, hasHeaders(lines))
}

// Command submits an external command, for example
// "ACKNOWLEDGE_SVC_PROBLEM;web1;http;2;1;1;alice;on it". No response is read.
func (c *Conn) Command(ctx context.Context, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDeadline(ctx)
	line := fmt.Sprintf("COMMAND [%d] %s\n\n", c.now().Unix(), strings.TrimSpace(command))
	_, err := io.WriteString(c.nc, line)
	return errors.Wrap(err, "send command")
}

func (c *Conn) setDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(dl)
	} else {
		c.nc.SetDeadline(time.Time{})
	}
}

func (c *Conn) roundTrip(ctx context.Context, req string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDeadline(ctx)
	stop := context.AfterFunc(ctx, func() { c.nc.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if _, err := io.WriteString(c.nc, req); err != nil {
		return nil, errors.Wrap(err, "send request")
	}

	head := make([]byte, 16)
	if _, err := io.ReadFull(c.r, head); err != nil {
		return nil, errors.Wrap(err, "read response header")
	}
	status, err := strconv.Atoi(strings.TrimSpace(string(head[:3])))
	if err != nil {
		return nil, errors.Errorf("malformed response header %q", head)
	}
	length, err := strconv.Atoi(strings.TrimSpace(string(head[4:15])))
	if err != nil || length < 0 {
		return nil, errors.Errorf("malformed response header %q", head)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	if status != 200 {
		return nil, &Error{Status: status, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func hasHeaders(lines []string) bool {
	explicit, on, off := false, false, false
	for _, line := range lines {
		kw, arg, _ := strings.Cut(line, ":")
		switch strings.TrimSpace(kw) {
		case "Columns":
			explicit = true
		case "Stats", "StatsAnd", "StatsOr", "StatsNegate", "StatsGroupBy":
			explicit = true
		case "ColumnHeaders":
			on, off = strings.TrimSpace(arg) == "on", strings.TrimSpace(arg) == "off"
		}
	}
	return on || (!explicit && !off)
}

func (c *Conn) decode(body []byte, headers bool) (*Result, error) {
	v, err := c.parser.ParseBytes(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	rows, err := v.Array()
	if err != nil {
		return nil, errors.Wrap(err, "decode response")
	}

	res := &Result{}
	for i, row := range rows {
		cells, err := row.Array()
		if err != nil {
			return nil, errors.Wrapf(err, "decode row %d", i)
		}
		if i == 0 && headers {
			for _, cell := range cells {
				res.Columns = append(res.Columns, string(cell.GetStringBytes()))
			}
			continue
		}
		values := make([]any, len(cells))
		for j, cell := range cells {
			values[j] = toGo(cell)
		}
		res.Rows = append(res.Rows, values)
	}
	return res, nil
}

func toGo(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeArray:
		items := v.GetArray()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = toGo(item)
		}
		return out
	case fastjson.TypeObject:
		out := make(map[string]any)
		v.GetObject().Visit(func(key []byte, item *fastjson.Value) {
			out[string(key)] = toGo(item)
		})
		return out
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	}
	return nil
}
