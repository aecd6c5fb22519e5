package tables

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/logstore"
	"github.com/coffersTech/livequery/internal/table"
)

// logTable exposes the monitoring history, newest entries first. A time
// range in the filter restricts which archive segments are read.
func logTable(s *core.Store, logs *logstore.Store) (*table.Table, error) {
	rows := func(ctx context.Context, hints *table.Hints) iter.Seq[table.Row] {
		lo, hi := hints.Range("time")
		return func(yield func(table.Row) bool) {
			for e := range logs.Scan(ctx, lo, hi) {
				if !yield(e) {
					return
				}
			}
		}
	}

	cols := []table.Column{
		table.Time("time", "Time of the entry", func(e *core.LogEntry) time.Time { return time.Unix(e.Time, 0) }),
		table.Int("lineno", "Sequence number of the entry", func(e *core.LogEntry) int64 { return e.Lineno }),
		table.Int("class", "0 info, 1 alert, 2 program, 3 notification, 4 passive, 5 command, 6 state, 7 text",
			func(e *core.LogEntry) int64 { return int64(e.Class) }),
		table.String("type", "Type of the entry, such as SERVICE ALERT", func(e *core.LogEntry) string { return e.Type }),
		table.String("message", "Complete message", func(e *core.LogEntry) string { return e.Message }),
		table.String("options", "Part of the message after the type", func(e *core.LogEntry) string {
			_, opts, ok := strings.Cut(e.Message, ": ")
			if !ok {
				return ""
			}
			return opts
		}),
		table.Int("state", "State of the object", func(e *core.LogEntry) int64 { return int64(e.State) }),
		table.String("state_type", "SOFT or HARD", func(e *core.LogEntry) string { return e.StateType }),
		table.Int("attempt", "Check attempt", func(e *core.LogEntry) int64 { return int64(e.Attempt) }),
		table.String("host_name", "Host name", func(e *core.LogEntry) string { return e.HostName }),
		table.String("service_description", "Service description", func(e *core.LogEntry) string { return e.ServiceDescription }),
		table.String("plugin_output", "Check output", func(e *core.LogEntry) string { return e.PluginOutput }),
		table.String("contact_name", "Contact name", func(e *core.LogEntry) string { return e.ContactName }),
		table.String("command_name", "Command name", func(e *core.LogEntry) string { return e.CommandName }),
	}

	currentHost := func(e *core.LogEntry) *core.Host {
		if e.HostName == "" {
			return nil
		}
		h, _ := s.Host(e.HostName)
		return h
	}
	currentService := func(e *core.LogEntry) *core.Service {
		if e.ServiceDescription == "" {
			return nil
		}
		svc, _ := s.Service(e.HostName, e.ServiceDescription)
		return svc
	}
	cols = append(cols, table.Prefixed("current_host_", table.Via(currentHost), hostColumns(s))...)
	cols = append(cols, table.Prefixed("current_service_", table.Via(currentService), serviceColumns(s))...)

	return table.New("log", "Monitoring history, newest first", rows, cols...)
}
