package tables

import (
	"context"
	"iter"
	"time"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/logstore"
	"github.com/coffersTech/livequery/internal/table"
)

// statusRow is the only row of the status table. Its columns read live
// values, so a waiting query sees program changes.
type statusRow struct {
	Deps
}

func (r *statusRow) program() core.ProgramStatus { return r.Core.Program() }

func (r *statusRow) server() ServerStats {
	if r.Server == nil {
		return ServerStats{}
	}
	return r.Server()
}

func (r *statusRow) logs() logstore.Stats {
	if r.Logs == nil {
		return logstore.Stats{}
	}
	return r.Logs.Stats()
}

func statusTable(d Deps) (*table.Table, error) {
	row := &statusRow{Deps: d}
	rows := func(context.Context, *table.Hints) iter.Seq[table.Row] {
		return func(yield func(table.Row) bool) { yield(row) }
	}

	flag := func(name, desc string, fn func(core.ProgramStatus) bool) table.Column {
		return table.Bool(name, desc, func(r *statusRow) bool { return fn(r.program()) })
	}

	t, err := table.New("status", "Global program status and counters", rows,
		table.Time("program_start", "Time the core was started", func(r *statusRow) time.Time { return r.Core.ProgramStart() }),
		table.Int("nagios_pid", "Process id of the core", func(r *statusRow) int64 { return int64(r.Core.PID()) }),
		table.String("livestatus_version", "Version of the query engine", func(*statusRow) string { return Version }),
		flag("enable_notifications", "Whether notifications are enabled", func(p core.ProgramStatus) bool { return p.EnableNotifications }),
		flag("execute_service_checks", "Whether active service checks run", func(p core.ProgramStatus) bool { return p.ExecuteServiceChecks }),
		flag("execute_host_checks", "Whether active host checks run", func(p core.ProgramStatus) bool { return p.ExecuteHostChecks }),
		flag("accept_passive_service_checks", "Whether passive service results are accepted", func(p core.ProgramStatus) bool {
			return p.AcceptPassiveServiceChecks
		}),
		flag("accept_passive_host_checks", "Whether passive host results are accepted", func(p core.ProgramStatus) bool {
			return p.AcceptPassiveHostChecks
		}),
		flag("enable_event_handlers", "Whether event handlers are enabled", func(p core.ProgramStatus) bool { return p.EnableEventHandlers }),
		flag("enable_flap_detection", "Whether flap detection is enabled", func(p core.ProgramStatus) bool { return p.EnableFlapDetection }),
		flag("process_performance_data", "Whether performance data is processed", func(p core.ProgramStatus) bool {
			return p.ProcessPerformanceData
		}),
		table.Time("last_command_check", "Time the last external command was processed", func(r *statusRow) time.Time {
			return r.program().LastCommandCheck
		}),
		table.Int("num_hosts", "Number of hosts", func(r *statusRow) int64 { return int64(len(r.Core.Hosts())) }),
		table.Int("num_services", "Number of services", func(r *statusRow) int64 { return int64(len(r.Core.Services())) }),
		table.Int("requests", "Number of requests served", func(r *statusRow) int64 { return r.server().Requests }),
		table.Float("requests_rate", "Requests per second", func(r *statusRow) float64 { return r.server().RequestsRate }),
		table.Int("connections", "Number of accepted connections", func(r *statusRow) int64 { return r.server().Connections }),
		table.Float("connections_rate", "Connections per second", func(r *statusRow) float64 { return r.server().ConnectionsRate }),
		table.Int("livestatus_active_connections", "Number of open connections", func(r *statusRow) int64 {
			return r.server().ActiveConnections
		}),
		table.Int("livestatus_waiters", "Number of queries blocked in a wait", func(r *statusRow) int64 { return r.Core.Hub().Waiters() }),
		table.Int("cached_log_messages", "Log entries held in memory", func(r *statusRow) int64 { return int64(r.logs().Cached) }),
		table.Int("log_messages", "Log entries written since the history was created", func(r *statusRow) int64 { return r.logs().Total }),
		table.Float("log_messages_rate", "Log entries per second", func(r *statusRow) float64 { return r.logs().Rate }),
		table.Int("log_segments", "Number of archived log segments", func(r *statusRow) int64 { return int64(r.logs().Segments) }),
		table.Int("log_disk_bytes", "Size of the log archive in bytes", func(r *statusRow) int64 { return r.logs().DiskBytes }),
	)
	if err != nil {
		return nil, err
	}
	return t.WithLookup(func(string) (table.Row, bool) { return row, true }), nil
}
