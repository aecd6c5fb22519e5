// Package tables defines the queryable tables over the monitoring core.
package tables

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/logstore"
	"github.com/coffersTech/livequery/internal/table"
)

// Version is reported by the status table.
const Version = "1.0.0"

// ServerStats are the connection counters of the socket server.
type ServerStats struct {
	Requests          int64
	RequestsRate      float64
	Connections       int64
	ConnectionsRate   float64
	ActiveConnections int64
}

// Deps are the data sources of the tables. Logs and Server may be nil.
type Deps struct {
	Core   *core.Store
	Logs   *logstore.Store
	Server func() ServerStats
}

// Register adds every table to reg. Registration errors are programming
// errors and panic.
func Register(reg *table.Registry, d Deps) {
	reg.MustRegister(hostsTable(d.Core))
	reg.MustRegister(servicesTable(d.Core))
	reg.MustRegister(hostGroupsTable(d.Core))
	reg.MustRegister(serviceGroupsTable(d.Core))
	reg.MustRegister(contactsTable(d.Core))
	reg.MustRegister(commandsTable(d.Core))
	reg.MustRegister(commentsTable(d.Core))
	reg.MustRegister(downtimesTable(d.Core))
	if d.Logs != nil {
		reg.MustRegister(logTable(d.Core, d.Logs))
	}
	reg.MustRegister(statusTable(d))
	reg.MustRegister(columnsTable(reg))
}

// statusColumns are the check state columns shared by hosts and services.
// Every accessor copies the status under the object's lock.
func statusColumns[T any](status func(T) core.Status) []table.Column {
	intField := func(name, desc string, fn func(core.Status) int) table.Column {
		return table.Int(name, desc, func(t T) int64 { return int64(fn(status(t))) })
	}
	boolField := func(name, desc string, fn func(core.Status) bool) table.Column {
		return table.Bool(name, desc, func(t T) bool { return fn(status(t)) })
	}
	timeField := func(name, desc string, fn func(core.Status) time.Time) table.Column {
		return table.Time(name, desc, func(t T) time.Time { return fn(status(t)) })
	}
	return []table.Column{
		intField("state", "Current state", func(s core.Status) int { return s.State }),
		intField("state_type", "0 for soft, 1 for hard", func(s core.Status) int { return s.StateType }),
		intField("last_hard_state", "Last hard state", func(s core.Status) int { return s.LastHardState }),
		boolField("has_been_checked", "Whether a check has been executed yet", func(s core.Status) bool { return s.HasBeenChecked }),
		intField("current_attempt", "Number of the current check attempt", func(s core.Status) int { return s.CurrentAttempt }),
		table.String("plugin_output", "First line of the check output", func(t T) string { return status(t).PluginOutput }),
		table.String("long_plugin_output", "Remaining lines of the check output", func(t T) string { return status(t).LongPluginOutput }),
		table.String("perf_data", "Performance data of the last check", func(t T) string { return status(t).PerfData }),
		timeField("last_check", "Time of the last check", func(s core.Status) time.Time { return s.LastCheck }),
		timeField("next_check", "Scheduled time of the next check", func(s core.Status) time.Time { return s.NextCheck }),
		timeField("last_state_change", "Time of the last state change", func(s core.Status) time.Time { return s.LastStateChange }),
		timeField("last_hard_state_change", "Time of the last hard state change", func(s core.Status) time.Time { return s.LastHardStateChange }),
		table.Float("latency", "Check latency in seconds", func(t T) float64 { return status(t).Latency }),
		table.Float("execution_time", "Check execution time in seconds", func(t T) float64 { return status(t).ExecutionTime }),
		boolField("acknowledged", "Whether the problem has been acknowledged", func(s core.Status) bool { return s.Acknowledged }),
		intField("acknowledgement_type", "0 none, 1 normal, 2 sticky", func(s core.Status) int { return s.AcknowledgementType }),
		intField("scheduled_downtime_depth", "Number of active downtimes", func(s core.Status) int { return s.ScheduledDowntimeDepth }),
		boolField("notifications_enabled", "Whether notifications are enabled", func(s core.Status) bool { return s.NotificationsEnabled }),
		boolField("active_checks_enabled", "Whether active checks are enabled", func(s core.Status) bool { return s.ActiveChecksEnabled }),
		table.Int("check_count", "Number of processed check results", func(t T) int64 { return status(t).CheckCount }),
		boolField("is_problem", "Whether the object is in a non-OK hard or soft state", func(s core.Status) bool {
			return s.HasBeenChecked && s.State != core.StateOK
		}),
	}
}

func customVariableColumns[T any](vars func(T) map[string]string) []table.Column {
	return []table.Column{
		table.List("custom_variable_names", "Names of the custom variables", func(t T) []string {
			return sortedKeys(vars(t))
		}),
		table.List("custom_variable_values", "Values of the custom variables, ordered by name", func(t T) []string {
			m := vars(t)
			out := make([]string, 0, len(m))
			for _, k := range sortedKeys(m) {
				out = append(out, m[k])
			}
			return out
		}),
		table.Dict("custom_variables", "Custom variables", vars),
	}
}

func ids(v []int64) []string {
	if len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	for i, id := range v {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

// serviceRank orders service states by severity: OK, WARNING, UNKNOWN, CRITICAL.
func serviceRank(state int) int {
	switch state {
	case core.StateWarning:
		return 1
	case core.StateUnknown:
		return 2
	case core.StateCritical:
		return 3
	}
	return 0
}

// stateCounts tallies checked services by state; unchecked ones are pending.
type stateCounts struct {
	ok, warn, crit, unknown, pending int64
	worst                            int
}

func countServices(svcs []*core.Service) stateCounts {
	var c stateCounts
	for _, s := range svcs {
		st := s.Status()
		if !st.HasBeenChecked {
			c.pending++
			continue
		}
		switch st.State {
		case core.StateOK:
			c.ok++
		case core.StateWarning:
			c.warn++
		case core.StateCritical:
			c.crit++
		default:
			c.unknown++
		}
		if serviceRank(st.State) > serviceRank(c.worst) {
			c.worst = st.State
		}
	}
	return c
}

// serviceCountColumns derive counters from a set of services.
func serviceCountColumns[T any](prefix string, svcs func(T) []*core.Service) []table.Column {
	count := func(name, desc string, fn func(stateCounts) int64) table.Column {
		return table.Int(prefix+name, desc, func(t T) int64 { return fn(countServices(svcs(t))) })
	}
	return []table.Column{
		table.Int(prefix+"num_services", "Number of services", func(t T) int64 { return int64(len(svcs(t))) }),
		count("num_services_ok", "Number of services in state OK", func(c stateCounts) int64 { return c.ok }),
		count("num_services_warn", "Number of services in state WARNING", func(c stateCounts) int64 { return c.warn }),
		count("num_services_crit", "Number of services in state CRITICAL", func(c stateCounts) int64 { return c.crit }),
		count("num_services_unknown", "Number of services in state UNKNOWN", func(c stateCounts) int64 { return c.unknown }),
		count("num_services_pending", "Number of services not checked yet", func(c stateCounts) int64 { return c.pending }),
		count("worst_service_state", "Worst state of all services", func(c stateCounts) int64 { return int64(c.worst) }),
	}
}

// splitServiceKey accepts "host;service" and "host service".
func splitServiceKey(key string) (host, desc string, ok bool) {
	if host, desc, ok = strings.Cut(key, ";"); ok {
		return host, desc, true
	}
	return strings.Cut(key, " ")
}

func parseID(key string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
	return id, err == nil
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(m))
}
