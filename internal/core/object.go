// Package core is the in-process monitoring core the query engine reads from.
//
// The core owns every object. Configuration fields of hosts and services are
// immutable after load; the check status lives behind a per-object RWMutex and
// is only ever handed out as a copy.
package core

import (
	"strings"
	"sync"
	"time"
)

const (
	HostUp          = 0
	HostDown        = 1
	HostUnreachable = 2

	StateOK       = 0
	StateWarning  = 1
	StateCritical = 2
	StateUnknown  = 3

	StateTypeSoft = 0
	StateTypeHard = 1
)

// Status is the mutable check state shared by hosts and services.
type Status struct {
	State                  int
	StateType              int
	LastHardState          int
	HasBeenChecked         bool
	CurrentAttempt         int
	PluginOutput           string
	LongPluginOutput       string
	PerfData               string
	LastCheck              time.Time
	NextCheck              time.Time
	LastStateChange        time.Time
	LastHardStateChange    time.Time
	Latency                float64
	ExecutionTime          float64
	Acknowledged           bool
	AcknowledgementType    int
	ScheduledDowntimeDepth int
	NotificationsEnabled   bool
	ActiveChecksEnabled    bool
	CheckCount             int64
}

// CheckResult is one check outcome delivered to the core.
type CheckResult struct {
	State         int
	Output        string
	Latency       float64
	ExecutionTime float64
	Time          time.Time
}

// apply folds a check result into the status and reports whether the state changed.
func (st *Status) apply(r CheckResult, maxAttempts int) bool {
	prev := st.State
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if r.State == StateOK {
		st.CurrentAttempt = 1
		st.StateType = StateTypeHard
		if st.AcknowledgementType != 2 {
			st.Acknowledged = false
			st.AcknowledgementType = 0
		}
	} else {
		switch {
		case prev == StateOK || !st.HasBeenChecked:
			st.CurrentAttempt = 1
		case st.CurrentAttempt < maxAttempts:
			st.CurrentAttempt++
		}
		if st.CurrentAttempt >= maxAttempts {
			st.StateType = StateTypeHard
		} else {
			st.StateType = StateTypeSoft
		}
	}

	st.PluginOutput, st.LongPluginOutput, st.PerfData = splitPluginOutput(r.Output)
	st.Latency = r.Latency
	st.ExecutionTime = r.ExecutionTime
	st.LastCheck = r.Time
	st.CheckCount++

	changed := r.State != prev || !st.HasBeenChecked
	st.HasBeenChecked = true
	st.State = r.State
	if changed {
		st.LastStateChange = r.Time
	}
	if st.StateType == StateTypeHard && (st.LastHardState != r.State || st.LastHardStateChange.IsZero()) {
		st.LastHardState = r.State
		st.LastHardStateChange = r.Time
	}
	return changed
}

// splitPluginOutput separates "first line|perf\nlong output" into its parts.
func splitPluginOutput(s string) (output, long, perf string) {
	first, rest, _ := strings.Cut(s, "\n")
	output, perf, _ = strings.Cut(first, "|")
	return strings.TrimSpace(output), rest, strings.TrimSpace(perf)
}

// Host is a monitored host. Exported fields are configuration and never change
// after the host has been added to a Store.
type Host struct {
	Name             string
	Alias            string
	Address          string
	CheckCommand     string
	Groups           []string
	Contacts         []string
	CustomVariables  map[string]string
	MaxCheckAttempts int
	CheckInterval    float64
	Inventory        []byte

	services []*Service

	mu     sync.RWMutex
	status Status
}

// Status returns a copy of the host's check state taken under its lock.
func (h *Host) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Host) update(fn func(st *Status)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.status)
}

// Services returns the host's services in configuration order.
func (h *Host) Services() []*Service {
	return h.services
}

// Service is a monitored service bound to one host.
type Service struct {
	Host             *Host
	Description      string
	DisplayName      string
	CheckCommand     string
	Groups           []string
	Contacts         []string
	CustomVariables  map[string]string
	MaxCheckAttempts int
	CheckInterval    float64

	mu     sync.RWMutex
	status Status
}

// Status returns a copy of the service's check state taken under its lock.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Service) update(fn func(st *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

// HostGroup groups hosts under a name.
type HostGroup struct {
	Name    string
	Alias   string
	Members []*Host
}

// ServiceGroup groups services under a name.
type ServiceGroup struct {
	Name    string
	Alias   string
	Members []*Service
}

type Contact struct {
	Name                        string
	Alias                       string
	Email                       string
	Pager                       string
	HostNotificationsEnabled    bool
	ServiceNotificationsEnabled bool
}

type Command struct {
	Name string
	Line string
}

// StateName returns the plugin state name used in log messages.
func StateName(isService bool, state int) string {
	if isService {
		switch state {
		case StateOK:
			return "OK"
		case StateWarning:
			return "WARNING"
		case StateCritical:
			return "CRITICAL"
		default:
			return "UNKNOWN"
		}
	}
	switch state {
	case HostUp:
		return "UP"
	case HostDown:
		return "DOWN"
	default:
		return "UNREACHABLE"
	}
}

// StateTypeName returns SOFT or HARD.
func StateTypeName(t int) string {
	if t == StateTypeHard {
		return "HARD"
	}
	return "SOFT"
}
