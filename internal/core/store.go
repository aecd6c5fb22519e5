package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ProgramStatus holds the global switches of the core.
type ProgramStatus struct {
	EnableNotifications        bool
	ExecuteServiceChecks       bool
	ExecuteHostChecks          bool
	AcceptPassiveServiceChecks bool
	AcceptPassiveHostChecks    bool
	EnableEventHandlers        bool
	EnableFlapDetection        bool
	ProcessPerformanceData     bool
	LastCommandCheck           time.Time
}

type serviceKey struct {
	host        string
	description string
}

// Store owns the object graph. Collection membership is guarded by mu; the
// check status of each object is guarded by the object's own lock, so readers
// only hold mu long enough to copy a slice of pointers.
type Store struct {
	mu sync.RWMutex

	hosts         []*Host
	hostIndex     map[string]*Host
	services      []*Service
	serviceIndex  map[serviceKey]*Service
	hostGroups    []*HostGroup
	hostGroupIdx  map[string]*HostGroup
	svcGroups     []*ServiceGroup
	svcGroupIdx   map[string]*ServiceGroup
	contacts      []*Contact
	contactIndex  map[string]*Contact
	commands      []*Command
	comments      map[int64]*Comment
	downtimes     map[int64]*Downtime
	programMu     sync.RWMutex
	program       ProgramStatus
	nextID        atomic.Int64
	logLineno     atomic.Int64
	startTime     time.Time
	pid           int
	hub           *Hub
	logs          LogSink
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Store)

// WithLogSink sends history entries to sink.
func WithLogSink(sink LogSink) Option {
	return func(s *Store) { s.logs = sink }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		hostIndex:    make(map[string]*Host),
		serviceIndex: make(map[serviceKey]*Service),
		hostGroupIdx: make(map[string]*HostGroup),
		svcGroupIdx:  make(map[string]*ServiceGroup),
		contactIndex: make(map[string]*Contact),
		comments:     make(map[int64]*Comment),
		downtimes:    make(map[int64]*Downtime),
		program: ProgramStatus{
			EnableNotifications:        true,
			ExecuteServiceChecks:       true,
			ExecuteHostChecks:          true,
			AcceptPassiveServiceChecks: true,
			AcceptPassiveHostChecks:    true,
			EnableEventHandlers:        true,
			ProcessPerformanceData:     true,
		},
		pid:    os.Getpid(),
		hub:    NewHub(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startTime = s.now()
	return s
}

func (s *Store) Hub() *Hub               { return s.hub }
func (s *Store) ProgramStart() time.Time { return s.startTime }
func (s *Store) PID() int                { return s.pid }
func (s *Store) Now() time.Time          { return s.now() }

func (s *Store) Program() ProgramStatus {
	s.programMu.RLock()
	defer s.programMu.RUnlock()
	return s.program
}

// AddHost registers h and its group memberships.
func (s *Store) AddHost(h *Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Name == "" {
		return fmt.Errorf("host without name")
	}
	if _, ok := s.hostIndex[h.Name]; ok {
		return fmt.Errorf("duplicate host '%s'", h.Name)
	}
	if h.MaxCheckAttempts == 0 {
		h.MaxCheckAttempts = 1
	}
	h.status.NotificationsEnabled = true
	h.status.ActiveChecksEnabled = true
	h.status.CurrentAttempt = 1

	s.hosts = append(s.hosts, h)
	s.hostIndex[h.Name] = h
	for _, g := range h.Groups {
		s.hostGroupLocked(g).Members = append(s.hostGroupLocked(g).Members, h)
	}
	return nil
}

// AddService registers svc under its host.
func (s *Store) AddService(svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.Host == nil {
		return fmt.Errorf("service '%s' without host", svc.Description)
	}
	if _, ok := s.hostIndex[svc.Host.Name]; !ok {
		return fmt.Errorf("service '%s': unknown host '%s'", svc.Description, svc.Host.Name)
	}
	key := serviceKey{svc.Host.Name, svc.Description}
	if _, ok := s.serviceIndex[key]; ok {
		return fmt.Errorf("duplicate service '%s;%s'", key.host, key.description)
	}
	if svc.MaxCheckAttempts == 0 {
		svc.MaxCheckAttempts = 1
	}
	if svc.DisplayName == "" {
		svc.DisplayName = svc.Description
	}
	svc.status.NotificationsEnabled = true
	svc.status.ActiveChecksEnabled = true
	svc.status.CurrentAttempt = 1

	s.services = append(s.services, svc)
	s.serviceIndex[key] = svc
	svc.Host.services = append(svc.Host.services, svc)
	for _, g := range svc.Groups {
		grp := s.serviceGroupLocked(g)
		grp.Members = append(grp.Members, svc)
	}
	return nil
}

// AddHostGroup defines a group alias. Groups named by hosts are created implicitly.
func (s *Store) AddHostGroup(name, alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostGroupLocked(name).Alias = alias
}

func (s *Store) AddServiceGroup(name, alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceGroupLocked(name).Alias = alias
}

func (s *Store) hostGroupLocked(name string) *HostGroup {
	g, ok := s.hostGroupIdx[name]
	if !ok {
		g = &HostGroup{Name: name, Alias: name}
		s.hostGroupIdx[name] = g
		s.hostGroups = append(s.hostGroups, g)
	}
	return g
}

func (s *Store) serviceGroupLocked(name string) *ServiceGroup {
	g, ok := s.svcGroupIdx[name]
	if !ok {
		g = &ServiceGroup{Name: name, Alias: name}
		s.svcGroupIdx[name] = g
		s.svcGroups = append(s.svcGroups, g)
	}
	return g
}

func (s *Store) AddContact(c *Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contactIndex[c.Name]; ok {
		return
	}
	s.contacts = append(s.contacts, c)
	s.contactIndex[c.Name] = c
}

func (s *Store) AddCommand(c *Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, c)
}

// Hosts returns a snapshot of the host list.
func (s *Store) Hosts() []*Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.hosts)
}

func (s *Store) Host(name string) (*Host, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hostIndex[name]
	return h, ok
}

func (s *Store) Services() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.services)
}

func (s *Store) Service(host, description string) (*Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.serviceIndex[serviceKey{host, description}]
	return svc, ok
}

func (s *Store) HostGroups() []*HostGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.hostGroups)
}

func (s *Store) HostGroup(name string) (*HostGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.hostGroupIdx[name]
	return g, ok
}

func (s *Store) ServiceGroups() []*ServiceGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.svcGroups)
}

func (s *Store) ServiceGroup(name string) (*ServiceGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.svcGroupIdx[name]
	return g, ok
}

func (s *Store) Contacts() []*Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.contacts)
}

func (s *Store) Contact(name string) (*Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contactIndex[name]
	return c, ok
}

func (s *Store) Commands() []*Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.commands)
}

// Comments returns all comments ordered by id.
func (s *Store) Comments() []*Comment {
	s.mu.RLock()
	out := make([]*Comment, 0, len(s.comments))
	for _, c := range s.comments {
		out = append(out, c)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Comment) int { return int(a.ID - b.ID) })
	return out
}

func (s *Store) Comment(id int64) (*Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	return c, ok
}

// Downtimes returns all downtimes ordered by id.
func (s *Store) Downtimes() []*Downtime {
	s.mu.RLock()
	out := make([]*Downtime, 0, len(s.downtimes))
	for _, d := range s.downtimes {
		out = append(out, d)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Downtime) int { return int(a.ID - b.ID) })
	return out
}

func (s *Store) Downtime(id int64) (*Downtime, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.downtimes[id]
	return d, ok
}

// CommentsFor returns the ids of comments attached to a host (svc == nil) or a service.
func (s *Store) CommentsFor(h *Host, svc *Service) []int64 {
	var ids []int64
	for _, c := range s.Comments() {
		if c.Host == h && c.Service == svc {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// DowntimesFor returns the ids of downtimes attached to a host (svc == nil) or a service.
func (s *Store) DowntimesFor(h *Host, svc *Service) []int64 {
	var ids []int64
	for _, d := range s.Downtimes() {
		if d.Host == h && d.Service == svc {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// ProcessHostResult applies a host check result.
func (s *Store) ProcessHostResult(h *Host, r CheckResult) {
	if r.Time.IsZero() {
		r.Time = s.now()
	}
	var (
		changed bool
		st      Status
	)
	h.update(func(cur *Status) {
		changed = cur.apply(r, h.MaxCheckAttempts)
		cur.NextCheck = r.Time.Add(interval(h.CheckInterval))
		st = *cur
	})

	s.hub.Notify(TriggerCheck)
	if changed {
		s.log(LogEntry{
			Time:         r.Time.Unix(),
			Class:        LogClassAlert,
			Type:         "HOST ALERT",
			HostName:     h.Name,
			State:        st.State,
			StateType:    StateTypeName(st.StateType),
			Attempt:      st.CurrentAttempt,
			PluginOutput: st.PluginOutput,
			Message: fmt.Sprintf("HOST ALERT: %s;%s;%s;%d;%s", h.Name, StateName(false, st.State),
				StateTypeName(st.StateType), st.CurrentAttempt, st.PluginOutput),
		})
		s.hub.Notify(TriggerState)
	}
}

// ProcessServiceResult applies a service check result.
func (s *Store) ProcessServiceResult(svc *Service, r CheckResult) {
	if r.Time.IsZero() {
		r.Time = s.now()
	}
	var (
		changed bool
		st      Status
	)
	svc.update(func(cur *Status) {
		changed = cur.apply(r, svc.MaxCheckAttempts)
		cur.NextCheck = r.Time.Add(interval(svc.CheckInterval))
		st = *cur
	})

	s.hub.Notify(TriggerCheck)
	if changed {
		s.log(LogEntry{
			Time:               r.Time.Unix(),
			Class:              LogClassAlert,
			Type:               "SERVICE ALERT",
			HostName:           svc.Host.Name,
			ServiceDescription: svc.Description,
			State:              st.State,
			StateType:          StateTypeName(st.StateType),
			Attempt:            st.CurrentAttempt,
			PluginOutput:       st.PluginOutput,
			Message: fmt.Sprintf("SERVICE ALERT: %s;%s;%s;%s;%d;%s", svc.Host.Name, svc.Description,
				StateName(true, st.State), StateTypeName(st.StateType), st.CurrentAttempt, st.PluginOutput),
		})
		s.hub.Notify(TriggerState)
	}
}

func interval(minutes float64) time.Duration {
	if minutes <= 0 {
		minutes = 1
	}
	return time.Duration(minutes * float64(time.Minute))
}

// SetProgram changes global switches.
func (s *Store) SetProgram(fn func(p *ProgramStatus)) {
	s.programMu.Lock()
	fn(&s.program)
	s.programMu.Unlock()
	s.hub.Notify(TriggerProgram)
}

func (s *Store) addComment(c *Comment) *Comment {
	c.ID = s.nextID.Add(1)
	if c.EntryTime.IsZero() {
		c.EntryTime = s.now()
	}
	s.mu.Lock()
	s.comments[c.ID] = c
	s.mu.Unlock()
	s.hub.Notify(TriggerComment)
	return c
}

func (s *Store) deleteComment(id int64) bool {
	s.mu.Lock()
	_, ok := s.comments[id]
	delete(s.comments, id)
	s.mu.Unlock()
	if ok {
		s.hub.Notify(TriggerComment)
	}
	return ok
}

func (s *Store) addDowntime(d *Downtime) *Downtime {
	d.ID = s.nextID.Add(1)
	if d.EntryTime.IsZero() {
		d.EntryTime = s.now()
	}
	s.mu.Lock()
	s.downtimes[d.ID] = d
	s.mu.Unlock()
	s.hub.Notify(TriggerDowntime)
	s.syncDowntime(d, s.now())
	return d
}

func (s *Store) deleteDowntime(id int64) bool {
	s.mu.Lock()
	d, ok := s.downtimes[id]
	delete(s.downtimes, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if d.active.CompareAndSwap(true, false) {
		s.adjustDowntimeDepth(d, -1)
	}
	s.hub.Notify(TriggerDowntime)
	return true
}

// syncDowntime starts or ends d depending on now.
func (s *Store) syncDowntime(d *Downtime, now time.Time) {
	inWindow := !now.Before(d.StartTime) && now.Before(d.EndTime)
	switch {
	case inWindow && d.active.CompareAndSwap(false, true):
		s.adjustDowntimeDepth(d, 1)
		s.log(downtimeAlert(d, now, "STARTED"))
		s.hub.Notify(TriggerDowntime)
	case !inWindow && d.active.CompareAndSwap(true, false):
		s.adjustDowntimeDepth(d, -1)
		s.log(downtimeAlert(d, now, "STOPPED"))
		s.hub.Notify(TriggerDowntime)
	}
}

func (s *Store) adjustDowntimeDepth(d *Downtime, delta int) {
	apply := func(st *Status) {
		st.ScheduledDowntimeDepth += delta
		if st.ScheduledDowntimeDepth < 0 {
			st.ScheduledDowntimeDepth = 0
		}
	}
	if d.Service != nil {
		d.Service.update(apply)
	} else {
		d.Host.update(apply)
	}
}

func downtimeAlert(d *Downtime, now time.Time, what string) LogEntry {
	e := LogEntry{
		Time:     now.Unix(),
		Class:    LogClassAlert,
		HostName: d.Host.Name,
	}
	if d.Service != nil {
		e.Type = "SERVICE DOWNTIME ALERT"
		e.ServiceDescription = d.Service.Description
		e.Message = fmt.Sprintf("SERVICE DOWNTIME ALERT: %s;%s;%s;", d.Host.Name, d.Service.Description, what)
	} else {
		e.Type = "HOST DOWNTIME ALERT"
		e.Message = fmt.Sprintf("HOST DOWNTIME ALERT: %s;%s;", d.Host.Name, what)
	}
	return e
}

// Maintain starts and expires downtimes and drops expired comments.
func (s *Store) Maintain(now time.Time) {
	for _, d := range s.Downtimes() {
		s.syncDowntime(d, now)
		if !now.Before(d.EndTime) {
			s.deleteDowntime(d.ID)
		}
	}
	for _, c := range s.Comments() {
		if c.Expires && !now.Before(c.ExpireTime) {
			s.deleteComment(c.ID)
		}
	}
}

// RunMaintenance calls Maintain every interval until ctx is done.
func (s *Store) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Maintain(s.now())
		}
	}
}

// log appends e to the history and publishes the log trigger.
func (s *Store) log(e LogEntry) {
	if e.Time == 0 {
		e.Time = s.now().Unix()
	}
	e.Lineno = s.logLineno.Add(1)
	if s.logs != nil {
		s.logs.Append(e)
	}
	s.hub.Notify(TriggerLog)
}

// Log appends a free-form history entry.
func (s *Store) Log(class int, typ, message string) {
	s.log(LogEntry{Class: class, Type: typ, Message: message})
}
