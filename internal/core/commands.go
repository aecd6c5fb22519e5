package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrUnknownCommand = errors.New("unknown command")

type commandFunc func(s *Store, args []string) error

type commandDef struct {
	nargs   int
	trigger Trigger
	run     commandFunc
}

var commandTable = map[string]commandDef{
	"PROCESS_HOST_CHECK_RESULT":    {3, TriggerCheck, cmdHostResult},
	"PROCESS_SERVICE_CHECK_RESULT": {4, TriggerCheck, cmdServiceResult},
	"ACKNOWLEDGE_HOST_PROBLEM":     {6, TriggerComment, cmdAckHost},
	"ACKNOWLEDGE_SVC_PROBLEM":      {7, TriggerComment, cmdAckService},
	"REMOVE_HOST_ACKNOWLEDGEMENT":  {1, TriggerState, cmdRemoveAckHost},
	"REMOVE_SVC_ACKNOWLEDGEMENT":   {2, TriggerState, cmdRemoveAckService},
	"ADD_HOST_COMMENT":             {4, TriggerComment, cmdAddHostComment},
	"ADD_SVC_COMMENT":              {5, TriggerComment, cmdAddServiceComment},
	"DEL_HOST_COMMENT":             {1, TriggerComment, cmdDelComment},
	"DEL_SVC_COMMENT":              {1, TriggerComment, cmdDelComment},
	"SCHEDULE_HOST_DOWNTIME":       {8, TriggerDowntime, cmdHostDowntime},
	"SCHEDULE_SVC_DOWNTIME":        {9, TriggerDowntime, cmdServiceDowntime},
	"DEL_HOST_DOWNTIME":            {1, TriggerDowntime, cmdDelDowntime},
	"DEL_SVC_DOWNTIME":             {1, TriggerDowntime, cmdDelDowntime},
	"ENABLE_NOTIFICATIONS":         {0, TriggerProgram, cmdNotifications(true)},
	"DISABLE_NOTIFICATIONS":        {0, TriggerProgram, cmdNotifications(false)},
}

// ProcessCommand executes an external command line of the form
// "[<epoch>] NAME;arg1;arg2". The leading "COMMAND " keyword is optional.
func (s *Store) ProcessCommand(line string) error {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "COMMAND"))
	if strings.HasPrefix(line, "[") {
		end := strings.IndexByte(line, ']')
		if end < 0 {
			return fmt.Errorf("malformed command timestamp: %s", line)
		}
		line = strings.TrimSpace(line[end+1:])
	}

	name, rest, _ := strings.Cut(line, ";")
	def, ok := commandTable[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	var args []string
	if def.nargs > 0 {
		// the last argument may itself contain semicolons
		args = strings.SplitN(rest, ";", def.nargs)
		if len(args) != def.nargs {
			return fmt.Errorf("%s: expected %d arguments, got %d", name, def.nargs, len(args))
		}
	}

	if err := def.run(s, args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	s.log(LogEntry{
		Class:       LogClassCommand,
		Type:        "EXTERNAL COMMAND",
		CommandName: name,
		Message:     "EXTERNAL COMMAND: " + line,
	})
	s.hub.Notify(TriggerCommand)
	s.hub.Notify(def.trigger)
	s.SetProgram(func(p *ProgramStatus) { p.LastCommandCheck = s.now() })
	return nil
}

func (s *Store) lookupHost(name string) (*Host, error) {
	h, ok := s.Host(name)
	if !ok {
		return nil, fmt.Errorf("unknown host '%s'", name)
	}
	return h, nil
}

func (s *Store) lookupService(host, desc string) (*Service, error) {
	svc, ok := s.Service(host, desc)
	if !ok {
		return nil, fmt.Errorf("unknown service '%s;%s'", host, desc)
	}
	return svc, nil
}

func cmdHostResult(s *Store, a []string) error {
	h, err := s.lookupHost(a[0])
	if err != nil {
		return err
	}
	state, err := strconv.Atoi(a[1])
	if err != nil || state < HostUp || state > HostUnreachable {
		return fmt.Errorf("invalid host state '%s'", a[1])
	}
	s.ProcessHostResult(h, CheckResult{State: state, Output: a[2]})
	return nil
}

func cmdServiceResult(s *Store, a []string) error {
	svc, err := s.lookupService(a[0], a[1])
	if err != nil {
		return err
	}
	state, err := strconv.Atoi(a[2])
	if err != nil || state < StateOK || state > StateUnknown {
		return fmt.Errorf("invalid service state '%s'", a[2])
	}
	s.ProcessServiceResult(svc, CheckResult{State: state, Output: a[3]})
	return nil
}

// ack args: sticky;notify;persistent;author;comment
func acknowledge(s *Store, h *Host, svc *Service, a []string) error {
	sticky, err := strconv.Atoi(a[0])
	if err != nil {
		return fmt.Errorf("invalid sticky flag '%s'", a[0])
	}
	ackType := 1
	if sticky == 2 {
		ackType = 2
	}
	var problem bool
	set := func(st *Status) {
		problem = st.State != StateOK
		if problem {
			st.Acknowledged = true
			st.AcknowledgementType = ackType
		}
	}
	if svc != nil {
		svc.update(set)
	} else {
		h.update(set)
	}
	if !problem {
		return errors.New("object has no problem to acknowledge")
	}
	s.addComment(&Comment{
		Author:     a[3],
		Text:       a[4],
		EntryType:  CommentAcknowledged,
		Persistent: a[2] == "1",
		Source:     SourceExternal,
		Host:       h,
		Service:    svc,
	})
	s.hub.Notify(TriggerState)
	return nil
}

func cmdAckHost(s *Store, a []string) error {
	h, err := s.lookupHost(a[0])
	if err != nil {
		return err
	}
	return acknowledge(s, h, nil, a[1:])
}

func cmdAckService(s *Store, a []string) error {
	svc, err := s.lookupService(a[0], a[1])
	if err != nil {
		return err
	}
	return acknowledge(s, svc.Host, svc, a[2:])
}

func removeAck(s *Store, h *Host, svc *Service) {
	reset := func(st *Status) {
		st.Acknowledged = false
		st.AcknowledgementType = 0
	}
	if svc != nil {
		svc.update(reset)
	} else {
		h.update(reset)
	}
	for _, c := range s.Comments() {
		if c.Host == h && c.Service == svc && c.EntryType == CommentAcknowledged {
			s.deleteComment(c.ID)
		}
	}
}

func cmdRemoveAckHost(s *Store, a []string) error {
	h, err := s.lookupHost(a[0])
	if err != nil {
		return err
	}
	removeAck(s, h, nil)
	return nil
}

func cmdRemoveAckService(s *Store, a []string) error {
	svc, err := s.lookupService(a[0], a[1])
	if err != nil {
		return err
	}
	removeAck(s, svc.Host, svc)
	return nil
}

// comment args: persistent;author;comment
func cmdAddHostComment(s *Store, a []string) error {
	h, err := s.lookupHost(a[0])
	if err != nil {
		return err
	}
	s.addComment(&Comment{
		Author: a[2], Text: a[3], EntryType: CommentUser,
		Persistent: a[1] == "1", Source: SourceExternal, Host: h,
	})
	return nil
}

func cmdAddServiceComment(s *Store, a []string) error {
	svc, err := s.lookupService(a[0], a[1])
	if err != nil {
		return err
	}
	s.addComment(&Comment{
		Author: a[3], Text: a[4], EntryType: CommentUser,
		Persistent: a[2] == "1", Source: SourceExternal, Host: svc.Host, Service: svc,
	})
	return nil
}

func cmdDelComment(s *Store, a []string) error {
	id, err := strconv.ParseInt(a[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid comment id '%s'", a[0])
	}
	if !s.deleteComment(id) {
		return fmt.Errorf("no comment with id %d", id)
	}
	return nil
}

// downtime args: start;end;fixed;trigger_id;duration;author;comment
func parseDowntime(a []string) (*Downtime, error) {
	nums := make([]int64, 5)
	for i := range nums {
		n, err := strconv.ParseInt(a[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid downtime argument '%s'", a[i])
		}
		nums[i] = n
	}
	if nums[1] <= nums[0] {
		return nil, errors.New("downtime ends before it starts")
	}
	return &Downtime{
		StartTime:   time.Unix(nums[0], 0),
		EndTime:     time.Unix(nums[1], 0),
		Fixed:       nums[2] != 0,
		TriggeredBy: nums[3],
		Duration:    time.Duration(nums[4]) * time.Second,
		Author:      a[5],
		Comment:     a[6],
	}, nil
}

func cmdHostDowntime(s *Store, a []string) error {
	h, err := s.lookupHost(a[0])
	if err != nil {
		return err
	}
	d, err := parseDowntime(a[1:])
	if err != nil {
		return err
	}
	d.Host = h
	s.addDowntime(d)
	return nil
}

func cmdServiceDowntime(s *Store, a []string) error {
	svc, err := s.lookupService(a[0], a[1])
	if err != nil {
		return err
	}
	d, err := parseDowntime(a[2:])
	if err != nil {
		return err
	}
	d.Host, d.Service = svc.Host, svc
	s.addDowntime(d)
	return nil
}

func cmdDelDowntime(s *Store, a []string) error {
	id, err := strconv.ParseInt(a[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid downtime id '%s'", a[0])
	}
	if !s.deleteDowntime(id) {
		return fmt.Errorf("no downtime with id %d", id)
	}
	return nil
}

func cmdNotifications(on bool) commandFunc {
	return func(s *Store, _ []string) error {
		s.SetProgram(func(p *ProgramStatus) { p.EnableNotifications = on })
		return nil
	}
}
