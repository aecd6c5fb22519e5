package tables

import (
	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/table"
)

func hostGroupsTable(s *core.Store) (*table.Table, error) {
	members := func(g *core.HostGroup) []*core.Service {
		var out []*core.Service
		for _, h := range g.Members {
			out = append(out, h.Services()...)
		}
		return out
	}

	cols := []table.Column{
		table.String("name", "Group name", func(g *core.HostGroup) string { return g.Name }),
		table.String("alias", "Alias", func(g *core.HostGroup) string { return g.Alias }),
		table.List("members", "Names of the member hosts", func(g *core.HostGroup) []string {
			out := make([]string, len(g.Members))
			for i, h := range g.Members {
				out[i] = h.Name
			}
			return out
		}),
		table.Int("num_hosts", "Number of member hosts", func(g *core.HostGroup) int64 { return int64(len(g.Members)) }),
		table.Int("num_hosts_up", "Number of member hosts that are UP", hostsInState(core.HostUp)),
		table.Int("num_hosts_down", "Number of member hosts that are DOWN", hostsInState(core.HostDown)),
		table.Int("num_hosts_unreach", "Number of member hosts that are UNREACHABLE", hostsInState(core.HostUnreachable)),
		table.Int("num_hosts_pending", "Number of member hosts not checked yet", func(g *core.HostGroup) int64 {
			var n int64
			for _, h := range g.Members {
				if !h.Status().HasBeenChecked {
					n++
				}
			}
			return n
		}),
		table.Int("worst_host_state", "Worst state of the member hosts", func(g *core.HostGroup) int64 {
			var worst int
			for _, h := range g.Members {
				if st := h.Status(); st.HasBeenChecked && st.State > worst {
					worst = st.State
				}
			}
			return int64(worst)
		}),
	}
	cols = append(cols, serviceCountColumns("", members)...)

	t, err := table.New("hostgroups", "Host groups", table.Slice(s.HostGroups), cols...)
	if err != nil {
		return nil, err
	}
	return t.WithLookup(func(key string) (table.Row, bool) {
		g, ok := s.HostGroup(key)
		return g, ok
	}), nil
}

func hostsInState(state int) func(*core.HostGroup) int64 {
	return func(g *core.HostGroup) int64 {
		var n int64
		for _, h := range g.Members {
			if st := h.Status(); st.HasBeenChecked && st.State == state {
				n++
			}
		}
		return n
	}
}

func serviceGroupsTable(s *core.Store) (*table.Table, error) {
	members := func(g *core.ServiceGroup) []*core.Service { return g.Members }

	cols := []table.Column{
		table.String("name", "Group name", func(g *core.ServiceGroup) string { return g.Name }),
		table.String("alias", "Alias", func(g *core.ServiceGroup) string { return g.Alias }),
		table.List("members", "Member services as host|description", func(g *core.ServiceGroup) []string {
			out := make([]string, len(g.Members))
			for i, svc := range g.Members {
				out[i] = svc.Host.Name + "|" + svc.Description
			}
			return out
		}),
	}
	cols = append(cols, serviceCountColumns("", members)...)

	t, err := table.New("servicegroups", "Service groups", table.Slice(s.ServiceGroups), cols...)
	if err != nil {
		return nil, err
	}
	return t.WithLookup(func(key string) (table.Row, bool) {
		g, ok := s.ServiceGroup(key)
		return g, ok
	}), nil
}
