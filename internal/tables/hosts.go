package tables

import (
	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/table"
)

// hostColumns are the columns of the hosts table, also joined under host_
// into services, comments and downtimes.
func hostColumns(s *core.Store) []table.Column {
	cols := []table.Column{
		table.String("name", "Host name", func(h *core.Host) string { return h.Name }),
		table.String("display_name", "Name shown in user interfaces", func(h *core.Host) string { return h.Alias }),
		table.String("alias", "Alias", func(h *core.Host) string { return h.Alias }),
		table.String("address", "IP address", func(h *core.Host) string { return h.Address }),
		table.String("check_command", "Check command", func(h *core.Host) string { return h.CheckCommand }),
		table.List("groups", "Host groups the host is member of", func(h *core.Host) []string { return h.Groups }),
		table.List("contacts", "Contacts of the host", func(h *core.Host) []string { return h.Contacts }),
		table.Int("max_check_attempts", "Attempts before a hard state", func(h *core.Host) int64 { return int64(h.MaxCheckAttempts) }),
		table.Float("check_interval", "Check interval in minutes", func(h *core.Host) float64 { return h.CheckInterval }),
		table.Blob("mk_inventory", "Hardware and software inventory", func(h *core.Host) []byte { return h.Inventory }),
		table.List("services", "Descriptions of the host's services", func(h *core.Host) []string {
			svcs := h.Services()
			out := make([]string, len(svcs))
			for i, svc := range svcs {
				out[i] = svc.Description
			}
			return out
		}),
		table.List("comments", "Ids of the host's comments", func(h *core.Host) []string {
			return ids(s.CommentsFor(h, nil))
		}),
		table.List("downtimes", "Ids of the host's downtimes", func(h *core.Host) []string {
			return ids(s.DowntimesFor(h, nil))
		}),
	}
	cols = append(cols, customVariableColumns(func(h *core.Host) map[string]string { return h.CustomVariables })...)
	cols = append(cols, statusColumns((*core.Host).Status)...)
	cols = append(cols, serviceCountColumns("", (*core.Host).Services)...)
	return cols
}

func hostsTable(s *core.Store) (*table.Table, error) {
	t, err := table.New("hosts", "Monitored hosts", table.Slice(s.Hosts), hostColumns(s)...)
	if err != nil {
		return nil, err
	}
	return t.WithLookup(func(key string) (table.Row, bool) {
		h, ok := s.Host(key)
		return h, ok
	}), nil
}
