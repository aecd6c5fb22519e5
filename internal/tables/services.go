package tables

import (
	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/table"
)

// serviceColumns are the columns of a service without its host join.
func serviceColumns(s *core.Store) []table.Column {
	cols := []table.Column{
		table.String("description", "Service description", func(svc *core.Service) string { return svc.Description }),
		table.String("display_name", "Name shown in user interfaces", func(svc *core.Service) string { return svc.DisplayName }),
		table.String("check_command", "Check command", func(svc *core.Service) string { return svc.CheckCommand }),
		table.List("groups", "Service groups the service is member of", func(svc *core.Service) []string { return svc.Groups }),
		table.List("contacts", "Contacts of the service", func(svc *core.Service) []string { return svc.Contacts }),
		table.Int("max_check_attempts", "Attempts before a hard state", func(svc *core.Service) int64 { return int64(svc.MaxCheckAttempts) }),
		table.Float("check_interval", "Check interval in minutes", func(svc *core.Service) float64 { return svc.CheckInterval }),
		table.List("comments", "Ids of the service's comments", func(svc *core.Service) []string {
			return ids(s.CommentsFor(svc.Host, svc))
		}),
		table.List("downtimes", "Ids of the service's downtimes", func(svc *core.Service) []string {
			return ids(s.DowntimesFor(svc.Host, svc))
		}),
	}
	cols = append(cols, customVariableColumns(func(svc *core.Service) map[string]string { return svc.CustomVariables })...)
	cols = append(cols, statusColumns((*core.Service).Status)...)
	return cols
}

func serviceHost(svc *core.Service) *core.Host { return svc.Host }

func servicesTable(s *core.Store) (*table.Table, error) {
	cols := serviceColumns(s)
	cols = append(cols, table.Prefixed("host_", table.Via(serviceHost), hostColumns(s))...)

	t, err := table.New("services", "Monitored services, joined with their host", table.Slice(s.Services), cols...)
	if err != nil {
		return nil, err
	}
	return t.WithLookup(func(key string) (table.Row, bool) {
		host, desc, ok := splitServiceKey(key)
		if !ok {
			return nil, false
		}
		svc, ok := s.Service(host, desc)
		return svc, ok
	}), nil
}
