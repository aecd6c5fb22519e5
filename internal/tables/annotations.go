package tables

import (
	"time"

	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/table"
)

// joinHostAndService adds host_ and service_ columns to a table whose rows
// are attached to a host and optionally a service.
func joinHostAndService[T any](s *core.Store, cols []table.Column, host func(T) *core.Host, svc func(T) *core.Service) []table.Column {
	cols = append(cols, table.Prefixed("host_", table.Via(host), hostColumns(s))...)
	return append(cols, table.Prefixed("service_", table.Via(svc), serviceColumns(s))...)
}

func objectType(isService bool) int64 {
	if isService {
		return 2
	}
	return 1
}

func commentsTable(s *core.Store) (*table.Table, error) {
	cols := []table.Column{
		table.Int("id", "Comment id", func(c *core.Comment) int64 { return c.ID }),
		table.String("author", "Author", func(c *core.Comment) string { return c.Author }),
		table.String("comment", "Text", func(c *core.Comment) string { return c.Text }),
		table.Time("entry_time", "Time the comment was made", func(c *core.Comment) time.Time { return c.EntryTime }),
		table.Int("entry_type", "1 user, 2 downtime, 3 flapping, 4 acknowledgement", func(c *core.Comment) int64 {
			return int64(c.EntryType)
		}),
		table.Bool("persistent", "Whether the comment survives restarts", func(c *core.Comment) bool { return c.Persistent }),
		table.Int("source", "0 internal, 1 external", func(c *core.Comment) int64 { return int64(c.Source) }),
		table.Bool("expires", "Whether the comment expires", func(c *core.Comment) bool { return c.Expires }),
		table.Time("expire_time", "Expiry time", func(c *core.Comment) time.Time { return c.ExpireTime }),
		table.Bool("is_service", "Whether the comment belongs to a service", (*core.Comment).IsService),
		table.Int("type", "1 host comment, 2 service comment", func(c *core.Comment) int64 { return objectType(c.IsService()) }),
	}
	cols = joinHostAndService(s, cols,
		func(c *core.Comment) *core.Host { return c.Host },
		func(c *core.Comment) *core.Service { return c.Service })

	t, err := table.New("comments", "Host and service comments", table.Slice(s.Comments), cols...)
	if err != nil {
		return nil, err
	}
	return t.WithLookup(func(key string) (table.Row, bool) {
		id, ok := parseID(key)
		if !ok {
			return nil, false
		}
		c, ok := s.Comment(id)
		return c, ok
	}), nil
}

func downtimesTable(s *core.Store) (*table.Table, error) {
	cols := []table.Column{
		table.Int("id", "Downtime id", func(d *core.Downtime) int64 { return d.ID }),
		table.String("author", "Author", func(d *core.Downtime) string { return d.Author }),
		table.String("comment", "Comment", func(d *core.Downtime) string { return d.Comment }),
		table.Time("entry_time", "Time the downtime was scheduled", func(d *core.Downtime) time.Time { return d.EntryTime }),
		table.Time("start_time", "Start of the window", func(d *core.Downtime) time.Time { return d.StartTime }),
		table.Time("end_time", "End of the window", func(d *core.Downtime) time.Time { return d.EndTime }),
		table.Bool("fixed", "Whether the downtime is fixed", func(d *core.Downtime) bool { return d.Fixed }),
		table.Int("duration", "Duration of a flexible downtime in seconds", func(d *core.Downtime) int64 {
			return int64(d.Duration / time.Second)
		}),
		table.Int("triggered_by", "Id of the triggering downtime, 0 if none", func(d *core.Downtime) int64 { return d.TriggeredBy }),
		table.Bool("is_pending", "Whether the downtime has not started yet", func(d *core.Downtime) bool { return !d.IsActive() }),
		table.Bool("is_service", "Whether the downtime belongs to a service", (*core.Downtime).IsService),
		table.Int("type", "1 host downtime, 2 service downtime", func(d *core.Downtime) int64 { return objectType(d.IsService()) }),
	}
	cols = joinHostAndService(s, cols,
		func(d *core.Downtime) *core.Host { return d.Host },
		func(d *core.Downtime) *core.Service { return d.Service })

	t, err := table.New("downtimes", "Scheduled downtimes", table.Slice(s.Downtimes), cols...)
	if err != nil {
		return nil, err
	}
	return t.WithLookup(func(key string) (table.Row, bool) {
		id, ok := parseID(key)
		if !ok {
			return nil, false
		}
		d, ok := s.Downtime(id)
		return d, ok
	}), nil
}
