package tables

import (
	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/table"
)

func contactsTable(s *core.Store) (*table.Table, error) {
	t, err := table.New("contacts", "Contacts", table.Slice(s.Contacts),
		table.String("name", "Contact name", func(c *core.Contact) string { return c.Name }),
		table.String("alias", "Alias", func(c *core.Contact) string { return c.Alias }),
		table.String("email", "Email address", func(c *core.Contact) string { return c.Email }),
		table.String("pager", "Pager number", func(c *core.Contact) string { return c.Pager }),
		table.Bool("host_notifications_enabled", "Whether host notifications are enabled", func(c *core.Contact) bool {
			return c.HostNotificationsEnabled
		}),
		table.Bool("service_notifications_enabled", "Whether service notifications are enabled", func(c *core.Contact) bool {
			return c.ServiceNotificationsEnabled
		}),
	)
	if err != nil {
		return nil, err
	}
	return t.WithLookup(func(key string) (table.Row, bool) {
		c, ok := s.Contact(key)
		return c, ok
	}), nil
}

func commandsTable(s *core.Store) (*table.Table, error) {
	return table.New("commands", "Check commands", table.Slice(s.Commands),
		table.String("name", "Command name", func(c *core.Command) string { return c.Name }),
		table.String("line", "Command line", func(c *core.Command) string { return c.Line }),
	)
}
