package core

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ObjectsFile is the YAML seed describing the monitored objects.
type ObjectsFile struct {
	Hosts []struct {
		Name             string            `yaml:"name"`
		Alias            string            `yaml:"alias"`
		Address          string            `yaml:"address"`
		CheckCommand     string            `yaml:"check_command"`
		Groups           []string          `yaml:"groups"`
		Contacts         []string          `yaml:"contacts"`
		CustomVariables  map[string]string `yaml:"custom_variables"`
		MaxCheckAttempts int               `yaml:"max_check_attempts"`
		CheckInterval    float64           `yaml:"check_interval"`
		Inventory        string            `yaml:"inventory"`
		Services         []struct {
			Description      string            `yaml:"description"`
			DisplayName      string            `yaml:"display_name"`
			CheckCommand     string            `yaml:"check_command"`
			Groups           []string          `yaml:"groups"`
			Contacts         []string          `yaml:"contacts"`
			CustomVariables  map[string]string `yaml:"custom_variables"`
			MaxCheckAttempts int               `yaml:"max_check_attempts"`
			CheckInterval    float64           `yaml:"check_interval"`
		} `yaml:"services"`
	} `yaml:"hosts"`
	HostGroups []struct {
		Name  string `yaml:"name"`
		Alias string `yaml:"alias"`
	} `yaml:"hostgroups"`
	ServiceGroups []struct {
		Name  string `yaml:"name"`
		Alias string `yaml:"alias"`
	} `yaml:"servicegroups"`
	Contacts []struct {
		Name                        string `yaml:"name"`
		Alias                       string `yaml:"alias"`
		Email                       string `yaml:"email"`
		Pager                       string `yaml:"pager"`
		HostNotificationsEnabled    *bool  `yaml:"host_notifications_enabled"`
		ServiceNotificationsEnabled *bool  `yaml:"service_notifications_enabled"`
	} `yaml:"contacts"`
	Commands []struct {
		Name string `yaml:"name"`
		Line string `yaml:"line"`
	} `yaml:"commands"`
}

// LoadFile reads a YAML objects file into s.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read objects file %s", path)
	}
	return errors.Wrapf(s.Load(data), "load objects file %s", path)
}

// Load adds every object described by the YAML document data.
func (s *Store) Load(data []byte) error {
	var f ObjectsFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return errors.Wrap(err, "parse objects")
	}

	for _, g := range f.HostGroups {
		s.AddHostGroup(g.Name, g.Alias)
	}
	for _, g := range f.ServiceGroups {
		s.AddServiceGroup(g.Name, g.Alias)
	}
	for _, c := range f.Contacts {
		s.AddContact(&Contact{
			Name:                        c.Name,
			Alias:                       c.Alias,
			Email:                       c.Email,
			Pager:                       c.Pager,
			HostNotificationsEnabled:    c.HostNotificationsEnabled == nil || *c.HostNotificationsEnabled,
			ServiceNotificationsEnabled: c.ServiceNotificationsEnabled == nil || *c.ServiceNotificationsEnabled,
		})
	}
	for _, c := range f.Commands {
		s.AddCommand(&Command{Name: c.Name, Line: c.Line})
	}

	for _, hc := range f.Hosts {
		h := &Host{
			Name:             hc.Name,
			Alias:            hc.Alias,
			Address:          hc.Address,
			CheckCommand:     hc.CheckCommand,
			Groups:           hc.Groups,
			Contacts:         hc.Contacts,
			CustomVariables:  hc.CustomVariables,
			MaxCheckAttempts: hc.MaxCheckAttempts,
			CheckInterval:    hc.CheckInterval,
		}
		if hc.Inventory != "" {
			h.Inventory = []byte(hc.Inventory)
		}
		if h.Alias == "" {
			h.Alias = h.Name
		}
		if err := s.AddHost(h); err != nil {
			return err
		}
		for _, sc := range hc.Services {
			svc := &Service{
				Host:             h,
				Description:      sc.Description,
				DisplayName:      sc.DisplayName,
				CheckCommand:     sc.CheckCommand,
				Groups:           sc.Groups,
				Contacts:         sc.Contacts,
				CustomVariables:  sc.CustomVariables,
				MaxCheckAttempts: sc.MaxCheckAttempts,
				CheckInterval:    sc.CheckInterval,
			}
			if err := s.AddService(svc); err != nil {
				return err
			}
		}
	}

	s.logger.Info("objects loaded",
		"hosts", len(f.Hosts),
		"hostgroups", len(s.HostGroups()),
		"contacts", len(f.Contacts))
	return nil
}
