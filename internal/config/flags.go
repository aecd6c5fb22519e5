package config

import (
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// Options are the daemon's command-line flags.
type Options struct {
	ConfigFile  string `short:"c" long:"config" description:"YAML configuration file"`
	Listen      string `short:"l" long:"listen" description:"query socket, unix:///path or tcp://host:port"`
	HTTPListen  string `long:"http" description:"admin HTTP address, empty to disable"`
	ObjectsFile string `short:"o" long:"objects" description:"YAML file with hosts and services"`
	DataDir     string `short:"d" long:"data-dir" description:"directory of the log history"`
	LogLevel    string `long:"log-level" description:"debug, info, warn or error"`
	Simulate    string `long:"simulate" description:"interval of simulated check results, e.g. 5s"`
	Version     bool   `short:"v" long:"version" description:"display the version and exit"`
}

// Load parses args, reads the configuration file they name and applies the
// remaining flags on top.
func Load(name string, args []string) (*Options, Config, error) {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.Default)
	parser.Name = name
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, Config{}, err
	}
	if opts.Version {
		return opts, Config{}, nil
	}

	cfg, err := LoadFile(opts.ConfigFile)
	if err != nil {
		return nil, Config{}, err
	}
	if err := opts.apply(&cfg); err != nil {
		return nil, Config{}, err
	}
	return opts, cfg, cfg.Validate()
}

func (o *Options) apply(cfg *Config) error {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Listen, o.Listen)
	set(&cfg.HTTPListen, o.HTTPListen)
	set(&cfg.ObjectsFile, o.ObjectsFile)
	set(&cfg.DataDir, o.DataDir)
	set(&cfg.LogLevel, o.LogLevel)
	if o.Simulate != "" {
		d, err := time.ParseDuration(o.Simulate)
		if err != nil {
			return errors.Wrap(err, "--simulate")
		}
		cfg.SimulateInterval = Duration(d)
	}
	return nil
}

// IsHelp reports whether err only means the help text was printed.
func IsHelp(err error) bool {
	return flags.WroteHelp(err)
}
