// Package config loads the daemon configuration from a YAML file and the
// command line. Flags given on the command line override the file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Size is a byte count written as "4MiB", "512 kB" or a plain number.
type Size int64

func (s *Size) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", raw)
	}
	*s = Size(n)
	return nil
}

func (s Size) String() string { return humanize.IBytes(uint64(s)) }

// Duration is a time.Duration written as "30s" or "1h30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// Listen is unix:///path or tcp://host:port.
	Listen     string `yaml:"listen"`
	HTTPListen string `yaml:"http_listen"`

	IdleTimeout     Duration `yaml:"idle_timeout"`
	QueryTimeout    Duration `yaml:"query_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	MaxConnections  int      `yaml:"max_connections"`
	MaxResponseSize Size     `yaml:"max_response_size"`

	DataDir      string   `yaml:"data_dir"`
	LogRetention Duration `yaml:"log_retention"`
	LogFlushSize Size     `yaml:"log_flush_size"`

	ObjectsFile      string   `yaml:"objects_file"`
	SimulateInterval Duration `yaml:"simulate_interval"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Listen:          "unix:///tmp/livequery.sock",
		IdleTimeout:     Duration(5 * time.Minute),
		QueryTimeout:    Duration(10 * time.Second),
		WriteTimeout:    Duration(30 * time.Second),
		MaxConnections:  20,
		MaxResponseSize: 100 << 20,
		DataDir:         "data",
		LogRetention:    Duration(7 * 24 * time.Hour),
		LogFlushSize:    16 << 20,
		LogLevel:        "info",
	}
}

// Parse reads a YAML document on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return cfg, cfg.Validate()
}

// LoadFile reads path; an empty path yields the defaults.
func LoadFile(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	return cfg, errors.Wrapf(err, "config %s", path)
}

func (c Config) Validate() error {
	if _, _, err := SplitListen(c.Listen); err != nil {
		return err
	}
	if c.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}
	if c.IdleTimeout < 0 || c.QueryTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	return nil
}

// SplitListen turns unix:///path and tcp://host:port into net.Listen
// arguments.
func SplitListen(addr string) (network, address string, err error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok || rest == "" {
		return "", "", errors.Errorf("invalid listen address %q, want unix:///path or tcp://host:port", addr)
	}
	switch scheme {
	case "unix", "tcp":
		return scheme, rest, nil
	}
	return "", "", errors.Errorf("unsupported listen scheme %q", scheme)
}
