// Package config loads CLI settings from a YAML file and command line flags.
// Flags that were set explicitly win over the file, the file wins over defaults.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatstream/pkg/logging"
)

const (
	TransportHTTP   = "http"
	TransportNDJSON = "ndjson"
	TransportWS     = "ws"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type RedisSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Group    string        `yaml:"group"`
	Consumer string        `yaml:"consumer"`
	TTL      time.Duration `yaml:"ttl"`
}

type StoreSettings struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Settings struct {
	API                  string            `yaml:"api"`
	Transport            string            `yaml:"transport"`
	Headers              map[string]string `yaml:"headers"`
	Body                 map[string]any    `yaml:"body"`
	MaxAutoContinuations int               `yaml:"max_auto_continuations"`
	ResumePath           string            `yaml:"resume_path"`
	Redis                RedisSettings     `yaml:"redis"`
	Store                StoreSettings     `yaml:"store"`
	Log                  logging.Settings  `yaml:"log"`
}

func Defaults() Settings {
	return Settings{
		API:                  "http://localhost:3000/api/chat",
		Transport:            TransportHTTP,
		MaxAutoContinuations: 3,
		Redis: RedisSettings{
			Addr:     "localhost:6379",
			Group:    "chatstream",
			Consumer: "cli-1",
			TTL:      10 * time.Minute,
		},
		Store: StoreSettings{Driver: StoreMemory},
		Log:   logging.Settings{Level: "info", Format: "auto"},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/chatstream/config.yaml (or the platform equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chatstream", "config.yaml")
}

// Load reads path over the defaults. A missing file is an error only when required is set.
func Load(path string, required bool) (Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return s, nil
		}
		return s, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, errors.Wrapf(err, "parse config %s", path)
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	switch s.Transport {
	case TransportHTTP, TransportNDJSON, TransportWS:
	default:
		return errors.Errorf("unknown transport %q", s.Transport)
	}
	if s.MaxAutoContinuations < 0 {
		return errors.Errorf("max_auto_continuations must be >= 0, got %d", s.MaxAutoContinuations)
	}
	switch s.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if s.Store.DSN == "" {
			return errors.New("store.dsn is required for the sqlite store")
		}
	default:
		return errors.Errorf("unknown store driver %q", s.Store.Driver)
	}
	if s.Redis.Enabled && s.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}

// AddFlags registers the persistent flags FromCommand reads.
func AddFlags(cmd *cobra.Command) {
	d := Defaults()
	f := cmd.PersistentFlags()
	f.String("config", "", "Config file (default "+DefaultPath()+")")
	f.String("api", d.API, "Chat endpoint URL (http(s):// or ws(s)://)")
	f.String("transport", d.Transport, "Transport: http, ndjson or ws")
	f.StringToString("header", nil, "Extra request header, repeatable (key=value)")
	f.Int("max-auto-continuations", d.MaxAutoContinuations, "Maximum automatic follow-up turns per request")
	f.String("resume-path", "", "Override the path used to resume a stream")
	f.Bool("redis-enabled", d.Redis.Enabled, "Relay turns through Redis Streams")
	f.String("redis-addr", d.Redis.Addr, "Redis address host:port")
	f.String("store-driver", d.Store.Driver, "History store: memory or sqlite")
	f.String("store-dsn", d.Store.DSN, "History store DSN (sqlite file)")
	f.String("log-level", d.Log.Level, "Log level (trace, debug, info, warn, error)")
	f.String("log-format", d.Log.Format, "Log format (auto, console, json)")
}

// FromCommand loads the config file named by --config (or the default path), then
// applies the flags that were set on the command line.
func FromCommand(cmd *cobra.Command) (Settings, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	required := path != ""
	if path == "" {
		path = DefaultPath()
	}
	s, err := Load(path, required)
	if err != nil {
		return s, err
	}

	var ferr error
	str := func(name string, dst *string) {
		if f.Changed(name) {
			v, err := f.GetString(name)
			if err != nil && ferr == nil {
				ferr = err
			}
			*dst = v
		}
	}
	str("api", &s.API)
	str("transport", &s.Transport)
	str("resume-path", &s.ResumePath)
	str("redis-addr", &s.Redis.Addr)
	str("store-driver", &s.Store.Driver)
	str("store-dsn", &s.Store.DSN)
	str("log-level", &s.Log.Level)
	str("log-format", &s.Log.Format)
	if f.Changed("max-auto-continuations") {
		s.MaxAutoContinuations, err = f.GetInt("max-auto-continuations")
		if err != nil {
			return s, err
		}
	}
	if f.Changed("redis-enabled") {
		s.Redis.Enabled, err = f.GetBool("redis-enabled")
		if err != nil {
			return s, err
		}
	}
	if f.Changed("header") {
		h, err := f.GetStringToString("header")
		if err != nil {
			return s, err
		}
		if s.Headers == nil {
			s.Headers = map[string]string{}
		}
		for k, v := range h {
			s.Headers[k] = v
		}
	}
	if ferr != nil {
		return s, ferr
	}
	return s, s.Validate()
}
