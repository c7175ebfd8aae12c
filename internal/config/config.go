// Package config loads scgd configuration: built-in defaults, then an optional YAML file,
// then SCG_* environment variables, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SCG_LOG_LEVEL.
const EnvPrefix = "SCG"

type Config struct {
	Service ServiceConfig `yaml:"service" envconfig:"SERVICE"`
	Log     LogConfig     `yaml:"log" envconfig:"LOG"`
	HTTP    HTTPConfig    `yaml:"http" envconfig:"HTTP"`
	Queue   QueueConfig   `yaml:"queue" envconfig:"QUEUE"`
	NATS    NATSConfig    `yaml:"nats" envconfig:"NATS"`
	Gossip  GossipConfig  `yaml:"gossip" envconfig:"GOSSIP"`
}

type ServiceConfig struct {
	Name        string `yaml:"name" envconfig:"NAME" validate:"required"`
	Version     string `yaml:"version" envconfig:"VERSION" validate:"omitempty,semver"`
	RootAddress string `yaml:"root_address" envconfig:"ROOT_ADDRESS" validate:"omitempty,startswith=/"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=text json"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

type QueueConfig struct {
	Capacity      int           `yaml:"capacity" envconfig:"CAPACITY" validate:"gte=1"`
	BatchSize     int           `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"gte=1"`
	SubmitTimeout time.Duration `yaml:"submit_timeout" envconfig:"SUBMIT_TIMEOUT" validate:"gte=0"`
	NonBlocking   bool          `yaml:"non_blocking" envconfig:"NON_BLOCKING"`
	SendBatch     int           `yaml:"send_batch" envconfig:"SEND_BATCH" validate:"gte=1"`
}

type NATSConfig struct {
	URL           string        `yaml:"url" envconfig:"URL" validate:"omitempty,url"`
	Name          string        `yaml:"name" envconfig:"NAME"`
	Prefix        string        `yaml:"prefix" envconfig:"PREFIX"`
	Channels      []string      `yaml:"channels" envconfig:"CHANNELS" validate:"required_with=URL,dive,required"`
	Import        bool          `yaml:"import" envconfig:"IMPORT"`
	ConnTimeout   time.Duration `yaml:"conn_timeout" envconfig:"CONN_TIMEOUT" validate:"gte=0"`
	MaxReconnects int           `yaml:"max_reconnects" envconfig:"MAX_RECONNECTS"`
}

// Enabled reports whether a NATS bridge should be built.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

type GossipConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"ENABLED"`
	NodeName    string        `yaml:"node_name" envconfig:"NODE_NAME"`
	BindAddr    string        `yaml:"bind_addr" envconfig:"BIND_ADDR" validate:"omitempty,ip"`
	BindPort    int           `yaml:"bind_port" envconfig:"BIND_PORT" validate:"gte=0,lte=65535"`
	Profile     string        `yaml:"profile" envconfig:"PROFILE" validate:"oneof=lan wan local"`
	Join        []string      `yaml:"join" envconfig:"JOIN" validate:"dive,hostname_port"`
	ServicePort int           `yaml:"service_port" envconfig:"SERVICE_PORT" validate:"gte=0,lte=65535"`
	Resync      time.Duration `yaml:"resync" envconfig:"RESYNC" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Service: ServiceConfig{Name: "scgd"},
		Log:     LogConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8080", ShutdownTimeout: 10 * time.Second},
		Queue: QueueConfig{
			Capacity:      1024,
			BatchSize:     64,
			SubmitTimeout: time.Second,
			SendBatch:     1,
		},
		NATS:   NATSConfig{Name: "scgd", Prefix: "scg.events.", ConnTimeout: 2 * time.Second, MaxReconnects: -1},
		Gossip: GossipConfig{Profile: "lan", BindPort: 7946, Resync: 30 * time.Second},
	}
}

// Load layers path (when not empty) and the environment over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}

		if err := decodeYAML(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// Validate checks every field constraint and reports them all at once.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}

			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}

		return fmt.Errorf("config: %w", err)
	}

	return nil
}

// Level maps Log.Level to a slog level.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}

	return lvl
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}

	var h slog.Handler
	if c.Log.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With("service", c.Service.Name)
}
