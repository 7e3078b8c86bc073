package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"zwave-go-home/internal/driver"
)

type Config struct {
	Serial struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	// Nodes maps node ID to class ("0x32", "50") to negotiated version.
	Nodes map[uint8]map[string]uint8 `yaml:"nodes"`

	ControllerNodeID uint8  `yaml:"controller_node_id"`
	RequestTimeout   string `yaml:"request_timeout"`
	ScalesFile       string `yaml:"scales_file"`
	ScriptsDir       string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if _, err := c.requestTimeout(); err != nil {
		return err
	}
	if _, err := c.versions(); err != nil {
		return err
	}
	return nil
}

func (c *Config) requestTimeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return driver.DefaultRequestTimeout, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("request_timeout: invalid duration %q", c.RequestTimeout)
	}
	return d, nil
}

// versions converts the nodes section into driver form.
func (c *Config) versions() (map[uint8]map[uint8]uint8, error) {
	out := make(map[uint8]map[uint8]uint8, len(c.Nodes))
	for node, byClass := range c.Nodes {
		if node == 0 {
			return nil, fmt.Errorf("nodes: node id 0 is invalid")
		}
		m := make(map[uint8]uint8, len(byClass))
		for key, v := range byClass {
			class, err := strconv.ParseUint(strings.TrimSpace(key), 0, 8)
			if err != nil {
				return nil, fmt.Errorf("nodes.%d: invalid class %q", node, key)
			}
			if v == 0 {
				return nil, fmt.Errorf("nodes.%d.%s: version must be at least 1", node, key)
			}
			m[uint8(class)] = v
		}
		out[node] = m
	}
	return out, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zwave-home.db"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zwave"
	}
	if cfg.ControllerNodeID == 0 {
		cfg.ControllerNodeID = 1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
