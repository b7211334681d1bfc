package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: ROWLYTICS_GATING_COOLDOWN_MS=2000.
const EnvPrefix = "ROWLYTICS"

type Service struct {
	URL       string `yaml:"url" mapstructure:"url"`
	TimeoutMs int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
}

type MQTT struct {
	Broker   string `yaml:"broker" mapstructure:"broker"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	QoS      int    `yaml:"qos" mapstructure:"qos"`
}

type Services struct {
	Pose Service `yaml:"pose" mapstructure:"pose"`
	API  Service `yaml:"api" mapstructure:"api"`
	MQTT MQTT    `yaml:"mqtt" mapstructure:"mqtt"`
}

type Pipeline struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	LogLvl  string `yaml:"log_level" mapstructure:"log_level"`
	// LogFormat is text, json, or empty to pick by ROWLYTICS_ENV.
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
}

// DefaultDevice is the replay directory read when no device is configured.
const DefaultDevice = "data/frames"

type Camera struct {
	// Device is a directory of still frames served by the replay camera.
	Device       string  `yaml:"device" mapstructure:"device"`
	LockDir      string  `yaml:"lock_dir" mapstructure:"lock_dir"`
	FPS          float64 `yaml:"fps" mapstructure:"fps"`
	Loop         bool    `yaml:"loop" mapstructure:"loop"`
	Realtime     bool    `yaml:"realtime" mapstructure:"realtime"`
	MaxClipBytes int     `yaml:"max_clip_bytes" mapstructure:"max_clip_bytes"`
}

type Display struct {
	Width  int `yaml:"width" mapstructure:"width"`
	Height int `yaml:"height" mapstructure:"height"`
}

type Gating struct {
	VisibilityThreshold float64 `yaml:"visibility_threshold" mapstructure:"visibility_threshold"`
	EdgeMargin          float64 `yaml:"edge_margin" mapstructure:"edge_margin"`
	InFrameThresholdMs  int     `yaml:"in_frame_threshold_ms" mapstructure:"in_frame_threshold_ms"`
	CooldownMs          int     `yaml:"cooldown_ms" mapstructure:"cooldown_ms"`
	ClipDurationMs      int     `yaml:"clip_duration_ms" mapstructure:"clip_duration_ms"`
}

type Features struct {
	VisibilityThreshold float64 `yaml:"visibility_threshold" mapstructure:"visibility_threshold"`
	Upload              bool    `yaml:"upload" mapstructure:"upload"`
}

type Sink struct {
	// Mode is http (web API) or spool (local SQLite).
	Mode      string `yaml:"mode" mapstructure:"mode"`
	SpoolPath string `yaml:"spool_path" mapstructure:"spool_path"`
}

type Root struct {
	Pipeline Pipeline `yaml:"pipeline" mapstructure:"pipeline"`
	User     struct {
		ID string `yaml:"id" mapstructure:"id"`
	} `yaml:"user" mapstructure:"user"`
	Camera   Camera   `yaml:"camera" mapstructure:"camera"`
	Display  Display  `yaml:"display" mapstructure:"display"`
	Gating   Gating   `yaml:"gating" mapstructure:"gating"`
	Features Features `yaml:"features" mapstructure:"features"`
	Services Services `yaml:"services" mapstructure:"services"`
	Sink     Sink     `yaml:"sink" mapstructure:"sink"`
	Paths    struct {
		Outputs string `yaml:"outputs" mapstructure:"outputs"`
	} `yaml:"paths" mapstructure:"paths"`
}

// Default returns the built-in configuration.
func Default() *Root {
	var cfg Root
	cfg.Pipeline = Pipeline{Name: "rowlytics-capture", Version: "0.1.0", LogLvl: "info"}
	cfg.User.ID = "local"
	cfg.Camera = Camera{Device: DefaultDevice, FPS: 30, MaxClipBytes: 64 << 20}
	cfg.Display = Display{Width: 1280, Height: 720}
	cfg.Gating = Gating{
		VisibilityThreshold: 0.6,
		EdgeMargin:          0.05,
		InFrameThresholdMs:  5000,
		CooldownMs:          3000,
		ClipDurationMs:      5000,
	}
	cfg.Features = Features{VisibilityThreshold: 0.3, Upload: true}
	cfg.Services = Services{
		Pose: Service{URL: "http://localhost:8010", TimeoutMs: 10000},
		API:  Service{URL: "http://localhost:5000", TimeoutMs: 60000},
		MQTT: MQTT{Topic: "rowlytics/status", ClientID: "rowlytics-capture"},
	}
	cfg.Sink = Sink{Mode: "http", SpoolPath: filepath.Join("data", "spool.db")}
	return &cfg
}

// Load reads the configuration at path. With an empty path it tries
// config/<CONFIG_ENV>/config.yaml then src/shared/config.yaml and falls back
// to the defaults when neither exists. Environment overrides apply last.
func Load(path string) (*Root, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = guess()
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := v.MergeConfig(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func guess() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	for _, p := range []string{
		filepath.Join("config", env, "config.yaml"),
		filepath.Join("src", "shared", "config.yaml"),
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate rejects values the pipeline cannot run with.
func (c *Root) Validate() error {
	var errs []error
	unit := func(name string, x float64) {
		if x < 0 || x > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, x))
		}
	}
	unit("gating.visibility_threshold", c.Gating.VisibilityThreshold)
	unit("features.visibility_threshold", c.Features.VisibilityThreshold)
	if c.Gating.EdgeMargin < 0 || c.Gating.EdgeMargin >= 0.5 {
		errs = append(errs, fmt.Errorf("gating.edge_margin must be within [0,0.5), got %v", c.Gating.EdgeMargin))
	}
	if c.Gating.ClipDurationMs <= 0 {
		errs = append(errs, errors.New("gating.clip_duration_ms must be positive"))
	}
	if c.Gating.InFrameThresholdMs < 0 || c.Gating.CooldownMs < 0 {
		errs = append(errs, errors.New("gating durations must not be negative"))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, errors.New("display size must be positive"))
	}
	switch c.Sink.Mode {
	case "http":
		if c.Services.API.URL == "" {
			errs = append(errs, errors.New("services.api.url is required for sink mode http"))
		}
	case "spool":
		if c.Sink.SpoolPath == "" {
			errs = append(errs, errors.New("sink.spool_path is required for sink mode spool"))
		}
	default:
		errs = append(errs, fmt.Errorf("sink.mode must be http or spool, got %q", c.Sink.Mode))
	}
	if c.Services.MQTT.QoS < 0 || c.Services.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("services.mqtt.qos must be 0, 1 or 2, got %d", c.Services.MQTT.QoS))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Dump writes cfg as YAML.
func Dump(w io.Writer, cfg *Root) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
