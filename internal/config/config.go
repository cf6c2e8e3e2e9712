package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gpstrack/internal/geofence"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Serial   SerialConfig   `yaml:"serial"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Geofence GeofenceConfig `yaml:"geofence"`
	Trip     TripConfig     `yaml:"trip"`
	Replay   ReplayConfig   `yaml:"replay"`
	Record   RecordConfig   `yaml:"record"`
	Server   ServerConfig   `yaml:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Units    string         `yaml:"units"`
}

type LogConfig struct {
	// Level is a logrus level name: debug, info, warn, error.
	Level string `yaml:"level"`
	// File enables rotated file logging alongside stderr when set.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   uint   `yaml:"baud"`
}

type PipelineConfig struct {
	MaxBuffer        int           `yaml:"max_buffer"`
	EpochTimeout     time.Duration `yaml:"epoch_timeout"`
	QualityGrace     time.Duration `yaml:"quality_grace"`
	TerminalSentence string        `yaml:"terminal_sentence"`
}

type GeofenceConfig struct {
	Enable       bool            `yaml:"enable"`
	ConfirmCount int             `yaml:"confirm_count"`
	Zones        []geofence.Zone `yaml:"zones"`
}

type TripConfig struct {
	Enable                  bool          `yaml:"enable"`
	MotionThresholdMps      float64       `yaml:"motion_threshold_mps"`
	MotionConfirmCount      int           `yaml:"motion_confirm_count"`
	IdleTimeout             time.Duration `yaml:"idle_timeout"`
	HardBrakingMps2         float64       `yaml:"hard_braking_mps2"`
	SharpCorneringDegPerSec float64       `yaml:"sharp_cornering_deg_per_sec"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
	// Format is nmea, jsonl or csv. Empty picks by the path's extension.
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Enable bool   `yaml:"enable"`
	Addr   string `yaml:"addr"`
}

type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB <= 0 {
			cfg.Log.MaxSizeMB = 10
		}
		if cfg.Log.MaxBackups <= 0 {
			cfg.Log.MaxBackups = 3
		}
	}

	if cfg.Replay.Enable {
		if cfg.Replay.Path == "" {
			return Config{}, fmt.Errorf("replay.path is required when replay.enable is true")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return Config{}, fmt.Errorf("replay.speed must be > 0")
		}
	} else if cfg.Serial.Device == "" {
		return Config{}, fmt.Errorf("serial.device is required unless replay.enable is true")
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return Config{}, fmt.Errorf("record.path is required when record.enable is true")
		}
		switch cfg.Record.Format {
		case "", "nmea", "jsonl", "csv":
		default:
			return Config{}, fmt.Errorf("record.format must be nmea, jsonl or csv, got %q", cfg.Record.Format)
		}
	}
	if cfg.Record.Enable && cfg.Replay.Enable {
		return Config{}, fmt.Errorf("record and replay cannot both be enabled")
	}

	if cfg.Geofence.Enable {
		if len(cfg.Geofence.Zones) == 0 {
			return Config{}, fmt.Errorf("geofence.zones is required when geofence.enable is true")
		}
		for _, z := range cfg.Geofence.Zones {
			if err := z.Validate(); err != nil {
				return Config{}, fmt.Errorf("geofence zone %q: %w", z.Name, err)
			}
		}
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return Config{}, fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return Config{}, fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.Server.Enable && cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	switch cfg.Units {
	case "", "metric", "imperial":
	default:
		return Config{}, fmt.Errorf("units must be metric or imperial, got %q", cfg.Units)
	}

	return cfg, nil
}
