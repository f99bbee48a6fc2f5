package config

import (
	"github.com/iotinspector/inspector/log"
)

const CurrentConfigVersion = 1

type Config struct {
	ConfigPath string `json:"-" yaml:"-"`

	// NoSpoofing is a startup switch only; it is never persisted.
	NoSpoofing bool `json:"-" yaml:"-"`

	Version  int            `json:"version" yaml:"version"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Identity IdentityConfig `json:"identity" yaml:"identity"`
	Network  NetworkConfig  `json:"network" yaml:"network"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Workers  WorkersConfig  `json:"workers" yaml:"workers"`
	Logging  Logging        `json:"logging" yaml:"logging"`
}

var DefaultConfig = Config{
	Version: CurrentConfigVersion,

	Server: ServerConfig{
		BaseURL:    "https://inspector.cs.princeton.edu",
		NewUserURL: "https://inspector.cs.princeton.edu/generate_user_key",
		SubmitURL:  "https://inspector.cs.princeton.edu/submit_data/{user_key}",
		TimeoutSec: 10,
	},

	Identity: IdentityConfig{
		Dir:      "",
		FileName: "iot_inspector_config.json",
	},

	Session: SessionConfig{
		Persistent:  true,
		OpenBrowser: true,
	},

	Workers: WorkersConfig{
		ArpScan: ArpScanConfig{IntervalSec: 10},
		SynScan: SynScanConfig{
			IntervalSec: 60,
			Ports:       []int{21, 22, 23, 53, 80, 443, 554, 1883, 5000, 8008, 8080, 8443, 8883, 9100},
		},
		SSDP:     SSDPConfig{IntervalSec: 30, WaitSec: 3},
		Capture:  CaptureConfig{SnapLen: 65535, Filter: ""},
		ArpSpoof: ArpSpoofConfig{IntervalSec: 2, MaxTargets: 64},
		Upload:   UploadConfig{IntervalSec: 5},
	},

	Logging: Logging{
		Level:      log.LevelInfo,
		Instaflush: true,
		Syslog:     false,
	},
}

// NewConfig returns a copy of DefaultConfig that shares no slices with it.
func NewConfig() Config {
	cfg := DefaultConfig
	cfg.Workers.SynScan.Ports = append([]int(nil), DefaultConfig.Workers.SynScan.Ports...)
	return cfg
}
