package config

import "github.com/iotinspector/inspector/log"

type ServerConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	NewUserURL string `json:"new_user_url" yaml:"new_user_url"`
	SubmitURL  string `json:"submit_url" yaml:"submit_url"` // "{user_key}" is replaced with the normalized key
	TimeoutSec int    `json:"timeout_sec" yaml:"timeout_sec"`
}

type IdentityConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	FileName string `json:"file_name" yaml:"file_name"`
}

type NetworkConfig struct {
	Interface string `json:"interface" yaml:"interface"` // empty = interface owning the default route
}

type SessionConfig struct {
	Persistent  bool `json:"persistent" yaml:"persistent"`
	OpenBrowser bool `json:"open_browser" yaml:"open_browser"`
}

type ArpScanConfig struct {
	IntervalSec int `json:"interval_sec" yaml:"interval_sec"`
}

type SynScanConfig struct {
	IntervalSec int   `json:"interval_sec" yaml:"interval_sec"`
	Ports       []int `json:"ports" yaml:"ports"`
}

type SSDPConfig struct {
	IntervalSec int `json:"interval_sec" yaml:"interval_sec"`
	WaitSec     int `json:"wait_sec" yaml:"wait_sec"`
}

type CaptureConfig struct {
	SnapLen int    `json:"snaplen" yaml:"snaplen"`
	Filter  string `json:"filter" yaml:"filter"`
}

type ArpSpoofConfig struct {
	IntervalSec int `json:"interval_sec" yaml:"interval_sec"`
	MaxTargets  int `json:"max_targets" yaml:"max_targets"`
}

type UploadConfig struct {
	IntervalSec int  `json:"interval_sec" yaml:"interval_sec"`
	Compress    bool `json:"compress" yaml:"compress"` // gzip request bodies
}

type WorkersConfig struct {
	ArpScan  ArpScanConfig  `json:"arp_scan" yaml:"arp_scan"`
	SynScan  SynScanConfig  `json:"syn_scan" yaml:"syn_scan"`
	SSDP     SSDPConfig     `json:"ssdp" yaml:"ssdp"`
	Capture  CaptureConfig  `json:"capture" yaml:"capture"`
	ArpSpoof ArpSpoofConfig `json:"arp_spoof" yaml:"arp_spoof"`
	Upload   UploadConfig   `json:"upload" yaml:"upload"`
}

type Logging struct {
	Level      log.Level `json:"level" yaml:"level"`
	Instaflush bool      `json:"instaflush" yaml:"instaflush"`
	Syslog     bool      `json:"syslog" yaml:"syslog"`
	ErrorFile  string    `json:"error_file" yaml:"error_file"`
}
