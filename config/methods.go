package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iotinspector/inspector/log"
	"gopkg.in/yaml.v3"
)

func (c *Config) SaveToFile(path string) error {
	if path == "" {
		log.Tracef("config path is not defined")
		return nil
	}

	data, err := marshal(path, c)
	if err != nil {
		return log.Errorf("failed to marshal config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return log.Errorf("failed to create config directory: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return log.Errorf("failed to write config file: %v", err)
	}
	return nil
}

func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		log.Tracef("config path is not defined")
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return log.Errorf("failed to stat config file: %v", err)
	}
	if info.IsDir() {
		return log.Errorf("config path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return log.Errorf("failed to read config file: %v", err)
	}
	if err := unmarshal(path, data, c); err != nil {
		return log.Errorf("failed to parse config file: %v", err)
	}
	if c.Version == 0 {
		c.Version = CurrentConfigVersion
	}
	return nil
}

// LoadOrInit loads path when it exists and writes the current settings to it
// otherwise.
func (c *Config) LoadOrInit(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Infof("Config %s not found, writing defaults", path)
		return c.SaveToFile(path)
	}
	return c.LoadFromFile(path)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// marshal picks the encoding from the file extension; JSON unless .yaml/.yml.
func marshal(path string, c *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(c)
	}
	return json.MarshalIndent(c, "", "  ")
}

func unmarshal(path string, data []byte, c *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

func (c *Config) ApplyLogLevel(level string) {
	switch level {
	case "debug":
		c.Logging.Level = log.LevelDebug
	case "trace":
		c.Logging.Level = log.LevelTrace
	case "info":
		c.Logging.Level = log.LevelInfo
	case "error":
		c.Logging.Level = log.LevelError
	case "silent":
		c.Logging.Level = log.LevelSilent
	default:
		c.Logging.Level = log.LevelInfo
	}
}

func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid base url %q: %w", c.Server.BaseURL, err)
	}
	if c.Server.SubmitURL != "" && !strings.Contains(c.Server.SubmitURL, "{user_key}") {
		return fmt.Errorf("submit url must contain {user_key}")
	}
	if c.Server.TimeoutSec < 1 {
		return fmt.Errorf("server timeout must be at least 1 second")
	}
	if c.Identity.FileName == "" {
		return fmt.Errorf("identity file name is required")
	}

	intervals := map[string]int{
		"arp-scan interval":  c.Workers.ArpScan.IntervalSec,
		"syn-scan interval":  c.Workers.SynScan.IntervalSec,
		"ssdp interval":      c.Workers.SSDP.IntervalSec,
		"arp-spoof interval": c.Workers.ArpSpoof.IntervalSec,
		"upload interval":    c.Workers.Upload.IntervalSec,
	}
	for name, v := range intervals {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1 second", name)
		}
	}

	for _, p := range c.Workers.SynScan.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("syn-scan port %d out of range", p)
		}
	}
	if c.Workers.Capture.SnapLen < 64 {
		return fmt.Errorf("capture snaplen must be at least 64")
	}
	if c.Workers.ArpSpoof.MaxTargets < 1 {
		return fmt.Errorf("arp-spoof max targets must be at least 1")
	}
	return nil
}

// IdentityPath is where the persisted user identity lives.
func (c *Config) IdentityPath() string {
	dir := c.Identity.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, "princeton-iot-inspector")
	}
	return filepath.Join(dir, c.Identity.FileName)
}

// SubmitURLFor expands the submit url template for userKey.
func (c *Config) SubmitURLFor(userKey string) string {
	return strings.ReplaceAll(c.Server.SubmitURL, "{user_key}", url.PathEscape(userKey))
}

func (c *Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSec) * time.Second
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (w WorkersConfig) ArpScanInterval() time.Duration  { return seconds(w.ArpScan.IntervalSec) }
func (w WorkersConfig) SynScanInterval() time.Duration  { return seconds(w.SynScan.IntervalSec) }
func (w WorkersConfig) SSDPInterval() time.Duration     { return seconds(w.SSDP.IntervalSec) }
func (w WorkersConfig) SSDPWait() time.Duration         { return seconds(w.SSDP.WaitSec) }
func (w WorkersConfig) ArpSpoofInterval() time.Duration { return seconds(w.ArpSpoof.IntervalSec) }
func (w WorkersConfig) UploadInterval() time.Duration   { return seconds(w.Upload.IntervalSec) }
