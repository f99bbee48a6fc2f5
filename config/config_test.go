package config

import "testing"

func TestNewConfig_DeepCopy(t *testing.T) {
	cfg1 := NewConfig()
	cfg2 := NewConfig()

	cfg1.Workers.SynScan.Ports = append(cfg1.Workers.SynScan.Ports, 31337)
	cfg1.Workers.SynScan.Ports[0] = 1

	if len(cfg2.Workers.SynScan.Ports) != len(DefaultConfig.Workers.SynScan.Ports) {
		t.Error("SynScan.Ports leaked between instances")
	}
	if DefaultConfig.Workers.SynScan.Ports[0] == 1 {
		t.Error("DefaultConfig was mutated through a copy")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.NoSpoofing {
		t.Error("spoofing must be on unless --no_spoofing is given")
	}
	if !cfg.Session.Persistent {
		t.Error("persistent mode should be the default")
	}
}
