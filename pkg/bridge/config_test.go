package bridge

import (
	"errors"
	"testing"
)

func validConfig() Config {
	return Config{
		ListenAddr:  "127.0.0.1:45832",
		Device:      "tcp://localhost:4403",
		MTU:         180,
		SpeedCode:   8,
		AddressMode: "broadcast",
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.MTU != 180 || cfg.SpeedCode != 8 || cfg.QueueSize != 64 {
		t.Errorf("unexpected defaults: mtu=%d speed=%d queue=%d", cfg.MTU, cfg.SpeedCode, cfg.QueueSize)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "unknown speed code",
			mutate:  func(c *Config) { c.SpeedCode = 2 },
			wantErr: true,
		},
		{
			name:    "unicast without gateway",
			mutate:  func(c *Config) { c.AddressMode = "unicast" },
			wantErr: true,
		},
		{
			name: "unicast with gateway",
			mutate: func(c *Config) {
				c.AddressMode = "unicast"
				c.Gateway = 42
			},
		},
		{
			name:    "bad address mode",
			mutate:  func(c *Config) { c.AddressMode = "anycast" },
			wantErr: true,
		},
		{
			name:    "mtu too small",
			mutate:  func(c *Config) { c.MTU = 2 },
			wantErr: true,
		},
		{
			name:    "non-loopback listen",
			mutate:  func(c *Config) { c.ListenAddr = "0.0.0.0:45832" },
			wantErr: true,
		},
		{
			name: "non-loopback with opt-in",
			mutate: func(c *Config) {
				c.ListenAddr = "0.0.0.0:45832"
				c.AllowNonLoopback = true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestConfigValidateUnknownSpeedSentinel(t *testing.T) {
	cfg := validConfig()
	cfg.SpeedCode = 99
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownSpeedProfile) {
		t.Errorf("err = %v, want ErrUnknownSpeedProfile", err)
	}
}
