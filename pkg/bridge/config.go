package bridge

import (
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the bridge's full runtime configuration, loaded from the
// environment with flag overrides applied by the caller.
type Config struct {
	// ListenAddr is the TCP endpoint the session accepts on.
	ListenAddr string `env:"MESHBRIDGE_LISTEN" envDefault:"127.0.0.1:45832"`
	// AllowNonLoopback must be set explicitly to bind anything other than
	// a loopback interface.
	AllowNonLoopback bool `env:"MESHBRIDGE_ALLOW_NON_LOOPBACK"`

	// Device selects the radio: serial:/dev/ttyUSB0, tcp://host:4403,
	// mqtt://broker:1883 or http://device.
	Device string `env:"MESHBRIDGE_DEVICE" envDefault:"tcp://localhost:4403"`

	// MTU is the radio path budget per frame.
	MTU int `env:"MESHBRIDGE_MTU" envDefault:"180"`
	// SpeedCode indexes the speed profile table for send pacing.
	SpeedCode int `env:"MESHBRIDGE_SPEED" envDefault:"8"`
	// Channel names the broadcast stream to bind; empty binds the
	// reserved application channel.
	Channel string `env:"MESHBRIDGE_CHANNEL"`
	// HopLimit for outbound mesh packets.
	HopLimit uint32 `env:"MESHBRIDGE_HOP_LIMIT" envDefault:"1"`

	// AddressMode is "broadcast" or "unicast"; unicast requires Gateway.
	AddressMode string `env:"MESHBRIDGE_ADDRESS_MODE" envDefault:"broadcast"`
	// Gateway is the unicast destination node number.
	Gateway uint32 `env:"MESHBRIDGE_GATEWAY"`

	// AuthToken enables the socket nonce-challenge handshake when non-empty.
	AuthToken string `env:"MESHBRIDGE_AUTH_TOKEN"`

	// QueueSize bounds the send buffer held across reconnects.
	QueueSize int `env:"MESHBRIDGE_QUEUE_SIZE" envDefault:"64"`
	// StalenessWindow is the silence period after which a bound link is
	// considered degraded.
	StalenessWindow time.Duration `env:"MESHBRIDGE_STALENESS_WINDOW" envDefault:"90s"`
	// BackoffMin and BackoffMax bound the reconnect delay.
	BackoffMin time.Duration `env:"MESHBRIDGE_BACKOFF_MIN" envDefault:"1s"`
	BackoffMax time.Duration `env:"MESHBRIDGE_BACKOFF_MAX" envDefault:"60s"`

	// MQTT credentials, used only by the mqtt device scheme.
	MQTTUsername  string `env:"MESHBRIDGE_MQTT_USERNAME"`
	MQTTPassword  string `env:"MESHBRIDGE_MQTT_PASSWORD"`
	MQTTRootTopic string `env:"MESHBRIDGE_MQTT_ROOT_TOPIC" envDefault:"msh"`
	MQTTGatewayID string `env:"MESHBRIDGE_MQTT_GATEWAY_ID"`
	MQTTKey       string `env:"MESHBRIDGE_MQTT_KEY"`
}

// LoadConfig reads configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate fails fast on configuration the bridge would otherwise mishandle
// at runtime, unknown speed codes in particular.
func (c Config) Validate() error {
	if _, err := DelayFor(c.SpeedCode); err != nil {
		return fmt.Errorf("speed code %d: %w", c.SpeedCode, err)
	}

	switch c.AddressMode {
	case "broadcast":
	case "unicast":
		if c.Gateway == 0 {
			return fmt.Errorf("address mode unicast requires a gateway node")
		}
	default:
		return fmt.Errorf("unknown address mode %q", c.AddressMode)
	}

	if c.MTU <= fragmentMetaSize {
		return fmt.Errorf("mtu %d is too small", c.MTU)
	}

	host, _, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen address %q: %w", c.ListenAddr, err)
	}
	if !c.AllowNonLoopback {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("listen address %q is not loopback; set MESHBRIDGE_ALLOW_NON_LOOPBACK to expose the bridge", c.ListenAddr)
		}
	}

	return nil
}
