package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os/signal"
	"strings"
	"syscall"

	intlog "github.com/reticulum-go/meshbridge/internal/log"
	"github.com/reticulum-go/meshbridge/pkg/bridge"
	"github.com/reticulum-go/meshbridge/pkg/radio"
	radiohttp "github.com/reticulum-go/meshbridge/pkg/radio/http"
	"github.com/reticulum-go/meshbridge/pkg/radio/mqtt"
	"github.com/reticulum-go/meshbridge/pkg/radio/serial"
	"github.com/reticulum-go/meshbridge/pkg/radio/stream"
	"github.com/reticulum-go/meshbridge/pkg/radio/tcp"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := bridge.LoadConfig()
	if err != nil {
		log.Fatalln("Invalid configuration:", err)
	}

	// flags override the environment
	deviceURLStr := flag.String("device", cfg.Device, "Device URL (supported schema: serial, tcp, mqtt, http)")
	listenAddr := flag.String("listen", cfg.ListenAddr, "Local bridge socket address")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()
	cfg.Device = *deviceURLStr
	cfg.ListenAddr = *listenAddr
	if err := cfg.Validate(); err != nil {
		log.Fatalln("Invalid configuration:", err)
	}

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		stream.Logger = intlog.Slog(slog.Default())
	}

	link, err := buildLink(cfg)
	if err != nil {
		log.Fatalln("Failed to set up radio link:", err)
	}

	delay, err := bridge.DelayFor(cfg.SpeedCode)
	if err != nil {
		log.Fatalln("Invalid speed code:", err)
	}
	preset, _ := bridge.PresetFor(cfg.SpeedCode)
	slog.Info("Send pacing configured", "speed", cfg.SpeedCode, "preset", preset, "delay", delay)

	binding := radio.PrivateApp()
	if cfg.Channel != "" {
		binding = radio.NamedStream(cfg.Channel)
	}

	supervisor := bridge.NewSupervisor(link, bridge.SupervisorOptions{
		Binding:    binding,
		SendDelay:  delay,
		BackoffMin: cfg.BackoffMin,
		BackoffMax: cfg.BackoffMax,
		Staleness:  cfg.StalenessWindow,
		QueueSize:  cfg.QueueSize,
	})
	supervisor.OnStateChange(func(state radio.ConnectionState) {
		slog.Info("Radio link state changed", "state", state)
	})

	policy := bridge.NewAddressPolicy()
	if cfg.AddressMode == "unicast" {
		policy.SetUnicast(radio.Address(cfg.Gateway))
	}

	session := bridge.NewSession(policy, supervisor)
	session.ListenAddr = cfg.ListenAddr
	session.AuthToken = cfg.AuthToken
	session.MTU = cfg.MTU

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return supervisor.Run(ctx) })
	group.Go(func() error { return session.Run(ctx) })

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalln("Bridge failed:", err)
	}
	slog.Info("Bridge stopped")
}

// buildLink selects the radio link variant from the device URL scheme.
func buildLink(cfg bridge.Config) (radio.Link, error) {
	deviceURL, err := url.Parse(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("device URL is not valid: %w", err)
	}

	switch deviceURL.Scheme {
	case "serial":
		return withHopLimit(serial.NewLink(deviceURL.Opaque+deviceURL.Path), cfg.HopLimit), nil
	case "tcp":
		return withHopLimit(tcp.NewLink(deviceURL.Host), cfg.HopLimit), nil
	case "mqtt", "mqtts":
		link := &mqtt.Link{
			BrokerURL: cfg.Device,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			AppName:   "meshbridge",
			RootTopic: cfg.MQTTRootTopic,
			GatewayID: cfg.MQTTGatewayID,
			HopLimit:  cfg.HopLimit,
		}
		if cfg.MQTTKey != "" {
			key, err := radio.DecodeCipherKeyBase64(cfg.MQTTKey)
			if err != nil {
				return nil, fmt.Errorf("MQTT channel key: %w", err)
			}
			link.Key = key
		}
		return link, nil
	case "http", "https":
		return &radiohttp.Link{URL: strings.TrimSuffix(cfg.Device, "/"), HopLimit: cfg.HopLimit}, nil
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", deviceURL.Scheme)
	}
}

func withHopLimit(link *stream.Link, hopLimit uint32) *stream.Link {
	link.HopLimit = hopLimit
	return link
}
