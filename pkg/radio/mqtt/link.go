// Package mqtt provides the radio link through a Meshtastic MQTT gateway.
package mqtt

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"sync"

	"github.com/reticulum-go/meshbridge/pkg/radio"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pb "github.com/meshnet-gophers/meshtastic-go/meshtastic"
	protobuf "google.golang.org/protobuf/proto"
)

// DefaultChannel is the channel id used when the binding does not name one.
const DefaultChannel = "LongFast"

const messagesBuffer = 64

var _ radio.Link = (*Link)(nil)

// Link is an MQTT-based radio link. Outbound payloads are published as
// service envelopes under the gateway's topic; inbound envelopes on the
// bound channel are filtered down to the Reticulum application port.
type Link struct {
	// BrokerURL is the URL of the MQTT broker to connect to.
	BrokerURL string
	// Username is the username for MQTT authentication.
	Username string
	// Password is the password for MQTT authentication.
	Password string
	// AppName is a unique identifier for the application, used in the MQTT client ID.
	AppName string
	// RootTopic is the base topic for all messages.
	RootTopic string
	// GatewayID identifies this node in published envelopes, e.g. "!a1b2c3d4".
	GatewayID string
	// Key optionally decrypts envelopes carrying encrypted packets.
	// Nil means encrypted traffic is skipped.
	Key cipher.Block
	// HopLimit for outbound mesh packets. Zero means one hop.
	HopLimit uint32

	client     mqtt.Client
	messagesCh chan mqtt.Message
	channelID  string
	lock       sync.Mutex
}

// Connect establishes an MQTT connection to the broker and subscribes to
// the bound channel's envelope topics.
func (l *Link) Connect(ctx context.Context, binding radio.ChannelBinding) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.client != nil && l.client.IsConnected() {
		return nil
	}

	l.channelID = binding.Name
	if l.channelID == "" {
		l.channelID = DefaultChannel
	}

	randomId := make([]byte, 4)
	_, _ = rand.Read(randomId)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.BrokerURL)
	opts.SetUsername(l.Username)
	opts.SetPassword(l.Password)
	opts.SetClientID(fmt.Sprintf("%s-%x", l.AppName, randomId))
	opts.SetOrderMatters(false)

	l.client = mqtt.NewClient(opts)

	token := l.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		l.client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", radio.ErrBindUnavailable, err)
	}

	l.messagesCh = make(chan mqtt.Message, messagesBuffer)

	topic := fmt.Sprintf("%s/2/e/%s/#", l.RootTopic, l.channelID)
	token = l.client.Subscribe(topic, 0, l.handleMessage)
	select {
	case <-token.Done():
	case <-ctx.Done():
		l.client.Disconnect(0)
		l.messagesCh = nil
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		l.client.Disconnect(0)
		l.messagesCh = nil
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	return nil
}

// Send publishes one payload as a service envelope on the bound channel.
func (l *Link) Send(ctx context.Context, payload []byte, to radio.Address) error {
	l.lock.Lock()
	client := l.client
	channelID := l.channelID
	l.lock.Unlock()
	if client == nil || !client.IsConnected() {
		return radio.ErrNotBound
	}

	hopLimit := l.HopLimit
	if hopLimit == 0 {
		hopLimit = 1
	}

	envelope := &pb.ServiceEnvelope{
		ChannelId: channelID,
		GatewayId: l.GatewayID,
		Packet: &pb.MeshPacket{
			To:       uint32(to),
			Id:       mrand.Uint32(),
			HopLimit: hopLimit,
			PayloadVariant: &pb.MeshPacket_Decoded{
				Decoded: &pb.Data{
					Portnum: radio.PortReticulumTunnel,
					Payload: payload,
				},
			},
		},
	}

	msgData, err := protobuf.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	topic := fmt.Sprintf("%s/2/e/%s/%s", l.RootTopic, channelID, l.GatewayID)
	token := client.Publish(topic, 0, false, msgData)
	<-token.Done()
	return token.Error()
}

// Receive blocks until the next envelope on the bound channel carrying a
// Reticulum application payload. Encrypted packets are decrypted with the
// configured key, or skipped when no key is set.
func (l *Link) Receive(ctx context.Context) (radio.Inbound, error) {
	l.lock.Lock()
	messagesCh := l.messagesCh
	l.lock.Unlock()
	if messagesCh == nil {
		return radio.Inbound{}, radio.ErrNotBound
	}

	for {
		select {
		case <-ctx.Done():
			return radio.Inbound{}, ctx.Err()
		case msg, ok := <-messagesCh:
			if !ok {
				return radio.Inbound{}, ErrNotConnected
			}

			envelope := new(pb.ServiceEnvelope)
			if err := protobuf.Unmarshal(msg.Payload(), envelope); err != nil {
				return radio.Inbound{}, radio.ErrInvalidPacketFormat
			}

			packet := envelope.GetPacket()
			if packet == nil || envelope.GetGatewayId() == l.GatewayID {
				continue
			}

			data := packet.GetDecoded()
			if data == nil && l.Key != nil && len(packet.GetEncrypted()) > 0 {
				decrypted, err := radio.DecryptPSK(packet, l.Key)
				if err != nil {
					continue
				}
				data = decrypted
			}
			if data == nil || data.GetPortnum() != radio.PortReticulumTunnel {
				continue
			}

			return radio.Inbound{
				Payload: data.GetPayload(),
				Source:  radio.Address(packet.GetFrom()),
			}, nil
		}
	}
}

// Disconnect closes the MQTT connection and the message channel. Idempotent.
func (l *Link) Disconnect() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(1000)
		close(l.messagesCh)
		l.messagesCh = nil
	}
	return nil
}

func (l *Link) handleMessage(_ mqtt.Client, message mqtt.Message) {
	l.messagesCh <- message
}
