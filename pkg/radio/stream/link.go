package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/reticulum-go/meshbridge/pkg/radio"

	pb "github.com/meshnet-gophers/meshtastic-go/meshtastic"
	protobuf "google.golang.org/protobuf/proto"
)

// maxFrameLen is the largest PDU the device client API accepts.
const maxFrameLen = 512

// Dialer opens the underlying byte stream (TCP connection or serial port).
// It is invoked on every connect, so a reconnecting supervisor can reuse
// the same Link after the transport drops.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

var _ radio.Link = (*Link)(nil)

// Link speaks the Meshtastic client API stream framing (0x94 0xc3 magic,
// 16-bit big-endian length, protobuf body) over any byte stream.
type Link struct {
	// Dial opens the transport. Required.
	Dial Dialer
	// HopLimit for outbound mesh packets. Zero means one hop.
	HopLimit uint32

	stream  io.ReadWriteCloser
	port    pb.PortNum
	channel uint32
	nodeNum uint32
	bound   bool
	lock    sync.Mutex
}

// Connect opens the transport and performs the want-config handshake,
// which both proves the device is responsive and yields the channel list
// needed to resolve a named-stream binding.
func (l *Link) Connect(ctx context.Context, binding radio.ChannelBinding) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.bound {
		return nil
	}

	stream, err := l.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", radio.ErrBindUnavailable, err)
	}
	l.stream = stream

	// an unresponsive device must not stall shutdown; cancelling ctx
	// closes the stream and fails the blocked handshake read
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	err = l.bind(binding)
	stop()
	if err != nil {
		_ = stream.Close()
		l.stream = nil
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	l.bound = true
	return nil
}

// bind requests the device configuration and consumes the response stream
// until the config-complete marker, resolving our node number and the
// channel index for the binding along the way.
func (l *Link) bind(binding radio.ChannelBinding) error {
	configId := uint32(rand.Int())
	err := l.writePacket(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_WantConfigId{
			WantConfigId: configId,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to request configuration: %w", err)
	}

	l.port = radio.PortReticulumTunnel
	l.channel = 0
	channelFound := binding.Name == ""

	for {
		buf, err := readBytes(l.stream)
		if err != nil {
			return fmt.Errorf("failed to read configuration: %w", err)
		}
		packet := new(pb.FromRadio)
		if err = protobuf.Unmarshal(buf, packet); err != nil {
			return radio.ErrInvalidPacketFormat
		}

		switch payload := packet.PayloadVariant.(type) {
		case *pb.FromRadio_MyInfo:
			l.nodeNum = payload.MyInfo.GetMyNodeNum()
		case *pb.FromRadio_Channel:
			settings := payload.Channel.GetSettings()
			if binding.Name != "" && settings.GetName() == binding.Name {
				l.channel = uint32(payload.Channel.GetIndex())
				channelFound = true
			}
		case *pb.FromRadio_ConfigCompleteId:
			if payload.ConfigCompleteId != configId {
				continue
			}
			if !channelFound {
				return fmt.Errorf("channel %q is not configured on the device", binding.Name)
			}
			Logger.Debug("Stream link bound", "node", l.nodeNum, "channel", l.channel)
			return nil
		default:
			continue // unexpected payload. ignore it
		}
	}
}

// Send wraps one payload in a mesh packet addressed to the given node and
// writes it to the stream.
func (l *Link) Send(ctx context.Context, payload []byte, to radio.Address) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.bound {
		return radio.ErrNotBound
	}

	hopLimit := l.HopLimit
	if hopLimit == 0 {
		hopLimit = 1
	}

	return l.writePacket(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_Packet{
			Packet: &pb.MeshPacket{
				To:       uint32(to),
				Channel:  l.channel,
				Id:       rand.Uint32(),
				HopLimit: hopLimit,
				WantAck:  false,
				PayloadVariant: &pb.MeshPacket_Decoded{
					Decoded: &pb.Data{
						Portnum: l.port,
						Payload: payload,
					},
				},
			},
		},
	})
}

// Receive blocks until the next mesh packet on the bound port and channel.
// Packets from our own node and traffic for other applications are skipped.
// Receive is single-consumer; Disconnect unblocks it by closing the stream.
func (l *Link) Receive(ctx context.Context) (radio.Inbound, error) {
	l.lock.Lock()
	stream := l.stream
	l.lock.Unlock()
	if stream == nil {
		return radio.Inbound{}, radio.ErrNotBound
	}

	for {
		buf, err := readBytes(stream)
		if err != nil {
			return radio.Inbound{}, err
		}

		packet := new(pb.FromRadio)
		if err = protobuf.Unmarshal(buf, packet); err != nil {
			return radio.Inbound{}, radio.ErrInvalidPacketFormat
		}

		mesh := packet.GetPacket()
		if mesh == nil {
			continue
		}
		data := mesh.GetDecoded()
		if data == nil || data.GetPortnum() != l.port {
			continue
		}
		if mesh.GetChannel() != l.channel || mesh.GetFrom() == l.nodeNum {
			continue
		}

		return radio.Inbound{
			Payload: data.GetPayload(),
			Source:  radio.Address(mesh.GetFrom()),
		}, nil
	}
}

// Disconnect closes the underlying stream. Idempotent.
func (l *Link) Disconnect() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.bound && l.stream == nil {
		return nil
	}
	l.bound = false
	stream := l.stream
	l.stream = nil
	if stream == nil {
		return nil
	}
	return stream.Close()
}

func (l *Link) writePacket(packet *pb.ToRadio) error {
	buf, err := packet.MarshalVT()
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	return l.sendBytes(buf)
}

func (l *Link) sendBytes(data []byte) error {
	if len(data) > maxFrameLen {
		return errors.New("packet too long")
	}

	header := []byte{0x94, 0xc3, 0, 0}
	binary.BigEndian.PutUint16(header[2:4], uint16(len(data)))

	if _, err := l.stream.Write(header); err != nil {
		return err
	}

	_, err := l.stream.Write(data)
	return err
}

// readBytes scans the stream for the next framed PDU, resynchronizing on
// the magic bytes after line noise or a partial frame.
func readBytes(stream io.ReadWriteCloser) ([]byte, error) {
	header := make([]byte, 4)
	for {
		_, err := io.ReadFull(stream, header[:1])
		if err != nil {
			return nil, err
		}
		if header[0] != 0x94 {
			continue
		}

		_, err = io.ReadFull(stream, header[1:2])
		if err != nil {
			return nil, err
		}
		if header[1] != 0xc3 {
			continue
		}

		_, err = io.ReadFull(stream, header[2:])
		if err != nil {
			return nil, err
		}

		pduLen := int(binary.BigEndian.Uint16(header[2:4]))
		if pduLen > maxFrameLen {
			continue
		}

		data := make([]byte, pduLen)
		_, err = io.ReadFull(stream, data)
		return data, err
	}
}
