package stream

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/reticulum-go/meshbridge/pkg/radio"

	pb "github.com/meshnet-gophers/meshtastic-go/meshtastic"
	protobuf "google.golang.org/protobuf/proto"
)

func writeFramed(t *testing.T, w io.Writer, msg protobuf.Message) {
	t.Helper()
	data, err := protobuf.Marshal(msg)
	if err != nil {
		t.Errorf("marshal: %v", err)
		return
	}
	header := []byte{0x94, 0xc3, 0, 0}
	binary.BigEndian.PutUint16(header[2:4], uint16(len(data)))
	if _, err = w.Write(append(header, data...)); err != nil {
		t.Errorf("write: %v", err)
	}
}

func readFramed(t *testing.T, r io.Reader, msg protobuf.Message) {
	t.Helper()
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		t.Errorf("read header: %v", err)
		return
	}
	data := make([]byte, binary.BigEndian.Uint16(header[2:4]))
	if _, err := io.ReadFull(r, data); err != nil {
		t.Errorf("read body: %v", err)
		return
	}
	if err := protobuf.Unmarshal(data, msg); err != nil {
		t.Errorf("unmarshal: %v", err)
	}
}

// fakeDevice answers the want-config handshake on the device side of the
// pipe and returns once the link is bound.
func fakeDevice(t *testing.T, conn net.Conn, channelName string) {
	t.Helper()

	var toRadio pb.ToRadio
	readFramed(t, conn, &toRadio)
	configId := toRadio.GetWantConfigId()
	if configId == 0 {
		t.Error("device expected a want_config_id request first")
		return
	}

	writeFramed(t, conn, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_MyInfo{
			MyInfo: &pb.MyNodeInfo{MyNodeNum: 99},
		},
	})
	if channelName != "" {
		writeFramed(t, conn, &pb.FromRadio{
			PayloadVariant: &pb.FromRadio_Channel{
				Channel: &pb.Channel{
					Index:    1,
					Settings: &pb.ChannelSettings{Name: channelName},
				},
			},
		})
	}
	writeFramed(t, conn, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_ConfigCompleteId{ConfigCompleteId: configId},
	})
}

func connectedLink(t *testing.T, binding radio.ChannelBinding, channelName string) (*Link, net.Conn) {
	t.Helper()

	deviceSide, linkSide := net.Pipe()
	t.Cleanup(func() {
		deviceSide.Close()
		linkSide.Close()
	})

	link := &Link{
		Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return linkSide, nil
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeDevice(t, deviceSide, channelName)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := link.Connect(ctx, binding); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-done
	return link, deviceSide
}

func TestLinkSend(t *testing.T) {
	link, device := connectedLink(t, radio.PrivateApp(), "")

	go func() {
		if err := link.Send(context.Background(), []byte("HELLO"), radio.Broadcast); err != nil {
			t.Errorf("Send: %v", err)
		}
	}()

	var toRadio pb.ToRadio
	readFramed(t, device, &toRadio)
	packet := toRadio.GetPacket()
	if packet == nil {
		t.Fatal("device did not receive a mesh packet")
	}
	if packet.GetTo() != uint32(radio.Broadcast) {
		t.Errorf("packet to = %08x, want broadcast", packet.GetTo())
	}
	data := packet.GetDecoded()
	if data.GetPortnum() != radio.PortReticulumTunnel {
		t.Errorf("portnum = %v", data.GetPortnum())
	}
	if string(data.GetPayload()) != "HELLO" {
		t.Errorf("payload = %q, want HELLO", data.GetPayload())
	}
}

func TestLinkReceiveFilters(t *testing.T) {
	link, device := connectedLink(t, radio.PrivateApp(), "")

	go func() {
		// wrong port: skipped
		writeFramed(t, device, &pb.FromRadio{
			PayloadVariant: &pb.FromRadio_Packet{
				Packet: &pb.MeshPacket{
					From: 7,
					PayloadVariant: &pb.MeshPacket_Decoded{
						Decoded: &pb.Data{
							Portnum: pb.PortNum_TEXT_MESSAGE_APP,
							Payload: []byte("chatter"),
						},
					},
				},
			},
		})
		// own traffic echoed back: skipped
		writeFramed(t, device, &pb.FromRadio{
			PayloadVariant: &pb.FromRadio_Packet{
				Packet: &pb.MeshPacket{
					From: 99,
					PayloadVariant: &pb.MeshPacket_Decoded{
						Decoded: &pb.Data{
							Portnum: radio.PortReticulumTunnel,
							Payload: []byte("echo"),
						},
					},
				},
			},
		})
		// the real one
		writeFramed(t, device, &pb.FromRadio{
			PayloadVariant: &pb.FromRadio_Packet{
				Packet: &pb.MeshPacket{
					From: 7,
					PayloadVariant: &pb.MeshPacket_Decoded{
						Decoded: &pb.Data{
							Portnum: radio.PortReticulumTunnel,
							Payload: []byte("WORLD"),
						},
					},
				},
			},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in, err := link.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(in.Payload) != "WORLD" || in.Source != 7 {
		t.Errorf("received %q from %v, want WORLD from 7", in.Payload, in.Source)
	}
}

func TestLinkResyncsAfterGarbage(t *testing.T) {
	link, device := connectedLink(t, radio.PrivateApp(), "")

	go func() {
		if _, err := device.Write([]byte{0x00, 0x42, 0x94, 0x00, 0xff}); err != nil {
			t.Errorf("write garbage: %v", err)
			return
		}
		writeFramed(t, device, &pb.FromRadio{
			PayloadVariant: &pb.FromRadio_Packet{
				Packet: &pb.MeshPacket{
					From: 7,
					PayloadVariant: &pb.MeshPacket_Decoded{
						Decoded: &pb.Data{
							Portnum: radio.PortReticulumTunnel,
							Payload: []byte("clean"),
						},
					},
				},
			},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in, err := link.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(in.Payload) != "clean" {
		t.Errorf("received %q, want clean", in.Payload)
	}
}

func TestLinkNamedStreamBinding(t *testing.T) {
	link, device := connectedLink(t, radio.NamedStream("RNS"), "RNS")

	go func() {
		// primary channel traffic is filtered when bound to channel 1
		writeFramed(t, device, &pb.FromRadio{
			PayloadVariant: &pb.FromRadio_Packet{
				Packet: &pb.MeshPacket{
					From:    7,
					Channel: 0,
					PayloadVariant: &pb.MeshPacket_Decoded{
						Decoded: &pb.Data{
							Portnum: radio.PortReticulumTunnel,
							Payload: []byte("wrong channel"),
						},
					},
				},
			},
		})
		writeFramed(t, device, &pb.FromRadio{
			PayloadVariant: &pb.FromRadio_Packet{
				Packet: &pb.MeshPacket{
					From:    7,
					Channel: 1,
					PayloadVariant: &pb.MeshPacket_Decoded{
						Decoded: &pb.Data{
							Portnum: radio.PortReticulumTunnel,
							Payload: []byte("stream"),
						},
					},
				},
			},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in, err := link.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(in.Payload) != "stream" {
		t.Errorf("received %q, want stream", in.Payload)
	}
}

func TestLinkNamedStreamMissingChannel(t *testing.T) {
	deviceSide, linkSide := net.Pipe()
	t.Cleanup(func() {
		deviceSide.Close()
		linkSide.Close()
	})

	link := &Link{
		Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return linkSide, nil
		},
	}

	go fakeDevice(t, deviceSide, "") // no channels configured

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := link.Connect(ctx, radio.NamedStream("RNS")); err == nil {
		t.Error("Connect succeeded despite the missing channel")
	}
}

func TestLinkConnectUnresponsiveDevice(t *testing.T) {
	deviceSide, linkSide := net.Pipe()
	t.Cleanup(func() {
		deviceSide.Close()
		linkSide.Close()
	})

	link := &Link{
		Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return linkSide, nil
		},
	}

	// the device consumes the config request but never answers
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := deviceSide.Read(buf); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- link.Connect(ctx, radio.PrivateApp()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Connect succeeded without a config response")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return after the context expired")
	}
}

func TestLinkSendNotBound(t *testing.T) {
	link := &Link{}
	err := link.Send(context.Background(), []byte("payload"), radio.Broadcast)
	if err != radio.ErrNotBound {
		t.Errorf("err = %v, want ErrNotBound", err)
	}
}
