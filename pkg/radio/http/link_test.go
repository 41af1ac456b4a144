package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/reticulum-go/meshbridge/pkg/radio"

	pb "github.com/meshnet-gophers/meshtastic-go/meshtastic"
	protobuf "google.golang.org/protobuf/proto"
)

// fakeDevice serves the two device API endpoints: toradio records sent
// packets, fromradio drains a queue of responses.
type fakeDevice struct {
	mu      sync.Mutex
	sent    [][]byte
	inbound [][]byte
}

func (d *fakeDevice) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/toradio", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		d.mu.Lock()
		d.sent = append(d.sent, body)
		d.mu.Unlock()
	})
	mux.HandleFunc("GET /api/v1/fromradio", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.inbound) == 0 {
			return
		}
		body := d.inbound[0]
		d.inbound = d.inbound[1:]
		_, _ = w.Write(body)
	})
	return mux
}

func (d *fakeDevice) queue(t *testing.T, msg *pb.FromRadio) {
	t.Helper()
	body, err := protobuf.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d.mu.Lock()
	d.inbound = append(d.inbound, body)
	d.mu.Unlock()
}

func (d *fakeDevice) sentBodies() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}

func TestLinkSendReceive(t *testing.T) {
	device := &fakeDevice{}
	server := httptest.NewServer(device.handler())
	t.Cleanup(server.Close)

	link := &Link{URL: server.URL, PollInterval: 5 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := link.Connect(ctx, radio.PrivateApp()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := link.Send(ctx, []byte("HELLO"), radio.Broadcast); err != nil {
		t.Fatalf("Send: %v", err)
	}
	bodies := device.sentBodies()
	if len(bodies) != 1 {
		t.Fatalf("device received %d packets, want 1", len(bodies))
	}
	var toRadio pb.ToRadio
	if err := protobuf.Unmarshal(bodies[0], &toRadio); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	packet := toRadio.GetPacket()
	if packet.GetTo() != uint32(radio.Broadcast) {
		t.Errorf("packet to = %08x, want broadcast", packet.GetTo())
	}
	data := packet.GetDecoded()
	if data.GetPortnum() != radio.PortReticulumTunnel || string(data.GetPayload()) != "HELLO" {
		t.Errorf("packet data = %v %q", data.GetPortnum(), data.GetPayload())
	}

	device.queue(t, &pb.FromRadio{
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

	in, err := link.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(in.Payload) != "WORLD" || in.Source != 7 {
		t.Errorf("received %q from %v, want WORLD from 7", in.Payload, in.Source)
	}
}

func TestLinkDisconnectUnbinds(t *testing.T) {
	device := &fakeDevice{}
	server := httptest.NewServer(device.handler())
	t.Cleanup(server.Close)

	link := &Link{URL: server.URL}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := link.Connect(ctx, radio.PrivateApp()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := link.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if err := link.Send(ctx, []byte("late"), radio.Broadcast); err != radio.ErrNotBound {
		t.Errorf("Send after disconnect = %v, want ErrNotBound", err)
	}
	if _, err := link.Receive(ctx); err != radio.ErrNotBound {
		t.Errorf("Receive after disconnect = %v, want ErrNotBound", err)
	}
}

func TestLinkRejectsNamedStream(t *testing.T) {
	link := &Link{URL: "http://localhost"}
	if err := link.Connect(context.Background(), radio.NamedStream("RNS")); err == nil {
		t.Error("Connect accepted a named-stream binding over HTTP")
	}
}
