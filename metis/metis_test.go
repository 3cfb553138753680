package metis

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestParseReply(t *testing.T) {
	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 1024}
	reply := []byte{0xef, 0xfe, 0x03, 0x00, 0x1c, 0xc0, 0xa2, 0x13, 0xdd, 31, 0x01}

	b, err := ParseReply(reply, from)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if b.MAC.String() != "00:1c:c0:a2:13:dd" {
		t.Errorf("mac = %s", b.MAC)
	}
	if b.Name() != "Hermes" || b.Firmware != 31 || !b.Running {
		t.Errorf("board = %+v", b)
	}
	if b.Addr.Port != Port || !b.Addr.IP.Equal(from.IP) {
		t.Errorf("addr = %s", b.Addr)
	}

	// the returned MAC must not alias the read buffer
	reply[3] = 0xff
	if b.MAC[0] != 0x00 {
		t.Error("MAC aliases the input")
	}

	for _, bad := range [][]byte{
		reply[:5],
		{0xef, 0xfe, 0x04, 0, 0, 0, 0, 0, 0, 0, 0},
		{0x00, 0xfe, 0x02, 0, 0, 0, 0, 0, 0, 0, 0},
	} {
		if _, err := ParseReply(bad, from); !errors.Is(err, ErrBadReply) {
			t.Errorf("% x: err = %v", bad, err)
		}
	}
}

func TestBoardName(t *testing.T) {
	if got := (Board{BoardID: 0x06}).Name(); got != "Hermes Lite" {
		t.Errorf("got %q", got)
	}
	if got := (Board{BoardID: 0x33}).Name(); got != "unknown(0x33)" {
		t.Errorf("got %q", got)
	}
}

func TestCommandPackets(t *testing.T) {
	d := discoveryPacket()
	if len(d) != discoveryLen || !bytes.Equal(d[:3], []byte{0xef, 0xfe, 0x02}) {
		t.Errorf("discovery = % x", d[:4])
	}
	start, stop := commandPacket(true), commandPacket(false)
	if len(start) != commandLen || !bytes.Equal(start[:4], []byte{0xef, 0xfe, 0x04, 0x01}) {
		t.Errorf("start = % x", start[:4])
	}
	if !bytes.Equal(stop[:4], []byte{0xef, 0xfe, 0x04, 0x00}) {
		t.Errorf("stop = % x", stop[:4])
	}
}

func TestDirectedBroadcast(t *testing.T) {
	_, n, _ := net.ParseCIDR("10.1.2.3/22")
	n.IP = net.IPv4(10, 1, 2, 3)
	if got := directedBroadcast(n); !got.Equal(net.IPv4(10, 1, 3, 255)) {
		t.Errorf("got %s", got)
	}
	if ip, _ := broadcastAddr(""); !ip.Equal(net.IPv4bcast) {
		t.Errorf("default broadcast = %s", ip)
	}
}

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) ReceiveRxIQ(f []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, bytes.Clone(f))
	s.mu.Unlock()
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// fakeBoard stands in for the hardware on loopback.
func fakeBoard(t *testing.T) (*net.UDPConn, Board) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("no loopback UDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, Board{Addr: conn.LocalAddr().(*net.UDPAddr)}
}

func TestLinkLoopback(t *testing.T) {
	board, b := fakeBoard(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := Dial(ctx, b)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	if err := l.StartStream(); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2048)
	board.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, host, err := board.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("board read: %v", err)
	}
	if n != commandLen || buf[3] != 0x01 {
		t.Errorf("start command = % x", buf[:4])
	}

	if err := l.SendFrame([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if n, _, _ := board.ReadFromUDP(buf); n != 3 || l.Sent.Load() != 1 {
		t.Errorf("frame: %d bytes, sent %d", n, l.Sent.Load())
	}

	sink := &frameSink{}
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, sink) }()
	for i := 0; i < 3; i++ {
		if _, err := board.WriteToUDP([]byte{byte(i), 0xaa}, host); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.count(); got != 3 {
		t.Fatalf("received %d frames, want 3", got)
	}
	if !bytes.Equal(sink.frames[2], []byte{2, 0xaa}) {
		t.Errorf("frame 2 = % x", sink.frames[2])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
