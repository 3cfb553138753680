// Package metis talks to a Hermes-class board over UDP: discovery, stream
// start/stop commands, and the frame socket used by the proxy.
package metis

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/hermesproxy/wire"
	"github.com/pkg/errors"
)

// Port is where the board listens for discovery, commands and EP2 frames.
const Port = 1024

const (
	discoveryLen = 63
	commandLen   = 64
	replyLen     = 11

	statusIdle    = 0x02
	statusRunning = 0x03
	cmdStream     = 0x04

	scanWindow     = 500 * time.Millisecond
	discoverTries  = 5
	maxDatagramLen = 1500
)

var (
	ErrNoBoard  = errors.New("metis: no matching board answered")
	ErrBadReply = errors.New("metis: malformed discovery reply")
)

var boardNames = map[uint8]string{
	0x00: "Metis",
	0x01: "Hermes",
	0x02: "Griffin",
	0x04: "Angelia",
	0x05: "Orion",
	0x06: "Hermes Lite",
	0x0a: "Orion MkII",
}

type Board struct {
	Addr     *net.UDPAddr
	MAC      net.HardwareAddr
	Firmware uint8
	BoardID  uint8
	Running  bool // already streaming to another host
}

func (b Board) Name() string {
	if n, ok := boardNames[b.BoardID]; ok {
		return n
	}
	return fmt.Sprintf("unknown(0x%02x)", b.BoardID)
}

func (b Board) String() string {
	return fmt.Sprintf("%s %s at %s fw %d.%d", b.Name(), b.MAC, b.Addr, b.Firmware/10, b.Firmware%10)
}

func discoveryPacket() []byte {
	p := make([]byte, discoveryLen)
	p[0], p[1], p[2] = wire.MagicHi, wire.MagicLo, statusIdle
	return p
}

func commandPacket(start bool) []byte {
	p := make([]byte, commandLen)
	p[0], p[1], p[2] = wire.MagicHi, wire.MagicLo, cmdStream
	if start {
		p[3] = 0x01
	}
	return p
}

// ParseReply decodes one discovery reply. from is the sender.
func ParseReply(b []byte, from *net.UDPAddr) (Board, error) {
	if len(b) < replyLen {
		return Board{}, errors.Wrapf(ErrBadReply, "%d bytes", len(b))
	}
	if b[0] != wire.MagicHi || b[1] != wire.MagicLo || (b[2] != statusIdle && b[2] != statusRunning) {
		return Board{}, errors.Wrapf(ErrBadReply, "header % x", b[:3])
	}
	return Board{
		Addr:     &net.UDPAddr{IP: from.IP, Port: Port},
		MAC:      net.HardwareAddr(bytes.Clone(b[3:9])),
		Firmware: b[9],
		BoardID:  b[10],
		Running:  b[2] == statusRunning,
	}, nil
}

// directedBroadcast returns the broadcast address of an IPv4 network.
func directedBroadcast(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}

func broadcastAddr(iface string) (net.IP, error) {
	if iface == "" {
		return net.IPv4bcast, nil
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s", iface)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, errors.Wrapf(err, "addresses of %s", iface)
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && n.IP.To4() != nil {
			return directedBroadcast(n), nil
		}
	}
	return nil, errors.Errorf("interface %s has no IPv4 address", iface)
}

// Scan broadcasts one discovery request and collects replies for window.
func Scan(ctx context.Context, iface string, window time.Duration) ([]Board, error) {
	bcast, err := broadcastAddr(iface)
	if err != nil {
		return nil, err
	}
	conn, err := listenUDP(ctx, ":0", true)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "set deadline")
	}
	if _, err := conn.WriteToUDP(discoveryPacket(), &net.UDPAddr{IP: bcast, Port: Port}); err != nil {
		return nil, errors.Wrap(err, "send discovery")
	}
	log.Debugf("Sent discovery to %s:%d", bcast, Port)

	var boards []Board
	seen := map[string]bool{}
	buf := make([]byte, maxDatagramLen)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return boards, nil
			}
			return boards, errors.Wrap(err, "read discovery reply")
		}
		b, err := ParseReply(buf[:n], from)
		if err != nil {
			log.Debugf("Ignoring reply from %s: %v", from, err)
			continue
		}
		if seen[b.MAC.String()] {
			continue
		}
		seen[b.MAC.String()] = true
		log.Debugf("Found %s", b)
		boards = append(boards, b)
	}
}

// Discover scans until a board answers, retrying with exponential backoff.
// A nil mac accepts the first board found.
func Discover(ctx context.Context, iface string, mac net.HardwareAddr) (Board, error) {
	var found Board
	op := func() error {
		boards, err := Scan(ctx, iface, scanWindow)
		if err != nil {
			return err
		}
		for _, b := range boards {
			if mac == nil || bytes.Equal(b.MAC, mac) {
				found = b
				return nil
			}
		}
		log.Debugf("Discovery round found %d boards, none matching", len(boards))
		return ErrNoBoard
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), discoverTries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return Board{}, errors.Wrap(err, "discovery failed")
	}
	if found.Running {
		log.Warnf("%s is already streaming to another host", found)
	}
	return found, nil
}

// LogAllBoards logs every board that answers on iface.
func LogAllBoards(ctx context.Context, iface string) error {
	boards, err := Scan(ctx, iface, 2*scanWindow)
	if err != nil {
		return err
	}
	log.Infof("Found %d boards", len(boards))
	for _, b := range boards {
		log.Infof("Board: %s", b.Name())
		log.Infof("\t- MAC: %s", b.MAC)
		log.Infof("\t- Address: %s", b.Addr.IP)
		log.Infof("\t- Firmware: %d.%d", b.Firmware/10, b.Firmware%10)
		log.Infof("\t- Streaming: %v", b.Running)
	}
	return nil
}
