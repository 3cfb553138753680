package metis

import (
	"context"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

const (
	socketBuffer = 1 << 20
	batchSize    = 16
	pollInterval = 250 * time.Millisecond
)

// Receiver consumes inbound frames. *proxy.Proxy satisfies it.
type Receiver interface {
	ReceiveRxIQ(frame []byte)
}

// Link is the UDP socket shared by both directions of one board.
type Link struct {
	board Board
	conn  *net.UDPConn
	pc    *ipv4.PacketConn

	Sent    atomic.Uint64
	Dropped atomic.Uint64 // datagrams from hosts other than the board
}

func listenUDP(ctx context.Context, addr string, broadcast bool) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, socketBuffer); err != nil {
					sockErr = errors.Wrap(err, "set SO_RCVBUF")
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, socketBuffer); err != nil {
					sockErr = errors.Wrap(err, "set SO_SNDBUF")
					return
				}
				if broadcast {
					if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
						sockErr = errors.Wrap(err, "set SO_BROADCAST")
					}
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	return conn.(*net.UDPConn), nil
}

// Dial opens the frame socket for board. Nothing is sent until StartStream.
func Dial(ctx context.Context, board Board) (*Link, error) {
	conn, err := listenUDP(ctx, ":0", false)
	if err != nil {
		return nil, err
	}
	log.Debugf("Frame socket %s for %s", conn.LocalAddr(), board.Addr)
	return &Link{
		board: board,
		conn:  conn,
		pc:    ipv4.NewPacketConn(conn),
	}, nil
}

func (l *Link) Board() Board { return l.board }

func (l *Link) SendFrame(frame []byte) error {
	if _, err := l.conn.WriteToUDP(frame, l.board.Addr); err != nil {
		return errors.Wrap(err, "send frame")
	}
	l.Sent.Add(1)
	return nil
}

func (l *Link) StartStream() error {
	log.Debugf("Starting stream on %s", l.board.Addr)
	_, err := l.conn.WriteToUDP(commandPacket(true), l.board.Addr)
	return errors.Wrap(err, "send start command")
}

func (l *Link) StopStream() error {
	log.Debugf("Stopping stream on %s", l.board.Addr)
	_, err := l.conn.WriteToUDP(commandPacket(false), l.board.Addr)
	return errors.Wrap(err, "send stop command")
}

// Run reads datagrams in batches and hands those from the board to rx until
// ctx is done or the socket is closed.
func (l *Link) Run(ctx context.Context, rx Receiver) error {
	msgs := make([]ipv4.Message, batchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, maxDatagramLen)}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := l.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return errors.Wrap(err, "set deadline")
		}
		n, err := l.pc.ReadBatch(msgs, 0)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "read batch")
		}
		for _, m := range msgs[:n] {
			from, ok := m.Addr.(*net.UDPAddr)
			if !ok || !from.IP.Equal(l.board.Addr.IP) {
				l.Dropped.Add(1)
				continue
			}
			rx.ReceiveRxIQ(m.Buffers[0][:m.N])
		}
	}
}

func (l *Link) Close() error {
	return errors.Wrap(l.conn.Close(), "close frame socket")
}
