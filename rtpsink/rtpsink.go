// Package rtpsink is a pipeline-side consumer that forwards completed Rx
// blocks as RTP, one stream per receiver.
package rtpsink

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/proxy"
	"github.com/pion/rtp"
)

const defaultTick = 5 * time.Millisecond

// Source hands out completed Rx blocks. *proxy.Proxy satisfies it.
type Source interface {
	GetRxIQ() (*proxy.RxBlock, bool)
}

type Sink struct {
	w           io.Writer
	ssrc        uint32
	payloadType uint8
	tick        time.Duration

	seq     [config.MaxReceivers]uint16
	ts      [config.MaxReceivers]uint32
	payload []byte

	// Tap, if set, sees every block before it is sent.
	Tap func(blk *proxy.RxBlock)

	Packets atomic.Uint64
	Blocks  atomic.Uint64
}

func New(conf config.SinkConf, w io.Writer) *Sink {
	tick := time.Duration(conf.TickMs) * time.Millisecond
	if tick <= 0 {
		tick = defaultTick
	}
	return &Sink{
		w:           w,
		ssrc:        conf.SSRC,
		payloadType: conf.PayloadType,
		tick:        tick,
	}
}

// Dial connects a UDP socket to conf.Destination.
func Dial(conf config.SinkConf) (*Sink, net.Conn, error) {
	conn, err := net.Dial("udp", conf.Destination)
	if err != nil {
		return nil, nil, fmt.Errorf("could not dial rtp destination %s: %w", conf.Destination, err)
	}
	return New(conf, conn), conn, nil
}

// Drain forwards every ready block and returns how many it sent.
func (s *Sink) Drain(src Source) (int, error) {
	n := 0
	for {
		blk, ok := src.GetRxIQ()
		if !ok {
			return n, nil
		}
		if s.Tap != nil {
			s.Tap(blk)
		}
		if err := s.WriteBlock(blk); err != nil {
			return n, err
		}
		n++
	}
}

// WriteBlock sends one packet per receiver. The payload is big-endian
// float32 I/Q pairs and the timestamp advances by rows.
func (s *Sink) WriteBlock(blk *proxy.RxBlock) error {
	size := blk.Rows * 8
	if cap(s.payload) < size {
		s.payload = make([]byte, size)
	}
	buf := s.payload[:size]

	for rx := 0; rx < blk.Receivers; rx++ {
		for row := 0; row < blk.Rows; row++ {
			iq := blk.IQ(rx, row)
			binary.BigEndian.PutUint32(buf[row*8:], math.Float32bits(real(iq)))
			binary.BigEndian.PutUint32(buf[row*8+4:], math.Float32bits(imag(iq)))
		}
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    s.payloadType,
				SequenceNumber: s.seq[rx],
				Timestamp:      s.ts[rx],
				SSRC:           s.ssrc + uint32(rx),
			},
			Payload: buf,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("could not marshal rtp packet: %w", err)
		}
		if _, err := s.w.Write(raw); err != nil {
			return fmt.Errorf("could not write rtp packet: %w", err)
		}
		s.seq[rx]++
		s.ts[rx] += uint32(blk.Rows)
		s.Packets.Add(1)
	}
	s.Blocks.Add(1)
	return nil
}

// Run drains src on every tick until ctx is done.
func (s *Sink) Run(ctx context.Context, src Source) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Drain(src); err != nil {
				log.Warnf("RTP sink: %v", err)
			}
		}
	}
}
