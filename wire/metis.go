// Package wire holds the openHPSDR Protocol 1 frame layout: the 8-byte
// Metis header followed by two 512-byte USB frames, each starting with a
// 7F 7F 7F sync marker and five control/status bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type Endpoint byte

const (
	EP2 Endpoint = 0x02 // host to board: control + Tx IQ
	EP4 Endpoint = 0x04 // board to host: bandscope
	EP6 Endpoint = 0x06 // board to host: Rx IQ + status
)

const (
	MagicHi byte = 0xEF
	MagicLo byte = 0xFE
	FrameID byte = 0x01

	Sync byte = 0x7F

	MetisHeaderSize = 8
	USBFrameSize    = 512
	USBHeaderSize   = 8
	USBPayloadSize  = USBFrameSize - USBHeaderSize
	FramesPerPacket = 2
	MetisFrameSize  = MetisHeaderSize + FramesPerPacket*USBFrameSize

	// TxSamplesPerFrame is the number of L/R/I/Q rows in one outbound USB frame.
	TxSamplesPerFrame = USBPayloadSize / 8

	MaxReceivers = 8
)

// USBRowCount is the number of sample rows in one inbound USB frame, indexed
// by receiver count minus one. A row is N x (I24, Q24) followed by a 16-bit
// microphone sample.
var USBRowCount = [MaxReceivers]int{63, 36, 25, 19, 15, 13, 11, 10}

// RowSize returns the bytes per inbound row for n receivers.
func RowSize(n int) int { return 6*n + 2 }

var (
	ErrShortFrame = errors.New("wire: frame length")
	ErrBadMagic   = errors.New("wire: bad metis header")
	ErrBadSync    = errors.New("wire: bad sync marker")
	ErrEndpoint   = errors.New("wire: unexpected endpoint")
)

// Packet is a validated inbound Metis frame. Frames alias the input buffer.
type Packet struct {
	Endpoint Endpoint
	Sequence uint32
	Frames   [FramesPerPacket][]byte
}

// ParseMetis validates header and both sync markers before anything else is
// looked at, so a corrupt frame is never partially processed.
func ParseMetis(b []byte) (Packet, error) {
	var p Packet
	if len(b) != MetisFrameSize {
		return p, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if b[0] != MagicHi || b[1] != MagicLo || b[2] != FrameID {
		return p, fmt.Errorf("%w: % x", ErrBadMagic, b[:3])
	}
	p.Endpoint = Endpoint(b[3])
	p.Sequence = binary.BigEndian.Uint32(b[4:8])
	for i := range p.Frames {
		off := MetisHeaderSize + i*USBFrameSize
		f := b[off : off+USBFrameSize]
		if p.Endpoint == EP6 && !HasSync(f) {
			return p, fmt.Errorf("%w: usb frame %d: % x", ErrBadSync, i, f[:3])
		}
		p.Frames[i] = f
	}
	return p, nil
}

func HasSync(f []byte) bool {
	return len(f) >= 3 && f[0] == Sync && f[1] == Sync && f[2] == Sync
}

// PutMetisHeader writes the 8-byte header into b.
func PutMetisHeader(b []byte, ep Endpoint, seq uint32) {
	_ = b[7]
	b[0] = MagicHi
	b[1] = MagicLo
	b[2] = FrameID
	b[3] = byte(ep)
	binary.BigEndian.PutUint32(b[4:8], seq)
}

// PutUSBHeader writes the sync marker and C0..C4 into the first 8 bytes of f.
func PutUSBHeader(f []byte, c [5]byte) {
	_ = f[7]
	f[0], f[1], f[2] = Sync, Sync, Sync
	copy(f[3:8], c[:])
}

// Payload returns the sample region of a USB frame.
func Payload(f []byte) []byte { return f[USBHeaderSize:USBFrameSize] }
