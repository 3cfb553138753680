// Package control builds the C0..C4 register blocks carried in every
// outbound USB frame and decides the MOX bit.
package control

import (
	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/wire"
)

// Register addresses as they appear in C0 bits 7..1.
const (
	AddrGeneral byte = 0x00
	AddrTxFreq  byte = 0x01
	AddrRx1Freq byte = 0x02 // RX1..RX7 are 0x02..0x08
	AddrDrive   byte = 0x09
	AddrAtten   byte = 0x0a
	AddrRx8Freq byte = 0x12
)

// Order is the fixed round robin. Every group is sent once per NumGroups
// consecutive frames.
var Order = [...]byte{
	AddrGeneral,
	AddrTxFreq,
	AddrRx1Freq, AddrRx1Freq + 1, AddrRx1Freq + 2, AddrRx1Freq + 3,
	AddrRx1Freq + 4, AddrRx1Freq + 5, AddrRx1Freq + 6,
	AddrRx8Freq,
	AddrDrive,
	AddrAtten,
}

const NumGroups = len(Order)

// Encode returns C0..C4 for register group regNum (an index into Order)
// from one configuration snapshot.
func Encode(regNum int, cfg *config.Proxy, mox bool) [5]byte {
	addr := Order[regNum%NumGroups]
	var c [5]byte
	c[0] = addr << 1
	if mox {
		c[0] |= 0x01
	}

	switch addr {
	case AddrGeneral:
		speed, _ := config.SpeedCode(cfg.SampleRate)
		c[1] = cfg.ClockSource&0xFC | speed
		c[2] = 0 // open collector outputs
		if cfg.RxPreamp {
			c[3] |= 1 << 2
		}
		if cfg.ADCDither {
			c[3] |= 1 << 3
		}
		if cfg.ADCRandom {
			c[3] |= 1 << 4
		}
		c[3] |= (cfg.AlexRxAnt & 0x07) << 5
		c[4] = cfg.AlexTxAnt & 0x03
		if cfg.Duplex {
			c[4] |= 1 << 2
		}
		c[4] |= byte((cfg.NumReceivers-1)&0x07) << 3
	case AddrTxFreq:
		putFreq(&c, cfg.TxFrequency)
	case AddrRx8Freq:
		putFreq(&c, cfg.RxFrequency[7])
	case AddrDrive:
		c[1] = cfg.TxDrive
		if cfg.AlexRxHPF != 0 || cfg.AlexTxLPF != 0 {
			c[2] |= 1 << 6 // manual Alex filter selection
		}
		c[3] = cfg.AlexRxHPF & 0x7f
		c[4] = cfg.AlexTxLPF & 0x7f
	case AddrAtten:
		// attenuator left disabled
	default:
		putFreq(&c, cfg.RxFrequency[addr-AddrRx1Freq])
	}
	return c
}

func putFreq(c *[5]byte, hz uint32) {
	c[1] = byte(hz >> 24)
	c[2] = byte(hz >> 16)
	c[3] = byte(hz >> 8)
	c[4] = byte(hz)
}

// Sequencer cycles through Order. It is not safe for concurrent use; the
// proxy drives it from the send path only.
type Sequencer struct {
	next int
}

// Current is the index of the group the next call to Next will emit.
func (s *Sequencer) Current() int { return s.next }

// Next writes the sync marker and the current group into the header of the
// USB frame f, then advances exactly one step. It returns the address sent.
func (s *Sequencer) Next(cfg *config.Proxy, mox bool, f []byte) byte {
	regNum := s.next
	wire.PutUSBHeader(f, Encode(regNum, cfg, mox))
	s.next = (s.next + 1) % NumGroups
	return Order[regNum]
}

func (s *Sequencer) Reset() { s.next = 0 }
