package wire

import (
	"errors"
	"testing"
)

func makeEP6(seq uint32) []byte {
	b := make([]byte, MetisFrameSize)
	PutMetisHeader(b, EP6, seq)
	for i := 0; i < FramesPerPacket; i++ {
		off := MetisHeaderSize + i*USBFrameSize
		PutUSBHeader(b[off:], [5]byte{})
	}
	return b
}

func TestParseMetis(t *testing.T) {
	b := makeEP6(0x01020304)
	p, err := ParseMetis(b)
	if err != nil {
		t.Fatalf("ParseMetis: %v", err)
	}
	if p.Endpoint != EP6 || p.Sequence != 0x01020304 {
		t.Errorf("got endpoint %x seq %x", p.Endpoint, p.Sequence)
	}
	if len(p.Frames[1]) != USBFrameSize || &p.Frames[1][0] != &b[MetisHeaderSize+USBFrameSize] {
		t.Error("second frame does not alias the input")
	}
}

func TestParseMetisErrors(t *testing.T) {
	if _, err := ParseMetis(make([]byte, 100)); !errors.Is(err, ErrShortFrame) {
		t.Errorf("short: %v", err)
	}

	b := makeEP6(1)
	b[1] = 0x00
	if _, err := ParseMetis(b); !errors.Is(err, ErrBadMagic) {
		t.Errorf("magic: %v", err)
	}

	b = makeEP6(1)
	b[MetisHeaderSize+USBFrameSize+2] = 0x7E
	if _, err := ParseMetis(b); !errors.Is(err, ErrBadSync) {
		t.Errorf("sync: %v", err)
	}
}

func TestRowCounts(t *testing.T) {
	for n := 1; n <= MaxReceivers; n++ {
		if got := USBPayloadSize / RowSize(n); got != USBRowCount[n-1] {
			t.Errorf("receivers %d: rows %d, table %d", n, got, USBRowCount[n-1])
		}
	}
	if TxSamplesPerFrame != 63 {
		t.Errorf("TxSamplesPerFrame = %d", TxSamplesPerFrame)
	}
}

func TestDecodeStatus(t *testing.T) {
	f := make([]byte, USBFrameSize)
	PutUSBHeader(f, [5]byte{0x00 | 0x01, 0x01, 30, 31, 32})
	s := DecodeStatus(f)
	if !s.PTT || !s.ADCOverload || s.HermesVersion != 32 || s.MercuryVersion != 30 {
		t.Errorf("general status: %+v", s)
	}

	PutUSBHeader(f, [5]byte{StatusRevPwr | 0x04, 0x01, 0x23, 0x0a, 0xbc})
	s = DecodeStatus(f)
	if s.Addr != StatusRevPwr || !s.Dot || s.PTT {
		t.Errorf("rev status header: %+v", s)
	}
	if s.A != 0x0123 || s.B != 0x0abc {
		t.Errorf("rev status values: A=%x B=%x", s.A, s.B)
	}
	if s.ADCOverload {
		t.Error("ADC overload decoded from a non-general status block")
	}
}
