package control

import (
	"testing"

	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/wire"
)

func TestSequencerEmitsEveryGroupOnce(t *testing.T) {
	cfg := config.Default()
	var s Sequencer
	f := make([]byte, wire.USBFrameSize)

	seen := map[byte]int{}
	var order []byte
	for i := 0; i < NumGroups; i++ {
		addr := s.Next(&cfg, false, f)
		if !wire.HasSync(f) {
			t.Fatalf("frame %d: sync missing", i)
		}
		if got := f[3] >> 1; got != addr {
			t.Fatalf("frame %d: C0 address %x, returned %x", i, got, addr)
		}
		seen[addr]++
		order = append(order, addr)
	}
	for _, addr := range Order {
		if seen[addr] != 1 {
			t.Errorf("group %#x emitted %d times", addr, seen[addr])
		}
	}
	for i := range order {
		if order[i] != Order[i] {
			t.Fatalf("order[%d] = %#x, want %#x", i, order[i], Order[i])
		}
	}
	if s.Current() != 0 {
		t.Errorf("sequencer did not wrap: at %d", s.Current())
	}
}

func TestEncodeGeneral(t *testing.T) {
	cfg := config.Default()
	cfg.SampleRate = 192000
	cfg.NumReceivers = 3
	cfg.ClockSource = 0xF8
	cfg.RxPreamp = true
	cfg.AlexRxAnt = 2
	cfg.AlexTxAnt = 1
	cfg.Duplex = true

	c := Encode(0, &cfg, true)
	if c[0] != 0x01 {
		t.Errorf("C0 = %#x, want 0x01", c[0])
	}
	if c[1] != 0xF8|0b10 {
		t.Errorf("C1 = %#x", c[1])
	}
	if c[3] != 1<<2|2<<5 {
		t.Errorf("C3 = %#x", c[3])
	}
	if c[4] != 0x01|1<<2|2<<3 {
		t.Errorf("C4 = %#x", c[4])
	}
}

func TestEncodeFrequencies(t *testing.T) {
	cfg := config.Default()
	cfg.TxFrequency = 0x00D6D8E0
	for i := range cfg.RxFrequency {
		cfg.RxFrequency[i] = uint32(1000000 * (i + 1))
	}
	c := Encode(1, &cfg, false)
	if c[0] != AddrTxFreq<<1 || c[1] != 0x00 || c[2] != 0xD6 || c[3] != 0xD8 || c[4] != 0xE0 {
		t.Errorf("tx freq block = % x", c)
	}
	for rx := 0; rx < 8; rx++ {
		c := Encode(2+rx, &cfg, false)
		got := uint32(c[1])<<24 | uint32(c[2])<<16 | uint32(c[3])<<8 | uint32(c[4])
		if got != cfg.RxFrequency[rx] {
			t.Errorf("rx%d freq = %d, want %d", rx+1, got, cfg.RxFrequency[rx])
		}
	}
	if c := Encode(9, &cfg, false); c[0]>>1 != AddrRx8Freq {
		t.Errorf("group 9 address = %#x, want RX8", c[0]>>1)
	}
}

type fixedDetector struct {
	keyed bool
	calls int
}

func (f *fixedDetector) Keyed([]complex64) bool {
	f.calls++
	return f.keyed
}

func TestPolicyModes(t *testing.T) {
	det := &fixedDetector{keyed: true}
	p := Policy{Detector: det}
	loud := []complex64{1, 1, 1}

	cfg := config.Default()
	cfg.PTTOffMutesTx = true
	cfg.PTTOnMutesRx = true

	cfg.PTTMode = config.PTTOff
	for i := 0; i < 5; i++ {
		if d := p.Decide(&cfg, loud); d.Mox || !d.MuteTx || d.MuteRx {
			t.Fatalf("off: %+v", d)
		}
	}
	if det.calls != 0 {
		t.Errorf("detector consulted in off mode")
	}

	cfg.PTTMode = config.PTTOn
	if d := p.Decide(&cfg, nil); !d.Mox || d.MuteTx || !d.MuteRx {
		t.Errorf("on: %+v", d)
	}

	cfg.PTTMode = config.PTTVox
	if d := p.Decide(&cfg, loud); !d.Mox {
		t.Errorf("vox keyed: %+v", d)
	}
	det.keyed = false
	if d := p.Decide(&cfg, loud); d.Mox || !d.MuteTx {
		t.Errorf("vox unkeyed: %+v", d)
	}
	if det.calls != 2 {
		t.Errorf("detector calls = %d, want 2", det.calls)
	}

	cfg.PTTMode = config.PTTOff
	cfg.PTTOffMutesTx = false
	if d := p.Decide(&cfg, loud); d.MuteTx {
		t.Errorf("off without mute flag muted tx")
	}
}

func TestPolicyHold(t *testing.T) {
	det := &fixedDetector{keyed: true}
	p := Policy{Detector: det}
	cfg := config.Default()
	cfg.PTTOffMutesTx = true
	cfg.PTTOnMutesRx = true

	cfg.PTTMode = config.PTTVox
	if d := p.Hold(&cfg, true); !d.Mox || d.MuteTx || !d.MuteRx {
		t.Errorf("vox held keyed: %+v", d)
	}
	if d := p.Hold(&cfg, false); d.Mox || !d.MuteTx {
		t.Errorf("vox held unkeyed: %+v", d)
	}
	if det.calls != 0 {
		t.Errorf("detector consulted %d times for empty frames", det.calls)
	}

	cfg.PTTMode = config.PTTOn
	if d := p.Hold(&cfg, false); !d.Mox {
		t.Errorf("on: %+v", d)
	}
	cfg.PTTMode = config.PTTOff
	if d := p.Hold(&cfg, true); d.Mox {
		t.Errorf("off: %+v", d)
	}
}

func TestVoxDetector(t *testing.T) {
	v := NewVoxDetector(0.1, 2)
	quiet := make([]complex64, 63)
	loud := make([]complex64, 63)
	loud[10] = complex(0.5, 0)

	if v.Keyed(quiet) {
		t.Fatal("keyed on silence")
	}
	if !v.Keyed(loud) {
		t.Fatal("not keyed on a loud frame")
	}
	if v.Level <= 0 {
		t.Errorf("Level not updated: %v", v.Level)
	}
	for i := 0; i < 5; i++ {
		if !v.Keyed(nil) {
			t.Fatal("empty frame dropped the key")
		}
	}
	if !v.Keyed(quiet) || !v.Keyed(quiet) {
		t.Fatal("hang time not honoured")
	}
	if v.Keyed(quiet) {
		t.Fatal("still keyed after hang time")
	}
}
