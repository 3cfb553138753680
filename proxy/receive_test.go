package proxy

import (
	"testing"

	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/wire"
)

const fs24 = 1 << 23

func TestReceiveGapScenario(t *testing.T) {
	p, _ := newTestProxy(t, func(c *config.Proxy) { c.NumReceivers = 2 })
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	for _, seq := range []uint32{1, 2, 4} {
		p.ReceiveRxIQ(rxFrame(seq, 2))
	}

	s := p.Stats()
	if s.LostEthernetRx != 1 {
		t.Errorf("lost ethernet = %d, want 1", s.LostEthernetRx)
	}
	if s.TotalRxFrames != 3 || s.CurrentSeqNum != 4 {
		t.Errorf("rx frames %d, seq %d", s.TotalRxFrames, s.CurrentSeqNum)
	}

	rowCap := config.RxBufSize / 4
	rows := 3 * 2 * wire.USBRowCount[1]
	blocks := 0
	for {
		blk, ok := p.GetRxIQ()
		if !ok {
			break
		}
		if blk.Rows != rowCap || blk.Receivers != 2 {
			t.Errorf("block %d: rows %d receivers %d", blocks, blk.Rows, blk.Receivers)
		}
		blocks++
	}
	if blocks != rows/rowCap {
		t.Errorf("completed blocks = %d, want %d", blocks, rows/rowCap)
	}
	if got := p.GetNextRxBuf().Rows; got != rows%rowCap {
		t.Errorf("partial block rows = %d, want %d", got, rows%rowCap)
	}
}

func TestReceiveDemux(t *testing.T) {
	const n = 3
	p, _ := newTestProxy(t, func(c *config.Proxy) { c.NumReceivers = n })
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	p.ReceiveRxIQ(rxFrame(0, n))
	p.ReceiveRxIQ(rxFrame(1, n))

	blk, ok := p.GetRxIQ()
	if !ok {
		t.Fatal("no block")
	}
	perFrame := 2 * wire.USBRowCount[n-1]
	for row := 0; row < blk.Rows; row++ {
		frameRow := row % perFrame
		for rx := 0; rx < n; rx++ {
			want := float32(sampleCode(frameRow, rx)) / fs24
			got := blk.IQ(rx, row)
			if real(got) != want || imag(got) != -want {
				t.Fatalf("row %d rx %d: got %v, want (%v,%v)", row, rx, got, want, -want)
			}
		}
	}
	iq := blk.Receiver(2, nil)
	if len(iq) != blk.Rows || real(iq[0]) != float32(sampleCode(0, 2))/fs24 {
		t.Errorf("Receiver(2): len %d first %v", len(iq), iq[0])
	}
}

// An unread ring of N blocks that receives N+1 keeps the newest N.
func TestRxRingDropsOldest(t *testing.T) {
	p, _ := newTestProxy(t, func(c *config.Proxy) {
		c.NumReceivers = 8
		c.RxBufSize = 64 // 4 rows
		c.NumRxBufs = 4
	})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	// 20 rows: five blocks
	p.ReceiveRxIQ(rxFrame(0, 8))

	s := p.Stats()
	if s.TotalRxBuf != 5 || s.LostRxBuf != 1 {
		t.Fatalf("total %d lost %d, want 5 and 1", s.TotalRxBuf, s.LostRxBuf)
	}
	for want := uint64(2); want <= 5; want++ {
		blk, ok := p.GetRxIQ()
		if !ok {
			t.Fatalf("block %d missing", want)
		}
		if blk.Serial != want {
			t.Errorf("serial = %d, want %d", blk.Serial, want)
		}
		firstRow := int(want-1) * 4
		if got := real(blk.IQ(7, 0)); got != float32(sampleCode(firstRow, 7))/fs24 {
			t.Errorf("block %d holds row data %v", want, got)
		}
	}
	if _, ok := p.GetRxIQ(); ok {
		t.Error("more than four blocks retained")
	}
}

func TestCorruptFramesDiscarded(t *testing.T) {
	p, _ := newTestProxy(t, nil)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}

	badSync := rxFrame(0, 1)
	badSync[wire.MetisHeaderSize+wire.USBFrameSize] = 0x00
	badMagic := rxFrame(1, 1)
	badMagic[0] = 0x00

	p.ReceiveRxIQ(badSync)
	p.ReceiveRxIQ(badMagic)
	p.ReceiveRxIQ(rxFrame(2, 1)[:100])

	s := p.Stats()
	if s.CorruptRx != 3 {
		t.Errorf("corrupt = %d, want 3", s.CorruptRx)
	}
	if s.TotalRxFrames != 0 || p.GetNextRxBuf().Rows != 0 {
		t.Errorf("corrupt frame partly consumed: frames %d rows %d", s.TotalRxFrames, p.GetNextRxBuf().Rows)
	}

	bandscope := make([]byte, wire.MetisFrameSize)
	wire.PutMetisHeader(bandscope, wire.EP4, 0)
	p.ReceiveRxIQ(bandscope)
	if s := p.Stats(); s.CorruptRx != 3 || s.TotalRxFrames != 0 {
		t.Errorf("bandscope frame counted: %+v", s)
	}
}

func TestTelemetryFromStatusBytes(t *testing.T) {
	p, _ := newTestProxy(t, nil)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	f := rxFrame(0, 1)
	usb := f[wire.MetisHeaderSize:]
	// C0 address 0x10 (reverse power), C1..C2 = 0x0123
	copy(usb[3:8], []byte{wire.StatusRevPwr, 0x01, 0x23, 0x00, 0x05})
	p.ReceiveRxIQ(f)

	tel := p.Telemetry()
	if tel.AlexRevPwr != 0x0123 || tel.AIN[2] != 5 {
		t.Errorf("telemetry = %+v", tel)
	}
	if tel.SlowCount != 1 {
		t.Errorf("slow count = %d", tel.SlowCount)
	}
}
