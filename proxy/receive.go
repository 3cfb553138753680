package proxy

import (
	"github.com/jrwynneiii/hermesproxy/codec"
	"github.com/jrwynneiii/hermesproxy/wire"
)

// RxBlock holds Rows complete rows of interleaved float IQ: for every row,
// I then Q for each receiver in order.
type RxBlock struct {
	Samples   []float32
	Receivers int
	Rows      int
	Serial    uint64
}

func newRxBlock(size int) *RxBlock {
	return &RxBlock{Samples: make([]float32, size)}
}

// IQ returns the sample of receiver rx at row.
func (b *RxBlock) IQ(rx, row int) complex64 {
	i := (row*b.Receivers + rx) * 2
	return complex(b.Samples[i], b.Samples[i+1])
}

// Receiver appends the samples of one receiver to dst.
func (b *RxBlock) Receiver(rx int, dst []complex64) []complex64 {
	for row := 0; row < b.Rows; row++ {
		dst = append(dst, b.IQ(rx, row))
	}
	return dst
}

// ReceiveRxIQ decodes one frame from the board. It never blocks on the
// pipeline. Malformed frames are counted and dropped before any sample is
// touched.
func (p *Proxy) ReceiveRxIQ(frame []byte) {
	p.gate.RLock()
	defer p.gate.RUnlock()
	if !p.running.Load() {
		return
	}

	pkt, err := wire.ParseMetis(frame)
	if err != nil {
		p.counters.CorruptRx.Add(1)
		p.log.Debug("Dropped corrupt frame", "err", err)
		return
	}
	if pkt.Endpoint != wire.EP6 {
		// bandscope and anything else is not consumed
		return
	}

	if gap := p.seq.Observe(pkt.Sequence); gap > 0 {
		p.counters.LostEthernetRx.Add(uint64(gap))
		p.log.Debug("Sequence gap", "seq", pkt.Sequence, "missing", gap)
	}
	p.counters.CurrentSeqNum.Store(pkt.Sequence)
	rxFrames := p.counters.TotalRxFrames.Add(1)
	slow := p.telemetry.SlowCount.Add(1)

	mute := p.muteRx.Load()
	n := p.receivers
	rows := wire.USBRowCount[n-1]
	rowSize := wire.RowSize(n)
	for _, f := range pkt.Frames {
		p.telemetry.Update(wire.DecodeStatus(f))
		payload := wire.Payload(f)
		for r := 0; r < rows; r++ {
			p.demuxRow(payload[r*rowSize:(r+1)*rowSize], n, mute)
		}
	}

	if cfg := p.cfg.Load(); cfg.Verbose > 0 && slow&0x3ff == 0 {
		p.logSummary()
	}
	p.ScheduleTxFrame(rxFrames)
}

// demuxRow appends one wire row to the block being filled. The trailing two
// microphone bytes are skipped.
func (p *Proxy) demuxRow(row []byte, n int, mute bool) {
	blk := p.rxWrite
	out := blk.Samples[blk.Rows*2*n : (blk.Rows+1)*2*n]
	if mute {
		clear(out)
	} else {
		for k := 0; k < n; k++ {
			out[2*k] = codec.DecodeI24(row[6*k:])
			out[2*k+1] = codec.DecodeI24(row[6*k+3:])
		}
	}
	blk.Rows++
	if blk.Rows == p.rowCap {
		p.commitRx()
	}
}

func (p *Proxy) commitRx() {
	blk := p.rxWrite
	blk.Receivers = p.receivers
	blk.Serial = p.counters.TotalRxBuf.Add(1)
	free, evicted, _ := p.rx.Commit(blk)
	if evicted {
		p.counters.LostRxBuf.Add(1)
	}
	free.Rows = 0
	p.rxWrite = free
}

// GetNextRxBuf returns the block the receive path is filling. Only the
// receive path may write to it.
func (p *Proxy) GetNextRxBuf() *RxBlock {
	return p.rxWrite
}

// GetRxIQ returns the oldest complete block, or false if none is ready.
// The block belongs to the caller until the next call to GetRxIQ.
func (p *Proxy) GetRxIQ() (*RxBlock, bool) {
	p.pullMu.Lock()
	defer p.pullMu.Unlock()
	if p.rx == nil {
		return nil, false
	}
	blk, ok := p.rx.Pull(p.rxRead)
	if !ok {
		return nil, false
	}
	p.rxRead = blk
	return blk, true
}
