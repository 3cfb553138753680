package proxy

import (
	"github.com/jrwynneiii/hermesproxy/codec"
	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/control"
	"github.com/jrwynneiii/hermesproxy/wire"
)

// txBuf is one outbound USB frame. The first USBHeaderSize bytes are left
// for the sync marker and C0..C4, n rows of L/R/I/Q follow.
type txBuf struct {
	raw [wire.USBFrameSize]byte
	n   int
}

func (b *txBuf) row(i int) []byte {
	off := wire.USBHeaderSize + 8*i
	return b.raw[off : off+8]
}

// PutTxIQ encodes up to count samples from iq into the Tx ring and returns
// how many were accepted. When the ring is already full nothing is touched,
// the loss is counted and 0 is returned.
func (p *Proxy) PutTxIQ(iq []complex64, count int) int {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	if p.tx == nil {
		return 0
	}
	if count > len(iq) {
		count = len(iq)
	}
	if p.tx.Full() {
		p.counters.LostTxBuf.Add(1)
		return 0
	}

	accepted := 0
	for accepted < count || p.txWrite.n == wire.TxSamplesPerFrame {
		buf := p.txWrite
		k := min(wire.TxSamplesPerFrame-buf.n, count-accepted)
		for _, s := range iq[accepted : accepted+k] {
			encodeTxRow(buf.row(buf.n), s)
			buf.n++
		}
		accepted += k

		if buf.n < wire.TxSamplesPerFrame {
			break
		}
		free, _, err := p.tx.Commit(buf)
		if err != nil {
			// the full buffer stays in progress until the ring drains
			p.counters.LostTxBuf.Add(1)
			break
		}
		free.n = 0
		p.txWrite = free
		if p.tx.Full() {
			break
		}
	}
	if accepted > 0 {
		p.txSubmitted.Store(true)
	}
	return accepted
}

// encodeTxRow writes silent audio and one IQ sample.
func encodeTxRow(row []byte, s complex64) {
	clear(row[:4])
	codec.EncodeI16(real(s), row[4:])
	codec.EncodeI16(imag(s), row[6:])
}

// decodeTx reads back the IQ column of a Tx buffer for the PTT detector.
func decodeTx(b *txBuf, dst []complex64) []complex64 {
	dst = dst[:0]
	for i := 0; i < wire.TxSamplesPerFrame; i++ {
		r := b.row(i)
		dst = append(dst, complex(codec.DecodeI16(r[4:]), codec.DecodeI16(r[6:])))
	}
	return dst
}

// GetNextTxBuf takes the oldest ready Tx buffer off the ring for a caller
// that builds its own frames. While streaming the ring belongs to the send
// path, so it reports nothing. The slice is valid until the next call.
func (p *Proxy) GetNextTxBuf() ([]byte, bool) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.tx == nil || p.running.Load() {
		return nil, false
	}
	b, ok := p.nextTxBuf(0)
	if !ok {
		return nil, false
	}
	return b.raw[:], true
}

func (p *Proxy) nextTxBuf(i int) (*txBuf, bool) {
	b, ok := p.tx.Pull(p.txRead[i])
	if !ok {
		return nil, false
	}
	p.txRead[i] = b
	return b, true
}

// BuildControlRegs writes the sync marker and register group regNum into
// the header of USB frame buf. MOX is the key state of the last frame sent.
func (p *Proxy) BuildControlRegs(regNum int, buf []byte) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	cfg := p.cfg.Load()
	d := p.policy.Hold(cfg, p.lastDecide.Mox)
	wire.PutUSBHeader(buf, control.Encode(regNum, cfg, d.Mox))
}

// ScheduleTxFrame is called by the receive path once per inbound frame with
// the running count of inbound frames. It paces outbound frames to the
// board's 48 kHz Tx clock and falls back to control-only frames once no
// samples have been submitted for IdleFrames inbound frames.
func (p *Proxy) ScheduleTxFrame(rxFrames uint64) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.tx == nil {
		return
	}
	cfg := p.cfg.Load()

	sent := false
	if p.holdoff {
		if p.tx.Len() >= 2*config.TxInitialBurst {
			p.holdoff = false
			p.paceBase = rxFrames
			p.scheduled = 0
			for i := 0; i < config.TxInitialBurst; i++ {
				p.sendTxIQLocked()
			}
			p.log.Debug("Tx holdoff released", "burst", config.TxInitialBurst)
			sent = true
		}
	} else {
		due := (rxFrames - p.paceBase) * p.paceNum / p.paceDen
		for p.scheduled < due {
			p.scheduled++
			if p.sendTxIQLocked() {
				sent = true
			}
		}
	}
	// queued samples waiting for their paced slot are not idle
	submitted := p.txSubmitted.Swap(false)
	if sent || submitted || (!p.holdoff && p.tx.Len() >= wire.FramesPerPacket) {
		p.idleCount = 0
		return
	}

	p.idleCount++
	if p.idleCount >= cfg.IdleFrames {
		p.updateHermesLocked()
	}
}

// SendTxIQ sends one frame of queued samples if two buffers are ready.
func (p *Proxy) SendTxIQ() bool {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.tx == nil {
		return false
	}
	return p.sendTxIQLocked()
}

func (p *Proxy) sendTxIQLocked() bool {
	if p.tx.Len() < wire.FramesPerPacket {
		return false
	}
	cfg := p.cfg.Load()
	for i := 0; i < wire.FramesPerPacket; i++ {
		b, _ := p.nextTxBuf(i)
		d := p.policy.Decide(cfg, decodeTx(b, p.iqScratch[:]))
		if d.MuteTx {
			clear(wire.Payload(b.raw[:]))
		}
		p.applyDecision(d)
		p.sequencer.Next(cfg, d.Mox, b.raw[:])
		copy(p.frame[wire.MetisHeaderSize+i*wire.USBFrameSize:], b.raw[:])
	}
	p.counters.TotalTxBuf.Add(wire.FramesPerPacket)
	p.sendFrameLocked()
	return true
}

// UpdateHermes sends a frame with register groups and no samples, so the
// board keeps receiving configuration while nothing is being transmitted.
func (p *Proxy) UpdateHermes() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	p.updateHermesLocked()
}

func (p *Proxy) updateHermesLocked() {
	cfg := p.cfg.Load()
	for i := range p.idleBuf {
		b := &p.idleBuf[i]
		clear(b.raw[:])
		d := p.policy.Hold(cfg, p.lastDecide.Mox)
		d.MuteTx = true
		p.applyDecision(d)
		p.sequencer.Next(cfg, d.Mox, b.raw[:])
		copy(p.frame[wire.MetisHeaderSize+i*wire.USBFrameSize:], b.raw[:])
	}
	p.counters.IdleFrames.Add(1)
	p.sendFrameLocked()
}

func (p *Proxy) applyDecision(d control.Decision) {
	if d.Mox != p.lastDecide.Mox {
		p.log.Debug("MOX changed", "mox", d.Mox)
	}
	p.lastDecide = d
	p.muteRx.Store(d.MuteRx)
}

func (p *Proxy) sendFrameLocked() {
	wire.PutMetisHeader(p.frame[:], wire.EP2, p.txSeq)
	p.txSeq++
	p.idleCount = 0
	p.counters.TotalTxFrames.Add(1)
	if err := p.link.SendFrame(p.frame[:]); err != nil {
		p.log.Warn("Could not send frame", "seq", p.txSeq-1, "err", err)
	}
}
