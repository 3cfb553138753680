package proxy

import (
	"encoding/hex"

	"github.com/jrwynneiii/hermesproxy/stats"
)

func (p *Proxy) Stats() stats.Snapshot { return p.counters.Snapshot() }

func (p *Proxy) Telemetry() stats.TelemetrySnapshot { return p.telemetry.Snapshot() }

// RingLevels returns the number of unread blocks in the Rx and Tx rings.
func (p *Proxy) RingLevels() (rx, tx int) {
	p.pullMu.Lock()
	if p.rx != nil {
		rx = p.rx.Len()
	}
	p.pullMu.Unlock()
	p.txMu.Lock()
	if p.tx != nil {
		tx = p.tx.Len()
	}
	p.txMu.Unlock()
	return rx, tx
}

// PrintRawBuf dumps buf at debug level.
func (p *Proxy) PrintRawBuf(buf []byte) {
	p.log.Debug("Raw buffer", "len", len(buf))
	p.log.Debug("\n" + hex.Dump(buf))
}

func (p *Proxy) logSummary() {
	s := p.counters.Snapshot()
	t := p.telemetry.Snapshot()
	rx, tx := p.RingLevels()
	p.log.Info("Stream summary",
		"seq", s.CurrentSeqNum,
		"rx_frames", s.TotalRxFrames,
		"lost_eth", s.LostEthernetRx,
		"corrupt", s.CorruptRx,
		"lost_rx_buf", s.LostRxBuf,
		"lost_tx_buf", s.LostTxBuf,
		"rx_ring", rx,
		"tx_ring", tx,
		"overload", t.ADCOverload,
		"rev_pwr", t.AlexRevPwr,
	)
}
