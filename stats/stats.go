// Package stats keeps the loss/corruption counters and the latest board
// telemetry for one proxy. Writers are the receive and send paths, readers
// are diagnostics; every field is atomic so neither side takes a lock.
package stats

import (
	"sync/atomic"

	"github.com/jrwynneiii/hermesproxy/wire"
)

type Counters struct {
	LostRxBuf      atomic.Uint64 // Rx blocks overwritten before the pipeline read them
	TotalRxBuf     atomic.Uint64 // Rx blocks completed
	LostTxBuf      atomic.Uint64 // PutTxIQ calls turned away by a full Tx ring
	TotalTxBuf     atomic.Uint64 // Tx buffers sent
	CorruptRx      atomic.Uint64 // inbound frames discarded as malformed
	LostEthernetRx atomic.Uint64 // inbound frames missing from the sequence
	TotalRxFrames  atomic.Uint64
	TotalTxFrames  atomic.Uint64
	IdleFrames     atomic.Uint64 // control-only frames sent
	CurrentSeqNum  atomic.Uint32
}

// Snapshot is a plain copy for display and export.
type Snapshot struct {
	LostRxBuf      uint64
	TotalRxBuf     uint64
	LostTxBuf      uint64
	TotalTxBuf     uint64
	CorruptRx      uint64
	LostEthernetRx uint64
	TotalRxFrames  uint64
	TotalTxFrames  uint64
	IdleFrames     uint64
	CurrentSeqNum  uint32
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		LostRxBuf:      c.LostRxBuf.Load(),
		TotalRxBuf:     c.TotalRxBuf.Load(),
		LostTxBuf:      c.LostTxBuf.Load(),
		TotalTxBuf:     c.TotalTxBuf.Load(),
		CorruptRx:      c.CorruptRx.Load(),
		LostEthernetRx: c.LostEthernetRx.Load(),
		TotalRxFrames:  c.TotalRxFrames.Load(),
		TotalTxFrames:  c.TotalTxFrames.Load(),
		IdleFrames:     c.IdleFrames.Load(),
		CurrentSeqNum:  c.CurrentSeqNum.Load(),
	}
}

// SequenceTracker detects gaps in the inbound Metis sequence numbers. It is
// only touched by the receive path.
type SequenceTracker struct {
	last  uint32
	valid bool
}

// Observe returns how many frames are missing between the previous sequence
// number and seq. Wraparound is handled by uint32 arithmetic. A backwards
// step (duplicate, reordering or a board restart) reports no loss and
// resynchronizes on seq.
func (s *SequenceTracker) Observe(seq uint32) uint32 {
	if !s.valid {
		s.valid = true
		s.last = seq
		return 0
	}
	diff := seq - s.last
	if diff == 0 || diff >= 1<<31 {
		s.last = seq
		return 0
	}
	s.last = seq
	return diff - 1
}

func (s *SequenceTracker) Reset() { *s = SequenceTracker{} }

// Telemetry is the latest status reported by the board. No history is kept.
type Telemetry struct {
	ADCOverload   atomic.Bool
	PTT           atomic.Bool
	Dot           atomic.Bool
	Dash          atomic.Bool
	HermesVersion atomic.Uint32
	AIN           [6]atomic.Uint32 // AIN1..AIN6
	SlowCount     atomic.Uint32
}

// AlexRevPwr is AIN2.
func (t *Telemetry) AlexRevPwr() uint32 { return t.AIN[1].Load() }

// Update stores the fields carried by one status block.
func (t *Telemetry) Update(s wire.Status) {
	t.PTT.Store(s.PTT)
	t.Dot.Store(s.Dot)
	t.Dash.Store(s.Dash)
	switch s.Addr {
	case wire.StatusGeneral:
		t.ADCOverload.Store(s.ADCOverload)
		t.HermesVersion.Store(uint32(s.HermesVersion))
	case wire.StatusFwdPwr:
		t.AIN[4].Store(uint32(s.A))
		t.AIN[0].Store(uint32(s.B))
	case wire.StatusRevPwr:
		t.AIN[1].Store(uint32(s.A))
		t.AIN[2].Store(uint32(s.B))
	case wire.StatusSupply:
		t.AIN[3].Store(uint32(s.A))
		t.AIN[5].Store(uint32(s.B))
	}
}

type TelemetrySnapshot struct {
	ADCOverload   bool
	PTT           bool
	Dot           bool
	Dash          bool
	HermesVersion uint8
	AIN           [6]uint32
	AlexRevPwr    uint32
	SlowCount     uint32
}

func (t *Telemetry) Snapshot() TelemetrySnapshot {
	s := TelemetrySnapshot{
		ADCOverload:   t.ADCOverload.Load(),
		PTT:           t.PTT.Load(),
		Dot:           t.Dot.Load(),
		Dash:          t.Dash.Load(),
		HermesVersion: uint8(t.HermesVersion.Load()),
		SlowCount:     t.SlowCount.Load(),
	}
	for i := range t.AIN {
		s.AIN[i] = t.AIN[i].Load()
	}
	s.AlexRevPwr = s.AIN[1]
	return s
}
