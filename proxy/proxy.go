// Package proxy bridges one Hermes board and a sample pipeline.
//
// Two contexts use a Proxy. The network context calls ReceiveRxIQ for every
// frame from the board; the pipeline context calls GetRxIQ and PutTxIQ on
// its own schedule. Neither ever waits for the other: the Rx ring drops its
// oldest block when the pipeline falls behind and the Tx ring turns new
// samples away when the board falls behind.
package proxy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/control"
	"github.com/jrwynneiii/hermesproxy/ring"
	"github.com/jrwynneiii/hermesproxy/stats"
	"github.com/jrwynneiii/hermesproxy/wire"
)

// Link is the network side: it carries outbound frames and switches the
// board's stream on and off.
type Link interface {
	SendFrame(frame []byte) error
	StartStream() error
	StopStream() error
}

var (
	ErrClosed  = errors.New("proxy: closed")
	ErrRunning = errors.New("proxy: not allowed while streaming")
)

type Proxy struct {
	ID  string
	log *log.Logger

	link Link

	cfgMu sync.Mutex
	cfg   atomic.Pointer[config.Proxy]

	// gate is held shared by ReceiveRxIQ and exclusively by Start/Stop/Close,
	// so Stop returns only once no receive call is in flight.
	gate    sync.RWMutex
	running atomic.Bool
	closed  bool

	// receive path
	rx        *ring.Ring[RxBlock]
	rxWrite   *RxBlock
	receivers int
	rowCap    int
	seq       stats.SequenceTracker
	muteRx    atomic.Bool

	// pipeline pull side
	pullMu sync.Mutex
	rxRead *RxBlock

	// pipeline push side
	txMu    sync.Mutex
	tx      *ring.Ring[txBuf]
	txWrite *txBuf

	// set when PutTxIQ accepts samples, cleared by the send path
	txSubmitted atomic.Bool

	// send path
	sendMu     sync.Mutex
	txRead     [wire.FramesPerPacket]*txBuf
	sequencer  control.Sequencer
	policy     control.Policy
	holdoff    bool
	idleCount  int
	txSeq      uint32
	paceNum    uint64
	paceDen    uint64
	paceBase   uint64
	scheduled  uint64
	frame      [wire.MetisFrameSize]byte
	idleBuf    [wire.FramesPerPacket]txBuf
	iqScratch  [wire.TxSamplesPerFrame]complex64
	lastDecide control.Decision

	counters  stats.Counters
	telemetry stats.Telemetry
}

// New validates cfg and allocates both rings. The proxy starts idle.
func New(cfg config.Proxy, link Link) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if link == nil {
		return nil, errors.New("proxy: nil link")
	}

	id := uuid.New().String()
	p := &Proxy{
		ID:   id,
		log:  log.WithPrefix("hermes").With("id", id[:8]),
		link: link,
	}
	c := cfg
	p.cfg.Store(&c)

	blockSize := cfg.RxBufSize
	var err error
	p.rx, err = ring.New(cfg.NumRxBufs, ring.DropOldest, func() *RxBlock { return newRxBlock(blockSize) })
	if err != nil {
		return nil, fmt.Errorf("rx ring: %w", err)
	}
	p.tx, err = ring.New(cfg.NumTxBufs, ring.RejectNew, func() *txBuf { return &txBuf{} })
	if err != nil {
		return nil, fmt.Errorf("tx ring: %w", err)
	}
	p.rxWrite = newRxBlock(blockSize)
	p.rxRead = newRxBlock(blockSize)
	p.txWrite = &txBuf{}
	for i := range p.txRead {
		p.txRead[i] = &txBuf{}
	}
	p.policy.Detector = control.NewVoxDetector(cfg.VoxThreshold, cfg.VoxHangFrames)
	p.holdoff = true

	p.log.Debugf("Allocated rings: rx %d x %d floats, tx %d x %d bytes",
		cfg.NumRxBufs, cfg.RxBufSize, cfg.NumTxBufs, wire.USBFrameSize)
	return p, nil
}

// SetDetector replaces the vox heuristic. Call it while stopped.
func (p *Proxy) SetDetector(d control.Detector) {
	p.sendMu.Lock()
	p.policy.Detector = d
	p.sendMu.Unlock()
}

// Start resets both rings, sends one full cycle of control registers so the
// board is configured before any samples flow, then starts the stream.
func (p *Proxy) Start() error {
	p.gate.Lock()
	defer p.gate.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.running.Load() {
		return nil
	}

	cfg := p.cfg.Load()
	p.receivers = cfg.NumReceivers
	p.rowCap = cfg.RxBufSize / (2 * cfg.NumReceivers)
	p.resetLocked()

	p.sendMu.Lock()
	// Tx runs at 48 kHz regardless of the Rx rate: 126 Tx samples per EP2
	// frame against 2 x USBRowCount Rx rows per EP6 frame.
	p.paceNum = 48000 * uint64(2*wire.USBRowCount[cfg.NumReceivers-1])
	p.paceDen = uint64(cfg.SampleRate) * wire.FramesPerPacket * wire.TxSamplesPerFrame
	for i := 0; i < control.NumGroups/wire.FramesPerPacket; i++ {
		p.updateHermesLocked()
	}
	p.sendMu.Unlock()

	if err := p.link.StartStream(); err != nil {
		return fmt.Errorf("could not start stream: %w", err)
	}
	p.running.Store(true)
	p.log.Info("Streaming", "receivers", cfg.NumReceivers, "rate", cfg.SampleRate, "ptt", cfg.PTTMode)
	return nil
}

// Stop halts both paths. It is safe while ReceiveRxIQ, GetRxIQ or PutTxIQ
// run concurrently and leaves the proxy ready for another Start.
func (p *Proxy) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.gate.Lock()
	defer p.gate.Unlock()

	err := p.link.StopStream()
	p.resetLocked()
	s := p.counters.Snapshot()
	p.log.Info("Stopped", "rx_frames", s.TotalRxFrames, "lost_eth", s.LostEthernetRx,
		"corrupt", s.CorruptRx, "lost_rx_buf", s.LostRxBuf, "lost_tx_buf", s.LostTxBuf)
	if err != nil {
		return fmt.Errorf("could not stop stream: %w", err)
	}
	return nil
}

// Close stops the proxy and releases ring storage. The network context must
// not call ReceiveRxIQ after Close returns.
func (p *Proxy) Close() error {
	err := p.Stop()

	p.gate.Lock()
	defer p.gate.Unlock()
	if p.closed {
		return err
	}
	p.closed = true

	p.pullMu.Lock()
	p.txMu.Lock()
	p.sendMu.Lock()
	p.rx, p.tx = nil, nil
	p.rxWrite, p.rxRead, p.txWrite = nil, nil, nil
	p.txRead = [wire.FramesPerPacket]*txBuf{}
	p.sendMu.Unlock()
	p.txMu.Unlock()
	p.pullMu.Unlock()
	return err
}

// resetLocked runs with gate held exclusively, so the receive path is idle.
func (p *Proxy) resetLocked() {
	p.rx.Reset()
	p.rxWrite.Rows = 0
	p.seq.Reset()
	p.muteRx.Store(false)

	p.txMu.Lock()
	p.tx.Reset()
	p.txWrite.n = 0
	p.txWrite.raw = [wire.USBFrameSize]byte{}
	p.txSubmitted.Store(false)
	p.txMu.Unlock()

	p.sendMu.Lock()
	p.holdoff = true
	p.idleCount = 0
	p.txSeq = 0
	p.scheduled = 0
	p.lastDecide = control.Decision{}
	p.sequencer.Reset()
	p.sendMu.Unlock()
}

func (p *Proxy) Running() bool { return p.running.Load() }

// Config returns a copy of the current configuration snapshot.
func (p *Proxy) Config() config.Proxy { return *p.cfg.Load() }

// update applies fn to a copy of the configuration and publishes the copy
// only if it validates. Frames being built keep the snapshot they loaded.
func (p *Proxy) update(fn func(c *config.Proxy) error) error {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	next := *p.cfg.Load()
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	p.cfg.Store(&next)
	return nil
}

func (p *Proxy) SetRxFrequency(rx int, hz uint64) error {
	return p.update(func(c *config.Proxy) error {
		if rx < 0 || rx >= config.MaxReceivers {
			return fmt.Errorf("%w: receiver %d", config.ErrTooManyReceivers, rx)
		}
		f, err := config.CheckFrequency(hz)
		if err != nil {
			return err
		}
		c.RxFrequency[rx] = f
		return nil
	})
}

func (p *Proxy) SetTxFrequency(hz uint64) error {
	return p.update(func(c *config.Proxy) error {
		f, err := config.CheckFrequency(hz)
		if err != nil {
			return err
		}
		c.TxFrequency = f
		return nil
	})
}

func (p *Proxy) SetTxDrive(level uint8) error {
	return p.update(func(c *config.Proxy) error {
		c.TxDrive = level
		return nil
	})
}

func (p *Proxy) SetPTTMode(mode config.PTTMode, offMutesTx, onMutesRx bool) error {
	return p.update(func(c *config.Proxy) error {
		c.PTTMode = mode
		c.PTTOffMutesTx = offMutesTx
		c.PTTOnMutesRx = onMutesRx
		return nil
	})
}

func (p *Proxy) SetAlex(rxAnt, txAnt, rxHPF, txLPF uint8) error {
	return p.update(func(c *config.Proxy) error {
		c.AlexRxAnt, c.AlexTxAnt, c.AlexRxHPF, c.AlexTxLPF = rxAnt, txAnt, rxHPF, txLPF
		return nil
	})
}

func (p *Proxy) SetClockSource(cs uint8) error {
	return p.update(func(c *config.Proxy) error {
		c.ClockSource = cs
		return nil
	})
}

func (p *Proxy) SetPreamp(on bool) error {
	return p.update(func(c *config.Proxy) error {
		c.RxPreamp = on
		return nil
	})
}

// SetNumReceivers changes the wire row layout and therefore needs a stopped
// proxy.
func (p *Proxy) SetNumReceivers(n int) error {
	if p.running.Load() {
		return ErrRunning
	}
	return p.update(func(c *config.Proxy) error {
		c.NumReceivers = n
		return nil
	})
}

// SetSampleRate takes effect at the next Start.
func (p *Proxy) SetSampleRate(rate int) error {
	if p.running.Load() {
		return ErrRunning
	}
	return p.update(func(c *config.Proxy) error {
		c.SampleRate = rate
		return nil
	})
}
