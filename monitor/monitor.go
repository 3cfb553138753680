// Package monitor estimates per-receiver signal quality and a coarse
// spectrum from completed Rx blocks, for display.
package monitor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/proxy"
	"github.com/racerxdl/segdsp/tools"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	MaxSNR       = 99.0
	floorDB      = -200.0
	pollInterval = 5 * time.Millisecond
)

// SNRCalc is a moment based (M2M4) SNR estimator with exponential
// smoothing of both moments.
type SNRCalc struct {
	Y1     float64
	Y2     float64
	Alpha  float64
	Beta   float64
	Signal float64
	Noise  float64
}

func NewSNRCalc() *SNRCalc {
	alpha := 0.001
	return &SNRCalc{
		Alpha: alpha,
		Beta:  1.0 - alpha,
	}
}

// Update folds iq into the moments and returns the estimate in dB, clamped
// to [0, MaxSNR].
func (s *SNRCalc) Update(iq []complex64) float64 {
	for _, v := range iq {
		p := float64(tools.ComplexAbsSquared(v))
		s.Y1 = s.Alpha*p + s.Beta*s.Y1
		s.Y2 = s.Alpha*p*p + s.Beta*s.Y2
	}
	if math.IsNaN(s.Y1) {
		s.Y1 = 0
	}
	if math.IsNaN(s.Y2) {
		s.Y2 = 0
	}

	// radicand goes negative while the averages are still warming up
	radicand := max(0, 2.0*s.Y1*s.Y1-s.Y2)
	s.Signal = math.Sqrt(radicand)
	s.Noise = s.Y1 - s.Signal
	switch {
	case s.Signal <= 0:
		return 0
	case s.Noise <= 0:
		return MaxSNR
	}
	return min(MaxSNR, max(0, 10.0*math.Log10(s.Signal/s.Noise)))
}

// Source hands out completed Rx blocks.
type Source interface {
	GetRxIQ() (*proxy.RxBlock, bool)
}

// Monitor is fed from the pipeline context and read by the dashboard.
type Monitor struct {
	fftSize int
	bins    int
	fft     *fourier.CmplxFFT
	in      []complex128
	coeff   []complex128
	pending []complex64
	scratch []complex64

	snr [config.MaxReceivers]*SNRCalc

	mu       sync.RWMutex
	current  [config.MaxReceivers]float64
	spectrum []float64

	Blocks atomic.Uint64
}

// New returns a monitor computing an fftSize point spectrum of receiver 0,
// reduced to bins points. fftSize must be a multiple of bins.
func New(fftSize, bins int) *Monitor {
	m := &Monitor{
		fftSize: fftSize,
		bins:    bins,
		fft:     fourier.NewCmplxFFT(fftSize),
		in:      make([]complex128, fftSize),
		coeff:   make([]complex128, fftSize),
	}
	for i := range m.snr {
		m.snr[i] = NewSNRCalc()
	}
	return m
}

// Observe updates the estimates from one block.
func (m *Monitor) Observe(blk *proxy.RxBlock) {
	m.Blocks.Add(1)
	var snr [config.MaxReceivers]float64
	for rx := 0; rx < blk.Receivers; rx++ {
		m.scratch = blk.Receiver(rx, m.scratch[:0])
		snr[rx] = m.snr[rx].Update(m.scratch)
		if rx == 0 {
			m.pending = append(m.pending, m.scratch...)
		}
	}

	var power []float64
	if len(m.pending) >= m.fftSize {
		power = m.computeSpectrum(m.pending[:m.fftSize])
		m.pending = m.pending[:copy(m.pending, m.pending[m.fftSize:])]
	}

	m.mu.Lock()
	m.current = snr
	if power != nil {
		m.spectrum = power
	}
	m.mu.Unlock()
}

// computeSpectrum returns power in dB with the zero frequency in the
// middle, keeping the peak of every group of fftSize/bins points.
func (m *Monitor) computeSpectrum(iq []complex64) []float64 {
	for i, v := range iq {
		m.in[i] = complex128(v)
	}
	m.fft.Coefficients(m.coeff, m.in)

	group := m.fftSize / m.bins
	out := make([]float64, m.bins)
	for b := range out {
		peak := floorDB
		for k := b * group; k < (b+1)*group; k++ {
			p := float64(tools.ComplexAbsSquared(complex64(m.coeff[m.fft.ShiftIdx(k)])))
			if p <= 0 {
				continue
			}
			peak = max(peak, 10.0*math.Log10(p))
		}
		out[b] = peak
	}
	return out
}

// SNR returns the latest estimate for receiver rx in dB.
func (m *Monitor) SNR(rx int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current[rx]
}

// Spectrum returns a copy of the latest spectrum, or nil before the first.
func (m *Monitor) Spectrum() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.spectrum == nil {
		return nil
	}
	return append([]float64(nil), m.spectrum...)
}

// Run consumes src until ctx is done. Use it when nothing else drains the
// Rx ring.
func (m *Monitor) Run(ctx context.Context, src Source) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			blk, ok := src.GetRxIQ()
			if !ok {
				break
			}
			m.Observe(blk)
		}
	}
}
