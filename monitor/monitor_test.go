package monitor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/jrwynneiii/hermesproxy/proxy"
)

func toneBlock(receivers, rows int, start int, cycles float64, noise float64, rng *rand.Rand) *proxy.RxBlock {
	b := &proxy.RxBlock{Samples: make([]float32, 2*receivers*rows), Receivers: receivers, Rows: rows}
	for row := 0; row < rows; row++ {
		ph := 2 * math.Pi * cycles * float64(start+row)
		for rx := 0; rx < receivers; rx++ {
			i := 0.5 * math.Cos(ph)
			q := 0.5 * math.Sin(ph)
			if rng != nil {
				i += noise * rng.NormFloat64()
				q += noise * rng.NormFloat64()
			}
			b.Samples[2*(row*receivers+rx)] = float32(i)
			b.Samples[2*(row*receivers+rx)+1] = float32(q)
		}
	}
	return b
}

func TestSNRCalc(t *testing.T) {
	clean := NewSNRCalc()
	noisy := NewSNRCalc()
	rng := rand.New(rand.NewSource(1))

	var cleanDB, noisyDB float64
	for n := 0; n < 100; n++ {
		cleanDB = clean.Update(toneBlock(1, 128, n*128, 0.01, 0, nil).Receiver(0, nil))
		noisyDB = noisy.Update(toneBlock(1, 128, n*128, 0.01, 0.2, rng).Receiver(0, nil))
	}
	if cleanDB < 30 {
		t.Errorf("clean tone SNR = %.1f dB", cleanDB)
	}
	if noisyDB >= cleanDB || noisyDB <= 0 {
		t.Errorf("noisy SNR = %.1f dB, clean %.1f dB", noisyDB, cleanDB)
	}

	silent := NewSNRCalc()
	if got := silent.Update(make([]complex64, 256)); got != 0 {
		t.Errorf("silence SNR = %v", got)
	}
}

func TestSpectrumPeak(t *testing.T) {
	const size, bins = 1024, 128
	m := New(size, bins)
	if m.Spectrum() != nil {
		t.Fatal("spectrum before any block")
	}

	// a quarter of the sample rate lands at bin size/4, shifted to 3/4 of
	// the display
	for n := 0; n < size/128; n++ {
		m.Observe(toneBlock(2, 128, n*128, 0.25, 0, nil))
	}
	power := m.Spectrum()
	if len(power) != bins {
		t.Fatalf("spectrum has %d bins", len(power))
	}
	peak := 0
	for i, v := range power {
		if v > power[peak] {
			peak = i
		}
	}
	if peak != 3*bins/4 {
		t.Errorf("peak at bin %d, want %d", peak, 3*bins/4)
	}
	if m.Blocks.Load() != size/128 {
		t.Errorf("blocks = %d", m.Blocks.Load())
	}
	if m.SNR(1) <= 0 {
		t.Errorf("receiver 1 SNR = %v", m.SNR(1))
	}
}
