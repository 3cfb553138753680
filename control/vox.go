package control

import (
	"github.com/racerxdl/segdsp/tools"
	"gonum.org/v1/gonum/floats"
)

// VoxDetector keys on the peak power of a frame and holds the key for a
// number of frames after the signal drops. It also keeps an exponentially
// smoothed mean power for display.
type VoxDetector struct {
	Threshold  float64 // amplitude, 1.0 = full scale
	HangFrames int

	Alpha float64
	Beta  float64
	Level float64

	hangLeft int
	power    []float64
}

func NewVoxDetector(threshold float64, hangFrames int) *VoxDetector {
	alpha := 0.1
	return &VoxDetector{
		Threshold:  threshold,
		HangFrames: hangFrames,
		Alpha:      alpha,
		Beta:       1.0 - alpha,
	}
}

// Keyed examines one frame of samples. Hang time counts examined frames
// only, so an empty frame reports the current state without using it up.
func (v *VoxDetector) Keyed(iq []complex64) bool {
	if len(iq) == 0 {
		return v.hangLeft > 0
	}
	if cap(v.power) < len(iq) {
		v.power = make([]float64, len(iq))
	}
	v.power = v.power[:len(iq)]
	for i, s := range iq {
		v.power[i] = float64(tools.ComplexAbsSquared(s))
	}

	v.Level = v.Alpha*(floats.Sum(v.power)/float64(len(v.power))) + v.Beta*v.Level

	if floats.Max(v.power) >= v.Threshold*v.Threshold {
		v.hangLeft = v.HangFrames
		return true
	}
	return v.hang()
}

func (v *VoxDetector) hang() bool {
	if v.hangLeft > 0 {
		v.hangLeft--
		return true
	}
	return false
}
