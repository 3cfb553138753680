package control

import "github.com/jrwynneiii/hermesproxy/config"

// Detector decides from one frame's worth of transmit samples whether the
// transmitter should be keyed.
type Detector interface {
	Keyed(iq []complex64) bool
}

// Decision is the per-frame outcome of the PTT policy.
type Decision struct {
	Mox    bool // control bit carried in C0
	MuteTx bool // zero the Tx payload of this frame
	MuteRx bool // zero received samples while keyed
}

// Policy combines the PTT mode, the two mute flags and a Detector for vox.
type Policy struct {
	Detector Detector
}

// Decide is called once per outbound sample frame. The detector is only consulted
// in vox mode.
func (p *Policy) Decide(cfg *config.Proxy, iq []complex64) Decision {
	var d Decision
	switch cfg.PTTMode {
	case config.PTTOn:
		d.Mox = true
	case config.PTTVox:
		if p.Detector != nil {
			d.Mox = p.Detector.Keyed(iq)
		}
	}
	return withMutes(cfg, d)
}

// Hold is the decision for a frame that carries no samples. Vox keeps the
// key state mox of the last sample frame and the detector is left alone.
func (p *Policy) Hold(cfg *config.Proxy, mox bool) Decision {
	var d Decision
	switch cfg.PTTMode {
	case config.PTTOn:
		d.Mox = true
	case config.PTTVox:
		d.Mox = mox
	}
	return withMutes(cfg, d)
}

func withMutes(cfg *config.Proxy, d Decision) Decision {
	d.MuteTx = !d.Mox && cfg.PTTOffMutesTx
	d.MuteRx = d.Mox && cfg.PTTOnMutesRx
	return d
}
