package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/knadh/koanf/v2"
)

const (
	MaxReceivers   = 8
	NumRxIQBufs    = 128
	RxBufSize      = 256
	NumTxBufs      = 128
	TxInitialBurst = 4
	IdleFrames     = 10
)

type PTTMode int

const (
	PTTOff PTTMode = iota
	PTTVox
	PTTOn
)

func (m PTTMode) String() string {
	switch m {
	case PTTOff:
		return "off"
	case PTTVox:
		return "vox"
	case PTTOn:
		return "on"
	default:
		return fmt.Sprintf("PTTMode(%d)", int(m))
	}
}

func ParsePTTMode(s string) (PTTMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return PTTOff, nil
	case "vox":
		return PTTVox, nil
	case "on":
		return PTTOn, nil
	}
	return PTTOff, fmt.Errorf("%w: %q", ErrPTTMode, s)
}

var (
	ErrTooManyReceivers = errors.New("receiver count out of range")
	ErrSampleRate       = errors.New("unsupported sample rate")
	ErrPTTMode          = errors.New("unknown PTT mode")
	ErrMACAddress       = errors.New("bad MAC address")
	ErrRingSize         = errors.New("ring size must be a power of two")
	ErrFrequency        = errors.New("frequency out of range")
	ErrClockSource      = errors.New("unknown clock source")
	ErrAlex             = errors.New("alex selection out of range")
)

// Proxy holds everything a HermesProxy instance reads while building frames.
// Values are copied; the proxy swaps whole snapshots, never single fields.
type Proxy struct {
	RxFrequency  [MaxReceivers]uint32 `koanf:"rx_frequency"`
	TxFrequency  uint32               `koanf:"tx_frequency"`
	NumReceivers int                  `koanf:"num_receivers"`
	SampleRate   int                  `koanf:"sample_rate"`

	TxDrive uint8 `koanf:"tx_drive"`
	// RxAtten is accepted but the attenuator register is always sent disabled.
	RxAtten uint8 `koanf:"rx_atten"`

	// ClockSource holds the upper six bits of the clock control register.
	ClockSource uint8 `koanf:"clock_source"`

	AlexRxAnt uint8 `koanf:"alex_rx_ant"`
	AlexTxAnt uint8 `koanf:"alex_tx_ant"`
	AlexRxHPF uint8 `koanf:"alex_rx_hpf"`
	AlexTxLPF uint8 `koanf:"alex_tx_lpf"`

	PTTMode       PTTMode `koanf:"-"`
	PTTOffMutesTx bool    `koanf:"ptt_off_mutes_tx"`
	PTTOnMutesRx  bool    `koanf:"ptt_on_mutes_rx"`

	RxPreamp  bool `koanf:"rx_preamp"`
	ADCDither bool `koanf:"adc_dither"`
	ADCRandom bool `koanf:"adc_random"`
	Duplex    bool `koanf:"duplex"`

	Interface string `koanf:"interface"`
	// MACTarget selects one board when several answer discovery. Empty
	// means the first board found.
	MACTarget string `koanf:"mac_target"`
	Verbose   int    `koanf:"verbose"`

	NumRxBufs  int `koanf:"num_rx_bufs"`
	RxBufSize  int `koanf:"rx_buf_size"`
	NumTxBufs  int `koanf:"num_tx_bufs"`
	IdleFrames int `koanf:"idle_frames"`

	VoxThreshold  float64 `koanf:"vox_threshold"`
	VoxHangFrames int     `koanf:"vox_hang_frames"`
}

type MetricsConf struct {
	Listen string `koanf:"listen"`
	Path   string `koanf:"path"`
}

type SinkConf struct {
	Destination string `koanf:"destination"`
	SSRC        uint32 `koanf:"ssrc"`
	PayloadType uint8  `koanf:"payload_type"`
	TickMs      int    `koanf:"tick_ms"`
}

type TuiConf struct {
	RefreshMs       int     `koanf:"refresh_ms"`
	RevPwrWarnPct   float64 `koanf:"rev_pwr_warn_pct"`
	RevPwrCritPct   float64 `koanf:"rev_pwr_crit_pct"`
	EnableLogOutput bool    `koanf:"enable_log_output"`
}

// Default returns a single-receiver configuration at 48 kHz on 40 m.
func Default() Proxy {
	p := Proxy{
		TxFrequency:   7100000,
		NumReceivers:  1,
		SampleRate:    48000,
		ClockSource:   0xFC,
		PTTMode:       PTTOff,
		PTTOffMutesTx: true,
		PTTOnMutesRx:  true,
		Duplex:        true,
		NumRxBufs:     NumRxIQBufs,
		RxBufSize:     RxBufSize,
		NumTxBufs:     NumTxBufs,
		IdleFrames:    IdleFrames,
		VoxThreshold:  0.01,
		VoxHangFrames: 50,
	}
	for i := range p.RxFrequency {
		p.RxFrequency[i] = 7100000
	}
	return p
}

// SpeedCode maps a sample rate to the two-bit speed field of register 0x00.
func SpeedCode(rate int) (byte, error) {
	switch rate {
	case 48000:
		return 0b00, nil
	case 96000:
		return 0b01, nil
	case 192000:
		return 0b10, nil
	case 384000:
		return 0b11, nil
	}
	return 0, fmt.Errorf("%w: %d (want 48000, 96000, 192000 or 384000)", ErrSampleRate, rate)
}

// ParseClockSource accepts the hex form used on the command line ("0xFC") or
// a named preset.
func ParseClockSource(s string) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "default":
		return 0xFC, nil
	case "internal":
		return 0x00, nil
	}
	var v uint
	if _, err := fmt.Sscanf(s, "0x%x", &v); err != nil || v > 0xff {
		return 0, fmt.Errorf("%w: %q", ErrClockSource, s)
	}
	if v&0x03 != 0 {
		return 0, fmt.Errorf("%w: %q uses the speed bits", ErrClockSource, s)
	}
	return uint8(v), nil
}

// Validate rejects values that would otherwise only show up mid-stream.
func (p *Proxy) Validate() error {
	if p.NumReceivers < 1 || p.NumReceivers > MaxReceivers {
		return fmt.Errorf("%w: %d (1..%d)", ErrTooManyReceivers, p.NumReceivers, MaxReceivers)
	}
	if _, err := SpeedCode(p.SampleRate); err != nil {
		return err
	}
	if p.PTTMode < PTTOff || p.PTTMode > PTTOn {
		return fmt.Errorf("%w: %d", ErrPTTMode, int(p.PTTMode))
	}
	if p.MACTarget != "" {
		if _, err := ParseMAC(p.MACTarget); err != nil {
			return err
		}
	}
	for _, n := range []int{p.NumRxBufs, p.RxBufSize, p.NumTxBufs} {
		if n <= 0 || n&(n-1) != 0 {
			return fmt.Errorf("%w: %d", ErrRingSize, n)
		}
	}
	if p.RxBufSize < 2*p.NumReceivers {
		return fmt.Errorf("%w: rx_buf_size %d cannot hold one row of %d receivers", ErrRingSize, p.RxBufSize, p.NumReceivers)
	}
	if p.ClockSource&0x03 != 0 {
		return fmt.Errorf("%w: 0x%02x uses the speed bits", ErrClockSource, p.ClockSource)
	}
	if p.AlexRxAnt > 0x07 || p.AlexTxAnt > 0x03 || p.AlexRxHPF > 0x7f || p.AlexTxLPF > 0x7f {
		return fmt.Errorf("%w: rx_ant=%d tx_ant=%d hpf=0x%02x lpf=0x%02x", ErrAlex, p.AlexRxAnt, p.AlexTxAnt, p.AlexRxHPF, p.AlexTxLPF)
	}
	if p.VoxThreshold < 0 || math.IsNaN(p.VoxThreshold) || p.VoxHangFrames < 0 || p.IdleFrames < 1 {
		return fmt.Errorf("invalid vox/idle settings: threshold=%v hang=%d idle=%d", p.VoxThreshold, p.VoxHangFrames, p.IdleFrames)
	}
	return nil
}

// ParseMAC accepts "HH:HH:HH:HH:HH:HH".
func ParseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("%w: %q", ErrMACAddress, s)
	}
	return mac, nil
}

// CheckFrequency guards the 32-bit NCO registers.
func CheckFrequency(hz uint64) (uint32, error) {
	if hz > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d Hz", ErrFrequency, hz)
	}
	return uint32(hz), nil
}

// FromKoanf reads the "hermes" section over the defaults.
func FromKoanf(k *koanf.Koanf) (Proxy, error) {
	p := Default()
	if err := k.Unmarshal("hermes", &p); err != nil {
		return p, fmt.Errorf("could not read hermes config: %w", err)
	}
	if k.Exists("hermes.ptt_mode") {
		mode, err := ParsePTTMode(k.String("hermes.ptt_mode"))
		if err != nil {
			return p, err
		}
		p.PTTMode = mode
	}
	if k.Exists("hermes.clock") {
		cs, err := ParseClockSource(k.String("hermes.clock"))
		if err != nil {
			return p, err
		}
		p.ClockSource = cs
	}
	// hermes.frequency tunes every receiver and, unless set separately, the transmitter.
	if k.Exists("hermes.frequency") {
		f, err := CheckFrequency(uint64(k.Int64("hermes.frequency")))
		if err != nil {
			return p, err
		}
		for i := range p.RxFrequency {
			p.RxFrequency[i] = f
		}
		if !k.Exists("hermes.tx_frequency") {
			p.TxFrequency = f
		}
	}
	return p, p.Validate()
}

// Sections reads the metrics, sink and tui blocks. Missing blocks keep
// their defaults.
func Sections(k *koanf.Koanf) (MetricsConf, SinkConf, TuiConf, error) {
	m := MetricsConf{Path: "/metrics"}
	s := SinkConf{SSRC: 0x48505200, PayloadType: 96, TickMs: 5}
	t := TuiConf{RefreshMs: 500, RevPwrWarnPct: 25, RevPwrCritPct: 50, EnableLogOutput: true}
	if err := k.Unmarshal("metrics", &m); err != nil {
		return m, s, t, fmt.Errorf("could not read metrics config: %w", err)
	}
	if err := k.Unmarshal("sink", &s); err != nil {
		return m, s, t, fmt.Errorf("could not read sink config: %w", err)
	}
	if err := k.Unmarshal("tui", &t); err != nil {
		return m, s, t, fmt.Errorf("could not read tui config: %w", err)
	}
	return m, s, t, nil
}
