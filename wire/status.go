package wire

// Status is what one inbound C0..C4 block carries. Only the fields selected
// by Addr are meaningful besides the PTT/dot/dash bits.
type Status struct {
	Addr byte
	PTT  bool
	Dash bool
	Dot  bool

	ADCOverload    bool
	MercuryVersion byte
	PenelopeVer    byte
	HermesVersion  byte

	// A is C1:C2 and B is C3:C4; which inputs they are depends on Addr.
	A, B uint16
}

// Status addresses (C0 bits 7..3, kept in place).
const (
	StatusGeneral byte = 0x00 // ADC overload, firmware versions
	StatusFwdPwr  byte = 0x08 // AIN5 (exciter fwd power), AIN1 (Alex fwd power)
	StatusRevPwr  byte = 0x10 // AIN2 (Alex reverse power), AIN3
	StatusSupply  byte = 0x18 // AIN4, AIN6 (supply volts)
)

// DecodeStatus reads C0..C4 from a USB frame header.
func DecodeStatus(f []byte) Status {
	_ = f[7]
	c0, c1, c2, c3, c4 := f[3], f[4], f[5], f[6], f[7]
	s := Status{
		Addr: c0 & 0xF8,
		PTT:  c0&0x01 != 0,
		Dash: c0&0x02 != 0,
		Dot:  c0&0x04 != 0,
	}
	switch s.Addr {
	case StatusGeneral:
		s.ADCOverload = c1&0x01 != 0
		s.MercuryVersion = c2
		s.PenelopeVer = c3
		s.HermesVersion = c4
	case StatusFwdPwr, StatusRevPwr, StatusSupply:
		s.A = uint16(c1)<<8 | uint16(c2)
		s.B = uint16(c3)<<8 | uint16(c4)
	}
	return s
}
