package canfd

import (
	"fmt"
	"strings"
)

// Mode is a controller operation mode. GetMode may OR ModePEE into the
// basic mode it reports.
type Mode uint8

const (
	ModeConfig   Mode = 0x01
	ModeNormal   Mode = 0x02
	ModeLoopback Mode = 0x04
	ModeSleep    Mode = 0x08
	ModeSnoop    Mode = 0x10
	ModeABR      Mode = 0x20 // auto bus-off recovery
	ModeSBR      Mode = 0x40 // start bus-off recovery
	ModePEE      Mode = 0x80 // protocol exception event
	ModeDAR      Mode = 0x0A // disable auto retransmission
)

var modeNames = []struct {
	m    Mode
	name string
}{
	{ModeConfig, "config"},
	{ModeNormal, "normal"},
	{ModeLoopback, "loopback"},
	{ModeSleep, "sleep"},
	{ModeSnoop, "snoop"},
	{ModeABR, "abr"},
	{ModeSBR, "sbr"},
}

func (m Mode) String() string {
	if m == ModeDAR {
		return "dar"
	}
	var parts []string
	for _, n := range modeNames {
		if m&n.m != 0 {
			parts = append(parts, n.name)
		}
	}
	if m&ModePEE != 0 {
		parts = append(parts, "pee")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Mode(%#x)", uint8(m))
	}
	return strings.Join(parts, "|")
}

// ParseMode parses the names produced by Mode.String for a single mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "dar":
		return ModeDAR, nil
	case "pee":
		return ModePEE, nil
	}
	for _, n := range modeNames {
		if n.name == strings.ToLower(s) {
			return n.m, nil
		}
	}
	return 0, fmt.Errorf("%w: mode %q", ErrInvalidParam, s)
}

// GetMode reads the status register and reports the current mode.
func (d *Device) GetMode() (Mode, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.mode(), nil
}

func (d *Device) mode() Mode {
	sr := d.read(RegSR)
	var m Mode
	switch {
	case sr&srConfig != 0:
		m = ModeConfig
	case sr&srSleep != 0:
		m = ModeSleep
	case sr&srNormal != 0:
		if sr&srSnoop != 0 {
			m = ModeSnoop
		} else {
			m = ModeNormal
		}
	default:
		m = ModeLoopback
	}
	if sr&srPEE != 0 {
		m |= ModePEE
	}
	return m
}

// EnterMode switches the controller to the target mode. Normal to Sleep and
// Sleep to Normal are done with a single MSR write; every other transition
// passes through Config mode. If the core does not report Config mode after
// the enable bit is cleared, ErrModeTransition is returned and the target
// mode is not applied.
func (d *Device) EnterMode(target Mode) error {
	if err := d.check(); err != nil {
		return err
	}
	var bits uint32
	enable := true
	switch target {
	case ModeConfig:
		enable = false
	case ModeNormal:
	case ModeSleep:
		bits = msrSleep
	case ModeLoopback:
		bits = msrLBack
	case ModeSnoop:
		bits = msrSnoop
	case ModeABR:
		bits = msrABR
	case ModeSBR:
		bits = msrSBR
		enable = false
	case ModePEE:
		bits = msrDPEE
	case ModeDAR:
		bits = msrDAR
	default:
		return fmt.Errorf("%w: mode %#x", ErrInvalidParam, uint8(target))
	}

	cur := d.mode() &^ ModePEE
	msr := d.read(RegMSR) & msrConfig
	if cur == ModeNormal && target == ModeSleep {
		d.write(RegMSR, msrSleep|msr)
		return nil
	}
	if cur == ModeSleep && target == ModeNormal {
		d.write(RegMSR, msr)
		return nil
	}

	d.write(RegSRR, 0)
	if got := d.mode(); got&^ModePEE != ModeConfig {
		d.log.Warn("canfd mode transition failed", "device", d.cfg.DeviceID, "from", cur.String(), "to", target.String(), "got", got.String())
		return fmt.Errorf("%w: %v to %v, core reports %v", ErrModeTransition, cur, target, got)
	}
	if target == ModeConfig {
		return nil
	}
	d.write(RegMSR, bits|msr)
	if enable {
		d.write(RegSRR, srrCEN)
	}
	d.log.Debug("canfd mode", "device", d.cfg.DeviceID, "mode", target.String())
	return nil
}

// requireConfig returns ErrNotConfigMode unless the core is in Config mode.
func (d *Device) requireConfig() error {
	if err := d.check(); err != nil {
		return err
	}
	if m := d.mode(); m&^ModePEE != ModeConfig {
		return fmt.Errorf("%w: mode is %v", ErrNotConfigMode, m)
	}
	return nil
}

// Bit timing limits, exclusive.
const (
	maxSJW  = 0x80
	maxTS2  = 0x80
	maxTS1  = 0x100
	maxFSJW = 0x10
	maxFTS2 = 0x10
	maxFTS1 = 0x20
)

// SetBaudRatePrescaler sets the arbitration phase prescaler. The register
// holds prescaler-1 in hardware terms; the value is written as given.
func (d *Device) SetBaudRatePrescaler(prescaler uint8) error {
	if err := d.requireConfig(); err != nil {
		return err
	}
	d.write(RegBRPR, uint32(prescaler))
	return nil
}

// BaudRatePrescaler returns the arbitration phase prescaler.
func (d *Device) BaudRatePrescaler() (uint8, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return uint8(d.read(RegBRPR) & brprMask), nil
}

// SetFBaudRatePrescaler sets the data phase prescaler. The transceiver delay
// compensation fields of the register are preserved.
func (d *Device) SetFBaudRatePrescaler(prescaler uint8) error {
	if err := d.requireConfig(); err != nil {
		return err
	}
	v := d.read(RegFBRPR) &^ brprMask
	d.write(RegFBRPR, v|uint32(prescaler))
	return nil
}

// FBaudRatePrescaler returns the data phase prescaler.
func (d *Device) FBaudRatePrescaler() (uint8, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return uint8(d.read(RegFBRPR) & brprMask), nil
}

// BitTiming holds the segments of one bit time, in time quanta minus one.
type BitTiming struct {
	SJW uint8
	TS2 uint8
	TS1 uint16
}

// SetBitTiming programs the arbitration phase bit timing.
func (d *Device) SetBitTiming(sjw, ts2 uint8, ts1 uint16) error {
	if sjw >= maxSJW || ts2 >= maxTS2 || ts1 >= maxTS1 {
		return fmt.Errorf("%w: bit timing sjw=%d ts2=%d ts1=%d", ErrInvalidParam, sjw, ts2, ts1)
	}
	if err := d.requireConfig(); err != nil {
		return err
	}
	v := uint32(sjw)<<btrSJWShift&btrSJWMask |
		uint32(ts2)<<btrTS2Shift&btrTS2Mask |
		uint32(ts1)&btrTS1Mask
	d.write(RegBTR, v)
	return nil
}

// GetBitTiming returns the arbitration phase bit timing.
func (d *Device) GetBitTiming() (BitTiming, error) {
	if err := d.check(); err != nil {
		return BitTiming{}, err
	}
	v := d.read(RegBTR)
	return BitTiming{
		SJW: uint8((v & btrSJWMask) >> btrSJWShift),
		TS2: uint8((v & btrTS2Mask) >> btrTS2Shift),
		TS1: uint16(v & btrTS1Mask),
	}, nil
}

// SetFBitTiming programs the data phase bit timing.
func (d *Device) SetFBitTiming(sjw, ts2, ts1 uint8) error {
	if sjw >= maxFSJW || ts2 >= maxFTS2 || ts1 >= maxFTS1 {
		return fmt.Errorf("%w: data bit timing sjw=%d ts2=%d ts1=%d", ErrInvalidParam, sjw, ts2, ts1)
	}
	if err := d.requireConfig(); err != nil {
		return err
	}
	v := uint32(sjw)<<btrSJWShift&fbtrSJWMask |
		uint32(ts2)<<btrTS2Shift&fbtrTS2Mask |
		uint32(ts1)&fbtrTS1Mask
	d.write(RegFBTR, v)
	return nil
}

// GetFBitTiming returns the data phase bit timing.
func (d *Device) GetFBitTiming() (BitTiming, error) {
	if err := d.check(); err != nil {
		return BitTiming{}, err
	}
	v := d.read(RegFBTR)
	return BitTiming{
		SJW: uint8((v & fbtrSJWMask) >> btrSJWShift),
		TS2: uint8((v & fbtrTS2Mask) >> btrTS2Shift),
		TS1: uint16(v & fbtrTS1Mask),
	}, nil
}

// SetBitRateSwitchNominal controls MSR.BRSD. When enable is false the core
// transmits FD frames at the nominal rate even if BRS is set.
func (d *Device) SetBitRateSwitchNominal(enable bool) error {
	if err := d.requireConfig(); err != nil {
		return err
	}
	v := d.read(RegMSR)
	if enable {
		v &^= msrBRSD
	} else {
		v |= msrBRSD
	}
	d.write(RegMSR, v)
	return nil
}

// EnableTDC turns on transceiver delay compensation.
func (d *Device) EnableTDC() error {
	if err := d.requireConfig(); err != nil {
		return err
	}
	d.write(RegFBRPR, d.read(RegFBRPR)|fbrprTDCEnable)
	return nil
}

// DisableTDC turns off transceiver delay compensation.
func (d *Device) DisableTDC() error {
	if err := d.requireConfig(); err != nil {
		return err
	}
	d.write(RegFBRPR, d.read(RegFBRPR)&^fbrprTDCEnable)
	return nil
}

// SetTDCOffset sets the transceiver delay compensation offset, 0 to 32.
func (d *Device) SetTDCOffset(offset uint8) error {
	if offset > tdcMaxOffset {
		return fmt.Errorf("%w: tdc offset %d", ErrInvalidParam, offset)
	}
	if err := d.requireConfig(); err != nil {
		return err
	}
	v := d.read(RegFBRPR) &^ fbrprTDCMask
	d.write(RegFBRPR, v|uint32(offset)<<fbrprTDCShift&fbrprTDCMask)
	return nil
}

// TDCOffset returns the transceiver delay compensation offset.
func (d *Device) TDCOffset() (uint8, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return uint8((d.read(RegFBRPR) & fbrprTDCMask) >> fbrprTDCShift), nil
}

// SetRxWatermark sets the fill level at which RX FIFO 0 or 1 raises its
// watermark interrupt.
func (d *Device) SetRxWatermark(fifo int, level uint8) error {
	if fifo != 0 && fifo != 1 || level > wirFIFO0Mask {
		return fmt.Errorf("%w: fifo %d watermark %d", ErrInvalidParam, fifo, level)
	}
	if err := d.requireConfig(); err != nil {
		return err
	}
	v := d.read(RegWIR)
	if fifo == 0 {
		v = v&^wirFIFO0Mask | uint32(level)
	} else {
		v = v&^wirFIFO1Mask | uint32(level)<<wirFIFO1Shift
	}
	d.write(RegWIR, v)
	return nil
}

// RxWatermark returns the watermark of RX FIFO 0 or 1.
func (d *Device) RxWatermark(fifo int) (uint8, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	v := d.read(RegWIR)
	if fifo == 1 {
		return uint8((v & wirFIFO1Mask) >> wirFIFO1Shift), nil
	}
	return uint8(v & wirFIFO0Mask), nil
}

// SetRxFilterPartition sets how many acceptance filters route to FIFO 0; the
// remainder route to FIFO 1.
func (d *Device) SetRxFilterPartition(n uint8) error {
	if n > NumFilters-1 {
		return fmt.Errorf("%w: filter partition %d", ErrInvalidParam, n)
	}
	if err := d.requireConfig(); err != nil {
		return err
	}
	v := d.read(RegWIR) &^ wirFPMask
	d.write(RegWIR, v|uint32(n)<<wirFPShift)
	return nil
}

// SetTxEventWatermark sets the TX event FIFO watermark.
func (d *Device) SetTxEventWatermark(level uint8) error {
	if level > txeFWMMask {
		return fmt.Errorf("%w: tx event watermark %d", ErrInvalidParam, level)
	}
	if err := d.requireConfig(); err != nil {
		return err
	}
	d.write(RegTXEFWM, uint32(level))
	return nil
}
