package canfd

// Registers is the memory-mapped register window of one controller. Offsets
// are relative to the controller's base address. Implementations must perform
// accesses synchronously and in program order.
type Registers interface {
	ReadReg(offset uint32) uint32
	WriteReg(offset, value uint32)
}

// Register offsets.
const (
	RegSRR        = 0x000 // software reset
	RegMSR        = 0x004 // mode select
	RegBRPR       = 0x008 // arbitration phase baud rate prescaler
	RegBTR        = 0x00C // arbitration phase bit timing
	RegECR        = 0x010 // error counter
	RegESR        = 0x014 // error status
	RegSR         = 0x018 // status
	RegISR        = 0x01C // interrupt status
	RegIER        = 0x020 // interrupt enable
	RegICR        = 0x024 // interrupt clear
	RegTimestamp  = 0x028 // timestamp counter
	RegFBRPR      = 0x088 // data phase baud rate prescaler
	RegFBTR       = 0x08C // data phase bit timing
	RegTRR        = 0x090 // TX buffer ready request
	RegIETRS      = 0x094 // ready request served interrupt enable
	RegTCR        = 0x098 // TX buffer cancel request
	RegIETCS      = 0x09C // cancel request served interrupt enable
	RegTXEFSR     = 0x0A0 // TX event FIFO status
	RegTXEFWM     = 0x0A4 // TX event FIFO watermark
	RegRCS0       = 0x0B0 // RX buffer control status, mailboxes 0-15
	RegRXBFLL1    = 0x0C0 // RX buffer full interrupt enable, mailboxes 0-31
	RegRXBFLL2    = 0x0C4 // RX buffer full interrupt enable, mailboxes 32-47
	RegAFR        = 0x0E0 // acceptance filter enable
	RegFSR        = 0x0E8 // RX FIFO status
	RegWIR        = 0x0EC // RX FIFO watermark
	regTXBase     = 0x0100
	regTXEBase    = 0x2000
	regRXBase     = 0x2100
	regRX1Base    = 0x4100
	regAFMRBase   = 0x0A00
	regAFIDRBase  = 0x0A04
	regMBMaskBase = 0x2F00
)

// Buffer element geometry.
const (
	bufferStride  = 72 // ID + DLC + 64 data bytes
	txEventStride = 8
	filterStride  = 8
	mbMaskStride  = 4
	dlcOffset     = 4
	dataOffset    = 8
)

// SRR bits.
const (
	srrSRST = 0x1
	srrCEN  = 0x2
)

// MSR bits.
const (
	msrSleep  = 0x01
	msrLBack  = 0x02
	msrSnoop  = 0x04
	msrBRSD   = 0x08
	msrDAR    = 0x10
	msrDPEE   = 0x20
	msrSBR    = 0x40
	msrABR    = 0x80
	msrConfig = 0xF8 // bits preserved across mode changes
)

// SR bits.
const (
	srConfig = 0x0001
	srLBack  = 0x0002
	srSleep  = 0x0004
	srNormal = 0x0008
	srBIdle  = 0x0010
	srBBusy  = 0x0020
	srErrWrn = 0x0040
	srPEE    = 0x0200
	srBSFR   = 0x0400
	srSnoop  = 0x1000
)

// Bit timing fields.
const (
	btrSJWShift = 16
	btrTS2Shift = 8
	btrSJWMask  = 0x007F0000
	btrTS2Mask  = 0x00007F00
	btrTS1Mask  = 0x000000FF
	fbtrSJWMask = 0x000F0000
	fbtrTS2Mask = 0x00000F00
	fbtrTS1Mask = 0x0000001F
	brprMask    = 0xFF

	fbrprTDCEnable = 0x00010000
	fbrprTDCMask   = 0x00003F00
	fbrprTDCShift  = 8
	tdcMaxOffset   = 32
)

// Error counter register.
const (
	ecrRECMask  = 0xFF00
	ecrRECShift = 8
	ecrTECMask  = 0x00FF
)

// Error status register bits.
const (
	ESRCRCError       = 0x001
	ESRFormError      = 0x002
	ESRStuffError     = 0x004
	ESRBitError       = 0x008
	ESRAckError       = 0x010
	ESRDataCRCError   = 0x100
	ESRDataFormError  = 0x200
	ESRDataStuffError = 0x400
	ESRDataBitError   = 0x800
)

// Interrupt bits shared by ISR, IER and ICR.
const (
	IntrArbLost         = 0x00000001
	IntrTxOK            = 0x00000002
	IntrProtocolExcept  = 0x00000004
	IntrBusOffRecovery  = 0x00000008
	IntrRxOK            = 0x00000010
	IntrTsOverflow      = 0x00000020
	IntrRxFIFOOverflow  = 0x00000040
	IntrError           = 0x00000100
	IntrBusOff          = 0x00000200
	IntrSleep           = 0x00000400
	IntrWakeup          = 0x00000800
	IntrRxWatermark     = 0x00001000
	IntrTxReadyServed   = 0x00002000
	IntrTxCancelServed  = 0x00004000
	IntrRxBufferFull    = 0x00008000 // mailbox mode
	IntrRxFIFO1Overflow = 0x00008000 // sequential mode, shares the bit above
	IntrRxBufOverflow   = 0x00010000 // mailbox mode
	IntrRxFIFO1Wmark    = 0x00010000 // sequential mode, shares the bit above
	IntrRxMatchNotDone  = 0x00020000
	IntrTxEvOverflow    = 0x40000000
	IntrTxEvWatermark   = 0x80000000

	IntrAll = IntrArbLost | IntrTxOK | IntrProtocolExcept | IntrBusOffRecovery |
		IntrRxOK | IntrTsOverflow | IntrRxFIFOOverflow | IntrError | IntrBusOff |
		IntrSleep | IntrWakeup | IntrRxWatermark | IntrTxReadyServed |
		IntrTxCancelServed | IntrRxBufferFull | IntrRxBufOverflow |
		IntrRxMatchNotDone | IntrTxEvOverflow | IntrTxEvWatermark

	isrLastRxMask  = 0x00FC0000
	isrLastRxShift = 18
)

// Identifier word layout.
const (
	idStdMask  = 0xFFE00000
	idStdShift = 21
	idSRR      = 0x00100000
	idIDE      = 0x00080000
	idExtMask  = 0x0007FFFE
	idExtShift = 1
	idRTR      = 0x00000001
)

// DLC word layout.
const (
	dlcCodeMask   = 0xF0000000
	dlcCodeShift  = 28
	dlcEDL        = 0x08000000
	dlcBRS        = 0x04000000
	dlcEFC        = 0x01000000
	dlcMMMask     = 0x00FF0000
	dlcMMShift    = 16
	dlcStampMask  = 0x0000FFFF
	dataWordBytes = 4
)

// FIFO status register fields.
const (
	fsrRI0Mask    = 0x0000003F
	fsrIRI0       = 0x00000080
	fsrFL0Mask    = 0x00007F00
	fsrFL0Shift   = 8
	fsrRI1Mask    = 0x003F0000
	fsrRI1Shift   = 16
	fsrIRI1       = 0x00800000
	fsrFL1Mask    = 0x7F000000
	fsrFL1Shift   = 24
	txeRIMask     = 0x0000001F
	txeIRI        = 0x00000080
	txeFLMask     = 0x00003F00
	txeFLShift    = 8
	txeFWMMask    = 0x0000001F
	wirFIFO0Mask  = 0x0000003F
	wirFIFO1Mask  = 0x00003F00
	wirFIFO1Shift = 8
	wirFPMask     = 0x001F0000
	wirFPShift    = 16
)

// Mailbox control status geometry.
const (
	rcsHostMask  = 0xFFFF
	rcsCoreShift = 16
	mailboxBand  = 16
)

const (
	// NumTxBuffers is the size of the transmit buffer pool.
	NumTxBuffers = 32
	// NumFilters is the number of acceptance filter pairs in sequential mode.
	NumFilters = 32
	trrAll     = 0xFFFFFFFF
)

func txIDOffset(i int) uint32   { return regTXBase + uint32(i)*bufferStride }
func txDLCOffset(i int) uint32  { return txIDOffset(i) + dlcOffset }
func txDataOffset(i int) uint32 { return txIDOffset(i) + dataOffset }

func rxIDOffset(fifo, i int) uint32 {
	base := uint32(regRXBase)
	if fifo == 1 {
		base = regRX1Base
	}
	return base + uint32(i)*bufferStride
}
func rxDLCOffset(fifo, i int) uint32  { return rxIDOffset(fifo, i) + dlcOffset }
func rxDataOffset(fifo, i int) uint32 { return rxIDOffset(fifo, i) + dataOffset }

func txEventIDOffset(i int) uint32  { return regTXEBase + uint32(i)*txEventStride }
func txEventDLCOffset(i int) uint32 { return txEventIDOffset(i) + dlcOffset }

func rcsOffset(bank int) uint32 { return RegRCS0 + uint32(bank)*4 }

// mailboxIDOffset is the mailbox filter ID register; it aliases the buffer's
// ID word in the RX buffer area.
func mailboxIDOffset(i int) uint32   { return rxIDOffset(0, i) }
func mailboxMaskOffset(i int) uint32 { return regMBMaskBase + uint32(i)*mbMaskStride }

// filter index is zero based here; the public API is one based.
func afmrOffset(i int) uint32  { return regAFMRBase + uint32(i)*filterStride }
func afidrOffset(i int) uint32 { return regAFIDRBase + uint32(i)*filterStride }

// mailboxBank returns the control status bank of a mailbox buffer and the
// buffer's bit position within it.
func mailboxBank(i int) (bank, bit int) {
	return i / mailboxBand, i % mailboxBand
}
