package canfd

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Frame is a classic CAN or CAN FD frame as stored in a controller buffer.
//
// Supported features:
//   - Standard (11-bit) and Extended (29-bit) identifiers
//   - Data frames and, for classic frames, Remote Transmission Request (RTR)
//   - CAN FD payloads up to 64 bytes with optional bit rate switch
//   - Message marker and event FIFO control for TX event tracking
type Frame struct {
	ID        uint32 // 11-bit (std) or 29-bit (ext)
	Extended  bool   // true for 29-bit identifier
	RTR       bool   // remote transmission request, classic frames only
	FD        bool   // EDL: CAN FD frame format
	BRS       bool   // bit rate switch for the data phase, FD only
	Len       uint8  // payload length in bytes, one of the DLC lengths
	Data      [64]byte
	Marker    uint8  // message marker echoed in the TX event FIFO
	EventFIFO bool   // store a TX event when the frame is sent
	Timestamp uint16 // receive timestamp, filled in by the receive engine
}

// Validation limits.
const (
	maxStdID   = 0x7FF
	maxExtID   = 0x1FFFFFFF
	extIDBits  = 18
	extIDMask  = 0x3FFFF
	maxClassic = 8
	maxFD      = 64
)

// dlcLengths maps a 4-bit data length code to a payload byte count.
var dlcLengths = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DlcToLen returns the payload length in bytes for a 4-bit data length code.
// Classic frames saturate at 8 bytes for codes above 8.
func DlcToLen(code uint8, fd bool) int {
	code &= 0xF
	if !fd && code > maxClassic {
		return maxClassic
	}
	return int(dlcLengths[code])
}

// LenToDlc returns the data length code for an exact payload length. Lengths
// with no exact code (for example 10) return ErrInvalidDLC; use
// LenToDlcCeil to pad instead.
func LenToDlc(n int) (uint8, error) {
	for code, l := range dlcLengths {
		if int(l) == n {
			return uint8(code), nil
		}
	}
	return 0, ErrInvalidDLC
}

// LenToDlcCeil returns the smallest data length code whose length is at least
// n bytes.
func LenToDlcCeil(n int) (uint8, error) {
	if n < 0 || n > maxFD {
		return 0, ErrInvalidDLC
	}
	for code, l := range dlcLengths {
		if int(l) >= n {
			return uint8(code), nil
		}
	}
	return 0, ErrInvalidDLC
}

// Validate returns an error if the frame cannot be stored in a controller
// buffer.
func (f Frame) Validate() error {
	if f.Extended {
		if f.ID > maxExtID {
			return ErrInvalidID
		}
	} else if f.ID > maxStdID {
		return ErrInvalidID
	}
	if f.FD {
		if f.RTR {
			return ErrInvalidFlags
		}
		if f.Len > maxFD {
			return ErrInvalidLen
		}
	} else {
		if f.BRS {
			return ErrInvalidFlags
		}
		if f.Len > maxClassic {
			return ErrInvalidLen
		}
	}
	if _, err := LenToDlc(int(f.Len)); err != nil {
		return err
	}
	return nil
}

// MustFrame constructs a classic Frame and panics if invalid. Convenience for
// examples and tests.
func MustFrame(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	if id > maxStdID {
		f.Extended = true
	}
	if len(data) > maxClassic {
		panic(ErrInvalidLen)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

// MustFDFrame constructs a CAN FD Frame with bit rate switching and panics if
// invalid. The payload length must be one of the DLC lengths.
func MustFDFrame(id uint32, data []byte) Frame {
	f := Frame{ID: id, FD: true, BRS: true}
	if id > maxStdID {
		f.Extended = true
	}
	if len(data) > maxFD {
		panic(ErrInvalidLen)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

// Payload returns the valid bytes of Data.
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }

// String renders the frame in candump-like form, e.g. "123 [2] DE AD" or
// "1ABCDEFF [12] FD BRS 00 01 ...".
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	if f.FD {
		b.WriteString(" FD")
	}
	if f.BRS {
		b.WriteString(" BRS")
	}
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, c := range f.Data[:f.Len] {
		fmt.Fprintf(&b, " %02X", c)
	}
	return b.String()
}

// Identifier word masks for AcceptFilterSet and SetMailboxIDMask.
const (
	MaskStdID = idStdMask | idIDE             // match an exact standard identifier
	MaskExtID = idStdMask | idIDE | idExtMask // match an exact extended identifier
)

// IDWord returns the identifier register value for f. It is the form
// expected by AcceptFilterSet and SetMailboxIDMask.
func (f Frame) IDWord() uint32 { return f.idWord() }

// idWord packs the identifier register value. Standard frames signal RTR
// through SRR; extended frames always set SRR and use the RTR bit.
func (f Frame) idWord() uint32 {
	var v uint32
	if f.Extended {
		v = (f.ID>>extIDBits)<<idStdShift&idStdMask |
			idSRR | idIDE |
			(f.ID&extIDMask)<<idExtShift&idExtMask
		if f.RTR {
			v |= idRTR
		}
		return v
	}
	v = f.ID << idStdShift & idStdMask
	if f.RTR {
		v |= idSRR
	}
	return v
}

// dlcWord packs the DLC/control register value. f must be valid.
func (f Frame) dlcWord() uint32 {
	code, _ := LenToDlc(int(f.Len))
	v := uint32(code) << dlcCodeShift & dlcCodeMask
	if f.FD {
		v |= dlcEDL
	}
	if f.BRS {
		v |= dlcBRS
	}
	if f.EventFIFO {
		v |= dlcEFC
	}
	v |= uint32(f.Marker) << dlcMMShift & dlcMMMask
	return v
}

// dataWord returns the i-th payload word in register byte order.
func (f *Frame) dataWord(i int) uint32 {
	return binary.BigEndian.Uint32(f.Data[i*dataWordBytes:])
}

func (f *Frame) setDataWord(i int, v uint32) {
	binary.BigEndian.PutUint32(f.Data[i*dataWordBytes:], v)
}

// setIDWord unpacks an identifier register value into f.
func (f *Frame) setIDWord(v uint32) {
	base := (v & idStdMask) >> idStdShift
	f.Extended = v&idIDE != 0
	if f.Extended {
		f.ID = base<<extIDBits | (v&idExtMask)>>idExtShift
		f.RTR = v&idRTR != 0
	} else {
		f.ID = base
		f.RTR = v&idSRR != 0
	}
}

// setDLCWord unpacks a DLC/control register value into f and returns the
// number of payload bytes that follow.
func (f *Frame) setDLCWord(v uint32) int {
	f.FD = v&dlcEDL != 0
	f.BRS = v&dlcBRS != 0
	f.EventFIFO = v&dlcEFC != 0
	f.Marker = uint8((v & dlcMMMask) >> dlcMMShift)
	f.Timestamp = uint16(v & dlcStampMask)
	n := DlcToLen(uint8((v&dlcCodeMask)>>dlcCodeShift), f.FD)
	f.Len = uint8(n)
	return n
}

// dataWords returns the number of 32-bit words holding n payload bytes.
func dataWords(n int) int { return (n + dataWordBytes - 1) / dataWordBytes }

// Linux SocketCAN flags and sizes.
const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canEffMask = 0x1FFFFFFF
	canStdMask = 0x7FF
	canfdBRS   = 0x01
	canfdFDF   = 0x04
	canMTU     = 16
	canfdMTU   = 72
)

// MarshalBinary encodes the frame to the Linux SocketCAN layout: the 16-byte
// "struct can_frame" for classic frames and the 72-byte "struct canfd_frame"
// for FD frames.
//
// Layout (little-endian):
//
//	0..3  can_id (with flags: EFF/RTR)
//	4     len
//	5     flags (FD only: BRS, FDF)
//	6..7  reserved
//	8..   data bytes
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	size := canMTU
	if f.FD {
		size = canfdMTU
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	if f.FD {
		buf[5] = canfdFDF
		if f.BRS {
			buf[5] |= canfdBRS
		}
	}
	copy(buf[8:], f.Data[:size-8])
	return buf, nil
}

// UnmarshalBinary decodes a frame from either SocketCAN layout. The layout is
// chosen by the length of data.
func (f *Frame) UnmarshalBinary(data []byte) error {
	switch len(data) {
	case canMTU, canfdMTU:
	default:
		return fmt.Errorf("canfd: need %d or %d bytes, got %d", canMTU, canfdMTU, len(data))
	}
	*f = Frame{}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & canEffMask
	} else {
		f.ID = id & canStdMask
	}
	f.Len = data[4]
	if len(data) == canfdMTU {
		f.FD = true
		f.BRS = data[5]&canfdBRS != 0
	}
	copy(f.Data[:], data[8:])
	return f.Validate()
}
