// Package cmdset describes the SPI command protocol of the Semtech SX126x
// (sub-GHz) and SX128x (2.4GHz) LoRa transceivers. The two chips share one
// command shape, an opcode byte followed by parameter bytes, but differ in
// opcode values, register addresses, interrupt bit layout, frequency word
// scaling and parameter encodings. Each divergence lives in a per-variant
// Table so the driver above can stay variant-agnostic.
//
// Encoders are append-style and pure: they validate, then append the full
// SPI transaction to dst, including the NOP padding the chip requires to
// clock out responses. Parsers take the full-duplex readback of that same
// transaction.
package cmdset

import (
	"errors"
	"time"
)

// Variant identifies which transceiver the command table targets.
type Variant uint8

const (
	SX126x Variant = iota // sub-GHz: SX1261/SX1262/SX1268
	SX128x                // 2.4GHz: SX1280/SX1281
)

func (v Variant) String() string {
	switch v {
	case SX126x:
		return "SX126x"
	case SX128x:
		return "SX128x"
	}
	return "unknown"
}

// Table returns the command table for the variant. The result is shared
// and read-only.
func (v Variant) Table() *Table {
	switch v {
	case SX126x:
		return &tableSX126x
	case SX128x:
		return &tableSX128x
	}
	return nil
}

// FIFOSize is the data buffer size in bytes, identical on both variants.
const FIFOSize = 255

// TimeoutStep is the Tx/Rx timeout tick. The SX126x hardwires it; on the
// SX128x it is the period base this package always selects.
const TimeoutStep = 15625 * time.Nanosecond

// Cmd is a logical command identifier, the index into a variant's opcode
// table. The byte on the wire differs between variants for several commands.
type Cmd uint8

const (
	CmdGetStatus Cmd = iota
	CmdWriteRegister
	CmdReadRegister
	CmdWriteBuffer
	CmdReadBuffer
	CmdSetSleep
	CmdSetStandby
	CmdSetFs
	CmdSetTx
	CmdSetRx
	CmdSetPacketType
	CmdGetPacketType
	CmdSetRfFrequency
	CmdSetTxParams
	CmdSetPaConfig
	CmdSetRegulatorMode
	CmdCalibrate
	CmdCalibrateImage
	CmdSetDioIrqParams
	CmdGetIrqStatus
	CmdClearIrqStatus
	CmdSetModulationParams
	CmdSetPacketParams
	CmdSetBufferBaseAddress
	CmdGetRxBufferStatus
	CmdGetPacketStatus
	CmdGetRssiInst
	CmdGetStats
	CmdResetStats
	CmdGetDeviceErrors
	CmdClearDeviceErrors
	CmdSetRxTxFallbackMode
	CmdSetDio2AsRfSwitchCtrl
	numCmds
)

func (c Cmd) String() string {
	if int(c) >= len(cmdNames) {
		return "unknown"
	}
	return cmdNames[c]
}

var cmdNames = [numCmds]string{
	CmdGetStatus:             "GetStatus",
	CmdWriteRegister:         "WriteRegister",
	CmdReadRegister:          "ReadRegister",
	CmdWriteBuffer:           "WriteBuffer",
	CmdReadBuffer:            "ReadBuffer",
	CmdSetSleep:              "SetSleep",
	CmdSetStandby:            "SetStandby",
	CmdSetFs:                 "SetFs",
	CmdSetTx:                 "SetTx",
	CmdSetRx:                 "SetRx",
	CmdSetPacketType:         "SetPacketType",
	CmdGetPacketType:         "GetPacketType",
	CmdSetRfFrequency:        "SetRfFrequency",
	CmdSetTxParams:           "SetTxParams",
	CmdSetPaConfig:           "SetPaConfig",
	CmdSetRegulatorMode:      "SetRegulatorMode",
	CmdCalibrate:             "Calibrate",
	CmdCalibrateImage:        "CalibrateImage",
	CmdSetDioIrqParams:       "SetDioIrqParams",
	CmdGetIrqStatus:          "GetIrqStatus",
	CmdClearIrqStatus:        "ClearIrqStatus",
	CmdSetModulationParams:   "SetModulationParams",
	CmdSetPacketParams:       "SetPacketParams",
	CmdSetBufferBaseAddress:  "SetBufferBaseAddress",
	CmdGetRxBufferStatus:     "GetRxBufferStatus",
	CmdGetPacketStatus:       "GetPacketStatus",
	CmdGetRssiInst:           "GetRssiInst",
	CmdGetStats:              "GetStats",
	CmdResetStats:            "ResetStats",
	CmdGetDeviceErrors:       "GetDeviceErrors",
	CmdClearDeviceErrors:     "ClearDeviceErrors",
	CmdSetRxTxFallbackMode:   "SetRxTxFallbackMode",
	CmdSetDio2AsRfSwitchCtrl: "SetDio2AsRfSwitchCtrl",
}

// opNone marks a command absent from a variant's command set.
const opNone = 0xFF

// PacketTypeLoRa is the LoRa protocol selector for SetPacketType,
// identical on both variants.
const PacketTypeLoRa = 0x01

var (
	ErrMalformedResponse  = errors.New("cmdset: malformed response")
	ErrCommandUnavailable = errors.New("cmdset: command not available on variant")
)

// InvalidParameterError reports a parameter outside the variant's legal
// range. Values are rejected, never clamped or truncated.
type InvalidParameterError struct {
	Param string
}

func (e *InvalidParameterError) Error() string {
	return "cmdset: invalid parameter: " + e.Param
}

func errParam(name string) error { return &InvalidParameterError{Param: name} }

// Event is a variant-independent interrupt bitset. Table maps it to and
// from each chip's IRQ register layout.
type Event uint16

const (
	EventTxDone Event = 1 << iota
	EventRxDone
	EventPreambleDetected
	EventSyncWordValid
	EventSyncWordError // SX128x only
	EventHeaderValid
	EventHeaderError
	EventCrcError
	EventCadDone
	EventCadDetected
	EventTimeout
	numEvents = iota
)

// EventAll covers every event the variant-independent set can express.
const EventAll Event = 1<<numEvents - 1

var eventNames = [numEvents]string{
	"TxDone", "RxDone", "PreambleDetected", "SyncWordValid", "SyncWordError",
	"HeaderValid", "HeaderError", "CrcError", "CadDone", "CadDetected", "Timeout",
}

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	for i := 0; i < numEvents; i++ {
		if e&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += eventNames[i]
	}
	return s
}

// ChipMode is the circuit mode field of the chip's status byte.
type ChipMode uint8

const (
	ChipModeStbyRC   ChipMode = 2
	ChipModeStbyXOSC ChipMode = 3
	ChipModeFs       ChipMode = 4
	ChipModeRx       ChipMode = 5
	ChipModeTx       ChipMode = 6
)

func (m ChipMode) String() string {
	switch m {
	case ChipModeStbyRC:
		return "STDBY_RC"
	case ChipModeStbyXOSC:
		return "STDBY_XOSC"
	case ChipModeFs:
		return "FS"
	case ChipModeRx:
		return "RX"
	case ChipModeTx:
		return "TX"
	}
	return "unknown"
}

// CmdStatus is the command status field of the chip's status byte.
type CmdStatus uint8

const (
	CmdStatusSuccess         CmdStatus = 1 // SX128x only; reserved on SX126x
	CmdStatusDataAvailable   CmdStatus = 2
	CmdStatusTimeout         CmdStatus = 3
	CmdStatusProcessingError CmdStatus = 4
	CmdStatusExecuteFailure  CmdStatus = 5
	CmdStatusTxDone          CmdStatus = 6
)

func (c CmdStatus) String() string {
	switch c {
	case CmdStatusSuccess:
		return "success"
	case CmdStatusDataAvailable:
		return "data available"
	case CmdStatusTimeout:
		return "command timeout"
	case CmdStatusProcessingError:
		return "processing error"
	case CmdStatusExecuteFailure:
		return "failure to execute"
	case CmdStatusTxDone:
		return "tx done"
	}
	return "unknown"
}

// Status is the decoded chip status byte.
type Status struct {
	Mode ChipMode
	Cmd  CmdStatus
}

// Ready reports whether the status byte decodes to a defined circuit mode,
// meaning the chip booted and is accepting commands.
func (s Status) Ready() bool {
	return s.Mode >= ChipModeStbyRC && s.Mode <= ChipModeTx
}

// Failed reports whether the last command was rejected or failed to execute.
func (s Status) Failed() bool {
	return s.Cmd == CmdStatusProcessingError || s.Cmd == CmdStatusExecuteFailure
}

// PacketStatus holds the link quality readings of the last received packet.
type PacketStatus struct {
	// RSSI is the packet's average signal strength in dBm.
	RSSI int16
	// SNR in dB, from the chip's quarter-dB two's complement reading.
	SNR int8
	// SignalRSSI is the despread signal strength in dBm. On the SX128x it
	// mirrors RSSI.
	SignalRSSI int16
}

// DeviceErrors is the SX126x error flag word from GetDeviceErrors.
type DeviceErrors uint16

func (e DeviceErrors) RC64kCalibration() bool { return e&(1<<0) != 0 }
func (e DeviceErrors) RC13MCalibration() bool { return e&(1<<1) != 0 }
func (e DeviceErrors) PLLCalibration() bool   { return e&(1<<2) != 0 }
func (e DeviceErrors) ADCCalibration() bool   { return e&(1<<3) != 0 }
func (e DeviceErrors) ImageCalibration() bool { return e&(1<<4) != 0 }
func (e DeviceErrors) XOSCStart() bool        { return e&(1<<5) != 0 }
func (e DeviceErrors) PLLLock() bool          { return e&(1<<6) != 0 }
func (e DeviceErrors) PARamp() bool           { return e&(1<<8) != 0 }

func (e DeviceErrors) String() string {
	if e == 0 {
		return "none"
	}
	var s string
	appendFlag := func(set bool, name string) {
		if !set {
			return
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	appendFlag(e.RC64kCalibration(), "RC64K_CALIB")
	appendFlag(e.RC13MCalibration(), "RC13M_CALIB")
	appendFlag(e.PLLCalibration(), "PLL_CALIB")
	appendFlag(e.ADCCalibration(), "ADC_CALIB")
	appendFlag(e.ImageCalibration(), "IMG_CALIB")
	appendFlag(e.XOSCStart(), "XOSC_START")
	appendFlag(e.PLLLock(), "PLL_LOCK")
	appendFlag(e.PARamp(), "PA_RAMP")
	return s
}

// Stats are the SX126x reception counters from GetStats.
type Stats struct {
	PacketsReceived uint16
	CrcErrors       uint16
	HeaderErrors    uint16
}

// Table is the per-variant capability object: opcodes, IRQ bit layout,
// frequency scaling and parameter bounds. Obtain one via Variant.Table.
type Table struct {
	variant Variant
	op      [numCmds]byte
	// irqBit maps variant-independent event bit index to the chip's IRQ
	// register bit position, -1 where the chip has no such event.
	irqBit [numEvents]int8

	freqMin, freqMax Frequency
	// Frequency word: raw = f<<freqShift/xtal, big-endian in freqBytes bytes.
	xtal      uint32
	freqShift uint8
	freqBytes uint8

	// Timeout word width in bits. Continuous Rx is the all-ones value.
	timeoutBits uint8
}

// Variant returns which chip the table describes.
func (t *Table) Variant() Variant { return t.variant }

// Opcode returns the wire opcode of c, or (0, false) if the variant lacks
// the command.
func (t *Table) Opcode(c Cmd) (byte, bool) {
	if c >= numCmds || t.op[c] == opNone {
		return 0, false
	}
	return t.op[c], true
}

// CmdOf is the reverse opcode lookup, used when decoding bus captures.
func (t *Table) CmdOf(op byte) (Cmd, bool) {
	for c := Cmd(0); c < numCmds; c++ {
		if t.op[c] == op && op != opNone {
			return c, true
		}
	}
	return 0, false
}

// IrqMask converts a variant-independent event set into the chip's IRQ
// register layout. Events the chip lacks are dropped.
func (t *Table) IrqMask(ev Event) (mask uint16) {
	for i := 0; i < numEvents; i++ {
		if ev&(1<<i) != 0 && t.irqBit[i] >= 0 {
			mask |= 1 << uint(t.irqBit[i])
		}
	}
	return mask
}

// ParseIrq is the inverse of IrqMask. Chip bits with no
// variant-independent equivalent are dropped.
func (t *Table) ParseIrq(raw uint16) (ev Event) {
	for i := 0; i < numEvents; i++ {
		if t.irqBit[i] >= 0 && raw&(1<<uint(t.irqBit[i])) != 0 {
			ev |= 1 << i
		}
	}
	return ev
}

// MaxTimeout is the longest finite Tx/Rx timeout the variant can encode.
func (t *Table) MaxTimeout() time.Duration {
	return time.Duration(t.maxTimeoutSteps()) * TimeoutStep
}

func (t *Table) maxTimeoutSteps() uint32 {
	// All-ones is reserved: continuous Rx.
	return 1<<t.timeoutBits - 2
}

// timeoutSteps converts d to timer ticks, rounding up so a requested
// timeout is never shortened.
func (t *Table) timeoutSteps(d time.Duration) (uint32, error) {
	if d < 0 {
		return 0, errParam("timeout")
	}
	steps := uint64(d+TimeoutStep-1) / uint64(TimeoutStep)
	if steps > uint64(t.maxTimeoutSteps()) {
		return 0, errParam("timeout")
	}
	return uint32(steps), nil
}

// ValidateFrequency checks f against the variant's synthesizer range.
func (t *Table) ValidateFrequency(f Frequency) error {
	if f < t.freqMin || f > t.freqMax {
		return errParam("frequency")
	}
	return nil
}

// ValidateModulation checks a LoRa modulation parameter set against the
// variant's bounds.
func (t *Table) ValidateModulation(sf SpreadFactor, bw Frequency, cr CodingRate, ldro bool) error {
	if sf < SF5 || sf > SF12 {
		return errParam("spreading factor")
	}
	if _, ok := t.encodeBandwidth(bw); !ok {
		return errParam("bandwidth")
	}
	if cr < CR4_5 || cr > CR4_8 {
		return errParam("coding rate")
	}
	if ldro && t.variant == SX128x {
		// No low data rate optimization parameter on the SX128x.
		return errParam("ldro")
	}
	return nil
}

// ValidatePacket checks a LoRa packet parameter set against the variant's
// bounds. On the SX128x the preamble must be expressible as mant*2^exp
// with mant in 1..15; inexpressible lengths are rejected rather than
// silently rounded.
func (t *Table) ValidatePacket(preamble uint16, hdr HeaderType, payloadLen uint8, crcOn, invertIQ bool) error {
	if hdr != HeaderExplicit && hdr != HeaderImplicit {
		return errParam("header type")
	}
	switch t.variant {
	case SX126x:
		// Datasheet: the preamble is between 10 and 65535 symbols.
		if preamble < 10 {
			return errParam("preamble length")
		}
	case SX128x:
		if _, ok := encodePreamble8x(preamble); !ok {
			return errParam("preamble length")
		}
	}
	return nil
}

func (t *Table) encodeBandwidth(bw Frequency) (byte, bool) {
	var list []bwEncoding
	if t.variant == SX126x {
		list = bwSX126x[:]
	} else {
		list = bwSX128x[:]
	}
	for _, e := range list {
		if e.bw == bw {
			return e.val, true
		}
	}
	return 0, false
}

type bwEncoding struct {
	bw  Frequency
	val byte
}

// encodePreamble8x expresses a preamble length as mant*2^exp with both
// nibbles in 0..15, packed exponent-high.
func encodePreamble8x(preamble uint16) (byte, bool) {
	if preamble == 0 {
		return 0, false
	}
	mant := uint32(preamble)
	exp := uint32(0)
	for mant&1 == 0 && mant > 15 {
		mant >>= 1
		exp++
	}
	if mant > 15 || exp > 15 {
		return 0, false
	}
	return byte(exp<<4 | mant), true
}
