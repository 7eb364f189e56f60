package sx12xx

import (
	"errors"
	"strconv"
	"time"

	"github.com/soypat/sx12xx/cmdset"
)

var (
	// ErrInvalidState means the operation is not legal in the driver's
	// current mode. The mode is left unchanged.
	ErrInvalidState = errors.New("sx12xx: invalid state for operation")
	// ErrBusy means the radio held its BUSY line high at operation entry,
	// or a transfer started by StartTx/StartRx has not completed yet.
	ErrBusy = errors.New("sx12xx: radio busy")
	// ErrTimeout means the BUSY line did not release within the configured
	// busy timeout. Usually a wiring or reset problem.
	ErrTimeout = errors.New("sx12xx: busy timeout")
	// ErrDMAPending means an operation was attempted while a DMA transfer
	// awaits DMAComplete.
	ErrDMAPending = errors.New("sx12xx: dma transfer pending")

	errUninitialized = errors.New("sx12xx: device uninitialized")
	errNotResponding = errors.New("sx12xx: chip not responding")
)

// RxContinuous as StartRx timeout keeps the receiver open indefinitely,
// re-arming after every received packet.
const RxContinuous time.Duration = -1

// ModulationParams are the LoRa physical layer settings. Both link ends
// must agree on all four for packets to demodulate.
type ModulationParams struct {
	Spread     cmdset.SpreadFactor
	Bandwidth  cmdset.Frequency
	CodingRate cmdset.CodingRate
	// LowDataRateOptimize extends symbol tolerance for slow links. The
	// sub-GHz chips require it when the symbol time exceeds 16ms; the
	// 2.4GHz chips handle this internally and reject the flag.
	LowDataRateOptimize bool
}

// PacketParams are the LoRa frame format settings.
type PacketParams struct {
	// PreambleLength in symbols. At least 10 on the sub-GHz chips; the
	// 2.4GHz chips only accept lengths expressible as mant*2^exp with
	// mant in 1..15.
	PreambleLength uint16
	Header         cmdset.HeaderType
	// PayloadLength is the fixed frame length for implicit headers. With
	// explicit headers the transmitted length overrides it; transmit
	// operations overwrite it with the queued payload's length.
	PayloadLength uint8
	CRC           bool
	InvertIQ      bool
}

// Mode is the driver's view of the radio state machine. It tracks the
// chip's circuit mode plus the sleep state the chip cannot report.
type Mode uint8

const (
	ModeSleep Mode = iota
	ModeStandbyRC
	ModeStandbyXOSC
	ModeFs
	ModeTx
	ModeRx
	ModeRxContinuous
)

func (m Mode) String() string {
	switch m {
	case ModeSleep:
		return "SLEEP"
	case ModeStandbyRC:
		return "STDBY_RC"
	case ModeStandbyXOSC:
		return "STDBY_XOSC"
	case ModeFs:
		return "FS"
	case ModeTx:
		return "TX"
	case ModeRx:
		return "RX"
	case ModeRxContinuous:
		return "RX_CONT"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// EventKind classifies a RadioEvent.
type EventKind uint8

const (
	// EventTxComplete: the queued payload finished transmitting.
	EventTxComplete EventKind = iota
	// EventRxComplete: a packet was received; Payload and Status are set.
	EventRxComplete
	// EventTxTimeout: the transmission did not finish within the timeout.
	EventTxTimeout
	// EventRxTimeout: no packet arrived within the timeout.
	EventRxTimeout
	// EventPacketError: a packet arrived with a header or CRC error.
	EventPacketError
)

func (k EventKind) String() string {
	switch k {
	case EventTxComplete:
		return "tx complete"
	case EventRxComplete:
		return "rx complete"
	case EventTxTimeout:
		return "tx timeout"
	case EventRxTimeout:
		return "rx timeout"
	case EventPacketError:
		return "packet error"
	}
	return "unknown"
}

// RadioEvent is delivered through the OnEvent callback when a transfer
// started by StartTx or StartRx concludes. Payload aliases the driver's
// receive buffer and is only valid until the next receive starts.
type RadioEvent struct {
	Kind    EventKind
	Payload []byte
	// Status holds the link quality of the received packet. Zero for
	// transmit events.
	Status cmdset.PacketStatus
	// Events are the raw interrupt flags that produced this event.
	Events cmdset.Event
	// Err is set on EventPacketError and when the payload readback failed.
	Err error
}
