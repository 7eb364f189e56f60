package cmdset

import "errors"

// Frame is a single decoded SPI transaction: one chip select assertion
// framing an opcode, the host's parameter bytes and the chip's response
// bytes. Used to interpret logic analyzer captures and to verify encoder
// output byte for byte.
type Frame struct {
	Cmd    Cmd
	Opcode byte
	// Params are the parameter bytes written by the host after the opcode.
	Params []byte
	// Resp are the bytes the chip clocked out, excluding status padding.
	// Nil when the capture carries no MISO data.
	Resp []byte
}

var ErrUnknownOpcode = errors.New("cmdset: unknown opcode")

// DecodeFrame splits one chip-select-framed transaction into command,
// parameters and response. mosi holds the host bytes; miso the chip
// bytes of the same transaction, or nil if not captured. Params and Resp
// alias the input slices.
func (t *Table) DecodeFrame(mosi, miso []byte) (Frame, error) {
	if len(mosi) == 0 {
		return Frame{}, ErrMalformedResponse
	}
	c, ok := t.CmdOf(mosi[0])
	if !ok {
		return Frame{Opcode: mosi[0], Params: mosi[1:]}, ErrUnknownOpcode
	}
	f := Frame{Cmd: c, Opcode: mosi[0]}
	if miso != nil && len(miso) != len(mosi) {
		return f, ErrMalformedResponse
	}
	switch c {
	case CmdReadRegister:
		if len(mosi) < 4 {
			return f, ErrMalformedResponse
		}
		f.Params = mosi[1:3]
		if miso != nil {
			f.Resp = miso[4:]
		}
	case CmdReadBuffer:
		if len(mosi) < 3 {
			return f, ErrMalformedResponse
		}
		f.Params = mosi[1:2]
		if miso != nil {
			f.Resp = miso[3:]
		}
	case CmdGetStatus:
		if len(mosi) < 2 {
			return f, ErrMalformedResponse
		}
		if miso != nil {
			f.Resp = miso[1:2]
		}
	case CmdGetPacketType, CmdGetIrqStatus, CmdGetRxBufferStatus,
		CmdGetPacketStatus, CmdGetRssiInst, CmdGetStats, CmdGetDeviceErrors:
		if len(mosi) < 3 {
			return f, ErrMalformedResponse
		}
		if miso != nil {
			f.Resp = miso[2:]
		}
	default:
		f.Params = mosi[1:]
	}
	return f, nil
}
