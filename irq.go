package sx12xx

import (
	"errors"

	"github.com/soypat/sx12xx/cmdset"
)

var errCorruptPacket = errors.New("sx12xx: packet failed header or CRC check")

// HandleIRQ services the radio after the DIO1 line asserts: it reads and
// acknowledges the interrupt flags, retires the transfer they conclude
// and delivers the resulting RadioEvent. Safe to call from an interrupt
// handler; it takes no locks and uses dedicated scratch buffers. Spurious
// calls with no flags set are a no-op.
//
// Transfer completions happen here and nowhere else: a TxDone flag moves
// the driver out of TX exactly once even if the line glitches.
func (d *Device) HandleIRQ() error {
	resp, err := d.cmdISR(d.tab.AppendGetIrqStatus(d.ibuf[:0]))
	if err != nil {
		return err
	}
	ev, err := d.tab.ParseIrqStatus(resp)
	if err != nil {
		return err
	}
	if ev == 0 {
		return nil
	}
	if _, err = d.cmdISR(d.tab.AppendClearIrqStatus(d.ibuf[:0], ev)); err != nil {
		return err
	}
	mode := d.Mode()
	switch mode {
	case ModeTx:
		switch {
		case ev&cmdset.EventTxDone != 0:
			if d.casMode(ModeTx, ModeStandbyRC) {
				d.emit(RadioEvent{Kind: EventTxComplete, Events: ev})
			}
		case ev&cmdset.EventTimeout != 0:
			if d.casMode(ModeTx, ModeStandbyRC) {
				d.emit(RadioEvent{Kind: EventTxTimeout, Events: ev})
			}
		}
	case ModeRx, ModeRxContinuous:
		switch {
		case ev&cmdset.EventRxDone != 0:
			return d.finishRx(mode, ev)
		case ev&cmdset.EventTimeout != 0:
			if !d.casMode(ModeRx, ModeStandbyRC) {
				break
			}
			if d.tab.Variant() == cmdset.SX126x {
				if err := d.fixImplicitTimeout(); err != nil {
					return err
				}
			}
			d.emit(RadioEvent{Kind: EventRxTimeout, Events: ev})
		case ev&(cmdset.EventHeaderError|cmdset.EventCrcError) != 0:
			// Reception aborted before RxDone. The chip keeps listening,
			// so the mode stands.
			d.emit(RadioEvent{Kind: EventPacketError, Events: ev, Err: errCorruptPacket})
		}
	}
	return nil
}

// finishRx retires a reception: fetch where the payload landed, read it
// out and deliver it together with the link quality readings.
func (d *Device) finishRx(mode Mode, ev cmdset.Event) error {
	if ev&(cmdset.EventHeaderError|cmdset.EventCrcError) != 0 {
		if mode == ModeRx {
			d.casMode(ModeRx, ModeStandbyRC)
		}
		d.emit(RadioEvent{Kind: EventPacketError, Events: ev, Err: errCorruptPacket})
		return nil
	}
	resp, err := d.cmdISR(d.tab.AppendGetRxBufferStatus(d.ibuf[:0]))
	if err != nil {
		return err
	}
	n, offset, err := d.tab.ParseRxBufferStatus(resp)
	if err != nil {
		return err
	}
	frame := d.tab.AppendReadBuffer(d.ibuf[:0], offset, n)
	if d.dma != nil {
		if err := d.waitUntilReady(); err != nil {
			return err
		}
		d.dmaLen = n
		d.dmaEvents = ev
		d.dmaMode = mode
		d.pending.Store(pendingRxRead)
		err := d.dma.TxStart(frame, d.irx[:len(frame)])
		if err != nil {
			d.pending.Store(pendingNone)
		}
		return err
	}
	if _, err = d.cmdISR(frame); err != nil {
		return err
	}
	return d.finishRxRead(mode, ev, n)
}

// finishRxRead runs after the ReadBuffer transaction landed in irx,
// synchronously or by DMA.
func (d *Device) finishRxRead(mode Mode, ev cmdset.Event, n uint8) error {
	data, err := d.tab.ParseReadBuffer(d.irx[:3+int(n)], n)
	if err != nil {
		return err
	}
	copy(d.payload[:], data)
	resp, err := d.cmdISR(d.tab.AppendGetPacketStatus(d.ibuf[:0]))
	if err != nil {
		return err
	}
	ps, err := d.tab.ParsePacketStatus(resp)
	if err != nil {
		return err
	}
	if mode == ModeRx {
		d.casMode(ModeRx, ModeStandbyRC)
	}
	d.emit(RadioEvent{
		Kind:    EventRxComplete,
		Payload: d.payload[:n],
		Status:  ps,
		Events:  ev,
	})
	return nil
}

func (d *Device) emit(e RadioEvent) {
	if d.onEvent != nil {
		d.onEvent(e)
	}
}

// cmdISR is cmd for the interrupt path: same pacing, dedicated readback
// buffer so an interrupted operation's frame survives.
func (d *Device) cmdISR(frame []byte) ([]byte, error) {
	if err := d.waitUntilReady(); err != nil {
		return nil, err
	}
	r := d.irx[:len(frame)]
	err := d.bus.Tx(frame, r)
	if err != nil {
		return nil, err
	}
	return r, nil
}
