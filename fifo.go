package sx12xx

import (
	"time"

	"log/slog"

	"github.com/soypat/sx12xx/cmdset"
)

// DMA continuation points, held in Device.pending.
const (
	pendingNone uint32 = iota
	// pendingTxStart: the WriteBuffer transfer is in flight; DMAComplete
	// finishes transmit setup and issues SetTx.
	pendingTxStart
	// pendingRxRead: the ReadBuffer transfer is in flight; DMAComplete
	// parses the payload and delivers the receive event.
	pendingRxRead
)

// StartTx queues payload and starts transmitting it. Returns immediately;
// completion arrives as a RadioEvent from HandleIRQ when the chip raises
// TxDone or the timeout expires. A zero timeout disables the hardware
// timeout. Only legal from STDBY_XOSC or FS.
//
// On a DMATransport bus the payload transfer runs in the background and
// the radio does not start transmitting until DMAComplete is called.
func (d *Device) StartTx(payload []byte, timeout time.Duration) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()
	switch d.Mode() {
	case ModeStandbyXOSC, ModeFs:
	default:
		return ErrInvalidState
	}
	if d.isBusy() {
		return ErrBusy
	}
	if d.tab.Variant() == cmdset.SX126x {
		if err := d.fixTxModulation(); err != nil {
			return err
		}
	}
	if _, err := d.cmd(d.tab.AppendSetBufferBaseAddress(d.buf[:0], 0, 0)); err != nil {
		return err
	}
	frame, err := d.tab.AppendWriteBuffer(d.buf[:0], 0, payload)
	if err != nil {
		return err
	}
	n := uint8(len(payload))
	if d.dma != nil {
		if err := d.waitUntilReady(); err != nil {
			return err
		}
		d.dmaLen = n
		d.dmaTimeout = timeout
		d.pending.Store(pendingTxStart)
		err := d.dma.TxStart(frame, d.rx[:len(frame)])
		if err != nil {
			d.pending.Store(pendingNone)
			return err
		}
		d.trace("starttx:dma", slog.Int("len", int(n)))
		return nil
	}
	if _, err := d.cmd(frame); err != nil {
		return err
	}
	return d.finishTxStart(n, timeout)
}

// finishTxStart runs the transmit setup that must follow the payload
// upload: frame length, interrupt routing and the transmit command
// itself.
func (d *Device) finishTxStart(n uint8, timeout time.Duration) error {
	pkt := d.pkt
	pkt.PayloadLength = n
	if err := d.setPacketParams(pkt); err != nil {
		return err
	}
	const txEvents = cmdset.EventTxDone | cmdset.EventTimeout
	frame := d.tab.AppendSetDioIrqParams(d.buf[:0], txEvents, txEvents, 0, 0)
	if _, err := d.cmd(frame); err != nil {
		return err
	}
	if _, err := d.cmd(d.tab.AppendClearIrqStatus(d.buf[:0], cmdset.EventAll)); err != nil {
		return err
	}
	frame, err := d.tab.AppendSetTx(d.buf[:0], timeout)
	if err != nil {
		return err
	}
	if _, err := d.cmd(frame); err != nil {
		return err
	}
	d.setMode(ModeTx)
	d.debug("starttx", slog.Int("len", int(n)), slog.Duration("timeout", timeout))
	return nil
}

// StartRx opens the receiver. Returns immediately; packets, errors and
// timeouts arrive as RadioEvents from HandleIRQ. A zero timeout waits for
// a single packet indefinitely; RxContinuous keeps the receiver open and
// re-armed after every packet. Only legal from STDBY_XOSC or FS.
func (d *Device) StartRx(timeout time.Duration) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()
	switch d.Mode() {
	case ModeStandbyXOSC, ModeFs:
	default:
		return ErrInvalidState
	}
	if d.isBusy() {
		return ErrBusy
	}
	if _, err := d.cmd(d.tab.AppendSetBufferBaseAddress(d.buf[:0], 0, 0)); err != nil {
		return err
	}
	if err := d.setPacketParams(d.pkt); err != nil {
		return err
	}
	const rxEvents = cmdset.EventRxDone | cmdset.EventTimeout |
		cmdset.EventHeaderError | cmdset.EventCrcError
	frame := d.tab.AppendSetDioIrqParams(d.buf[:0], rxEvents, rxEvents, 0, 0)
	if _, err := d.cmd(frame); err != nil {
		return err
	}
	if _, err := d.cmd(d.tab.AppendClearIrqStatus(d.buf[:0], cmdset.EventAll)); err != nil {
		return err
	}
	frame, err := d.tab.AppendSetRx(d.buf[:0], timeout)
	if err != nil {
		return err
	}
	if _, err := d.cmd(frame); err != nil {
		return err
	}
	if timeout < 0 {
		d.setMode(ModeRxContinuous)
	} else {
		d.setMode(ModeRx)
	}
	d.debug("startrx", slog.Duration("timeout", timeout))
	return nil
}

// DMAComplete resumes the operation whose bus transfer the DMATransport
// reported finished. Call it from task context, never before the bus is
// done. No other operation may run between TxStart and DMAComplete; the
// driver rejects attempts with ErrDMAPending.
func (d *Device) DMAComplete() error {
	switch d.pending.Swap(pendingNone) {
	case pendingTxStart:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.finishTxStart(d.dmaLen, d.dmaTimeout)
	case pendingRxRead:
		return d.finishRxRead(d.dmaMode, d.dmaEvents, d.dmaLen)
	}
	return ErrInvalidState
}
