package sx12xx

import "github.com/soypat/sx12xx/cmdset"

// SX126x silicon workarounds from the datasheet's known limitations
// chapter. All are register pokes around specific commands; the 2.4GHz
// parts need none of them.

// fixTxClamp widens the PA clamping threshold. Applied once at Init,
// recovers ~1dB of output power.
func (d *Device) fixTxClamp() error {
	return d.rmwReg(cmdset.Reg6xTxClampConfig, 0, 0x1E)
}

// fixRxGainRetention makes the Rx gain setting survive warm starts from
// retained sleep. Applied once at Init.
func (d *Device) fixRxGainRetention() error {
	return d.writeReg(cmdset.Reg6xRxGainRetention0, 0x01, 0x08, 0xAC)
}

// fixTxModulation corrects the modulation quality of 500kHz LoRa
// transmissions. Applied before every transmit since the correct bit
// value depends on the bandwidth in use.
func (d *Device) fixTxModulation() error {
	if d.mod.Bandwidth == cmdset.Bandwidth500k {
		return d.rmwReg(cmdset.Reg6xTxModulation, 0x04, 0)
	}
	return d.rmwReg(cmdset.Reg6xTxModulation, 0, 0x04)
}

// fixImplicitTimeout stops the Rx timeout counter, which keeps running
// after a timed reception ends and would otherwise fire mid-transfer
// later. Applied from the interrupt path after every timed reception,
// so it uses the interrupt scratch buffers.
func (d *Device) fixImplicitTimeout() error {
	frame := d.tab.AppendWriteRegister(d.ibuf[:0], cmdset.Reg6xRtcControl, 0x00)
	if _, err := d.cmdISR(frame); err != nil {
		return err
	}
	frame = d.tab.AppendReadRegister(d.ibuf[:0], cmdset.Reg6xEventMask, 1)
	resp, err := d.cmdISR(frame)
	if err != nil {
		return err
	}
	data, err := d.tab.ParseReadRegister(resp, 1)
	if err != nil {
		return err
	}
	mask := data[0] | 0x02
	frame = d.tab.AppendWriteRegister(d.ibuf[:0], cmdset.Reg6xEventMask, mask)
	_, err = d.cmdISR(frame)
	return err
}
