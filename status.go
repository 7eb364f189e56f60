package sx12xx

import "github.com/soypat/sx12xx/cmdset"

// Status polls the chip's status byte: circuit mode and result of the
// last command. Not available in sleep.
func (d *Device) Status() (cmdset.Status, error) {
	if err := d.acquire(); err != nil {
		return cmdset.Status{}, err
	}
	defer d.release()
	if d.Mode() == ModeSleep {
		return cmdset.Status{}, ErrInvalidState
	}
	return d.getStatus()
}

func (d *Device) getStatus() (cmdset.Status, error) {
	resp, err := d.cmd(d.tab.AppendGetStatus(d.buf[:0]))
	if err != nil {
		return cmdset.Status{}, err
	}
	return d.tab.ParseStatus(resp)
}

// RSSI reads the instantaneous signal strength in dBm. Only meaningful
// while receiving.
func (d *Device) RSSI() (int16, error) {
	if err := d.acquire(); err != nil {
		return 0, err
	}
	defer d.release()
	m := d.Mode()
	if m != ModeRx && m != ModeRxContinuous {
		return 0, ErrInvalidState
	}
	resp, err := d.cmd(d.tab.AppendGetRssiInst(d.buf[:0]))
	if err != nil {
		return 0, err
	}
	return d.tab.ParseRssiInst(resp)
}

// LinkStats reads the SX126x reception counters: packets received, CRC
// failures and header failures since the last reset.
func (d *Device) LinkStats() (cmdset.Stats, error) {
	if err := d.acquire(); err != nil {
		return cmdset.Stats{}, err
	}
	defer d.release()
	frame, err := d.tab.AppendGetStats(d.buf[:0])
	if err != nil {
		return cmdset.Stats{}, err
	}
	resp, err := d.cmd(frame)
	if err != nil {
		return cmdset.Stats{}, err
	}
	return d.tab.ParseStats(resp)
}

// ResetLinkStats zeroes the SX126x reception counters.
func (d *Device) ResetLinkStats() error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()
	frame, err := d.tab.AppendResetStats(d.buf[:0])
	if err != nil {
		return err
	}
	_, err = d.cmd(frame)
	return err
}

// DeviceErrors reads the SX126x sticky error flags: calibration,
// oscillator and PLL failures since the last clear.
func (d *Device) DeviceErrors() (cmdset.DeviceErrors, error) {
	if err := d.acquire(); err != nil {
		return 0, err
	}
	defer d.release()
	frame, err := d.tab.AppendGetDeviceErrors(d.buf[:0])
	if err != nil {
		return 0, err
	}
	resp, err := d.cmd(frame)
	if err != nil {
		return 0, err
	}
	return d.tab.ParseDeviceErrors(resp)
}

// ClearDeviceErrors acknowledges the SX126x sticky error flags.
func (d *Device) ClearDeviceErrors() error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()
	frame, err := d.tab.AppendClearDeviceErrors(d.buf[:0])
	if err != nil {
		return err
	}
	_, err = d.cmd(frame)
	return err
}

func (d *Device) firmwareVersion() (uint16, error) {
	data, err := d.readReg(cmdset.Reg8xFirmwareVersionMSB, 2)
	if err != nil {
		return 0, err
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

func (d *Device) writeReg(addr uint16, data ...byte) error {
	_, err := d.cmd(d.tab.AppendWriteRegister(d.buf[:0], addr, data...))
	return err
}

func (d *Device) readReg(addr uint16, n uint8) ([]byte, error) {
	resp, err := d.cmd(d.tab.AppendReadRegister(d.buf[:0], addr, n))
	if err != nil {
		return nil, err
	}
	return d.tab.ParseReadRegister(resp, n)
}

// rmwReg clears then sets bits of a single register.
func (d *Device) rmwReg(addr uint16, clear, set byte) error {
	data, err := d.readReg(addr, 1)
	if err != nil {
		return err
	}
	return d.writeReg(addr, data[0]&^clear|set)
}
