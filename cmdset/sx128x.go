package cmdset

// SX128x register addresses used by the driver.
const (
	Reg8xFirmwareVersionMSB  uint16 = 0x0153
	Reg8xRxGain              uint16 = 0x0891
	Reg8xSfAdditionalConfig  uint16 = 0x0925
	Reg8xFreqErrorCorrection uint16 = 0x093C
)

// Firmware revisions the SX128x is known to report, used as a bring-up
// sanity check of the SPI link.
const (
	FirmwareVersion8xA uint16 = 0xA9B5
	FirmwareVersion8xB uint16 = 0xA9B7
)

// SfAdditionalConfig8x is the value required in Reg8xSfAdditionalConfig
// after every SetModulationParams, keyed by spreading factor.
func SfAdditionalConfig8x(sf SpreadFactor) byte {
	switch sf {
	case SF5, SF6:
		return 0x1E
	case SF7, SF8:
		return 0x37
	}
	return 0x32
}

var tableSX128x = Table{
	variant: SX128x,
	op: [numCmds]byte{
		CmdGetStatus:             0xC0,
		CmdWriteRegister:         0x18,
		CmdReadRegister:          0x19,
		CmdWriteBuffer:           0x1A,
		CmdReadBuffer:            0x1B,
		CmdSetSleep:              0x84,
		CmdSetStandby:            0x80,
		CmdSetFs:                 0xC1,
		CmdSetTx:                 0x83,
		CmdSetRx:                 0x82,
		CmdSetPacketType:         0x8A,
		CmdGetPacketType:         0x03,
		CmdSetRfFrequency:        0x86,
		CmdSetTxParams:           0x8E,
		CmdSetPaConfig:           opNone,
		CmdSetRegulatorMode:      0x96,
		CmdCalibrate:             opNone,
		CmdCalibrateImage:        opNone,
		CmdSetDioIrqParams:       0x8D,
		CmdGetIrqStatus:          0x15,
		CmdClearIrqStatus:        0x97,
		CmdSetModulationParams:   0x8B,
		CmdSetPacketParams:       0x8C,
		CmdSetBufferBaseAddress:  0x8F,
		CmdGetRxBufferStatus:     0x17,
		CmdGetPacketStatus:       0x1D,
		CmdGetRssiInst:           0x1F,
		CmdGetStats:              opNone,
		CmdResetStats:            opNone,
		CmdGetDeviceErrors:       opNone,
		CmdClearDeviceErrors:     opNone,
		CmdSetRxTxFallbackMode:   opNone,
		CmdSetDio2AsRfSwitchCtrl: opNone,
	},
	// Datasheet Table 11-73. The ranging-only bits have no
	// variant-independent equivalent and are never mapped.
	irqBit: [numEvents]int8{
		0,  // TxDone
		1,  // RxDone
		15, // PreambleDetected
		2,  // SyncWordValid
		3,  // SyncWordError
		4,  // HeaderValid
		5,  // HeaderError
		6,  // CrcError
		12, // CadDone
		13, // CadDetected
		14, // Timeout
	},
	freqMin:     2400 * MegaHertz,
	freqMax:     2500 * MegaHertz,
	xtal:        52_000_000,
	freqShift:   18,
	freqBytes:   3,
	timeoutBits: 16,
}

// Datasheet Table 14-48.
var bwSX128x = [...]bwEncoding{
	{Bandwidth200k, 0x34},
	{Bandwidth400k, 0x26},
	{Bandwidth800k, 0x18},
	{Bandwidth1600k, 0x0A},
}
