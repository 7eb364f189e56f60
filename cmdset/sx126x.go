package cmdset

// SX126x register addresses used by the driver.
const (
	Reg6xLoraSyncWordMSB  uint16 = 0x0740
	Reg6xLoraSyncWordLSB  uint16 = 0x0741
	Reg6xRxGainRetention0 uint16 = 0x029F
	Reg6xRxGainRetention1 uint16 = 0x02A0
	Reg6xRxGainRetention2 uint16 = 0x02A1
	Reg6xTxModulation     uint16 = 0x0889
	Reg6xTxClampConfig    uint16 = 0x08D8
	Reg6xOCPConfiguration uint16 = 0x08E7
	Reg6xRtcControl       uint16 = 0x0902
	Reg6xEventMask        uint16 = 0x0944
)

// LoRa sync words distinguishing public (LoRaWAN) from private networks,
// written to the SX126x sync word registers MSB first.
const (
	SyncWordPublic  uint16 = 0x3444
	SyncWordPrivate uint16 = 0x1424
)

var tableSX126x = Table{
	variant: SX126x,
	op: [numCmds]byte{
		CmdGetStatus:             0xC0,
		CmdWriteRegister:         0x0D,
		CmdReadRegister:          0x1D,
		CmdWriteBuffer:           0x0E,
		CmdReadBuffer:            0x1E,
		CmdSetSleep:              0x84,
		CmdSetStandby:            0x80,
		CmdSetFs:                 0xC1,
		CmdSetTx:                 0x83,
		CmdSetRx:                 0x82,
		CmdSetPacketType:         0x8A,
		CmdGetPacketType:         0x11,
		CmdSetRfFrequency:        0x86,
		CmdSetTxParams:           0x8E,
		CmdSetPaConfig:           0x95,
		CmdSetRegulatorMode:      0x96,
		CmdCalibrate:             0x89,
		CmdCalibrateImage:        0x98,
		CmdSetDioIrqParams:       0x08,
		CmdGetIrqStatus:          0x12,
		CmdClearIrqStatus:        0x02,
		CmdSetModulationParams:   0x8B,
		CmdSetPacketParams:       0x8C,
		CmdSetBufferBaseAddress:  0x8F,
		CmdGetRxBufferStatus:     0x13,
		CmdGetPacketStatus:       0x14,
		CmdGetRssiInst:           0x15,
		CmdGetStats:              0x10,
		CmdResetStats:            0x00,
		CmdGetDeviceErrors:       0x17,
		CmdClearDeviceErrors:     0x07,
		CmdSetRxTxFallbackMode:   0x93,
		CmdSetDio2AsRfSwitchCtrl: 0x9D,
	},
	// Datasheet Table 13-29.
	irqBit: [numEvents]int8{
		0,  // TxDone
		1,  // RxDone
		2,  // PreambleDetected
		3,  // SyncWordValid
		-1, // SyncWordError: not reported
		4,  // HeaderValid
		5,  // HeaderError
		6,  // CrcError
		7,  // CadDone
		8,  // CadDetected
		9,  // Timeout
	},
	freqMin:     150 * MegaHertz,
	freqMax:     960 * MegaHertz,
	xtal:        32_000_000,
	freqShift:   25,
	freqBytes:   4,
	timeoutBits: 24,
}

// Datasheet Table 13-44.
var bwSX126x = [...]bwEncoding{
	{Bandwidth7_8k, 0x00},
	{Bandwidth10_4k, 0x08},
	{Bandwidth15_6k, 0x01},
	{Bandwidth20_8k, 0x09},
	{Bandwidth31_25k, 0x02},
	{Bandwidth41_7k, 0x0A},
	{Bandwidth62_5k, 0x03},
	{Bandwidth125k, 0x04},
	{Bandwidth250k, 0x05},
	{Bandwidth500k, 0x06},
}
