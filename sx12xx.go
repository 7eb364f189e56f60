// Package sx12xx drives the Semtech SX126x (sub-GHz) and SX128x (2.4GHz)
// LoRa transceivers over SPI through one variant-agnostic API. The chips
// share a command-response protocol; everything that differs between them
// lives in the cmdset subpackage's per-variant tables.
//
// The driver is a strict state machine. Configuration happens in standby,
// transfers start from STDBY_XOSC or FS, and transfer completions are
// only ever observed in HandleIRQ, which the host calls when the DIO1
// line asserts. HandleIRQ touches no locks so it is safe to call from an
// interrupt handler.
package sx12xx

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/soypat/sx12xx/cmdset"
)

// maxFrame is the largest SPI transaction the driver issues: a full
// ReadBuffer of the 255 byte FIFO plus opcode, offset and NOP.
const maxFrame = cmdset.FIFOSize + 3

const defaultBusyTimeout = 100 * time.Millisecond

// Device is an SX126x or SX128x LoRa radio. Not safe for concurrent use
// from multiple goroutines except for HandleIRQ, which may run from
// interrupt context concurrently with blocking operations on other cores
// only if those operations are not in flight.
type Device struct {
	mu      sync.Mutex
	tab     *cmdset.Table
	bus     Transport
	dma     DMATransport
	busyPin PinInput
	rst     PinOutput

	// mode is atomic so HandleIRQ can retire transfers without taking mu.
	mode    atomic.Uint32
	pending atomic.Uint32

	onEvent func(RadioEvent)

	// Applied configuration, cached for transfer setup.
	freq        cmdset.Frequency
	mod         ModulationParams
	pkt         PacketParams
	txPower     int8
	initialized bool
	configured  bool
	sleepRetain bool

	// DMA continuation state, valid while pending != pendingNone.
	dmaLen     uint8
	dmaEvents  cmdset.Event
	dmaMode    Mode
	dmaTimeout time.Duration

	busyTimeout   time.Duration
	logger        *slog.Logger
	_traceenabled bool

	// Separate scratch for operations and for the interrupt path, so a
	// HandleIRQ preempting a failed operation cannot corrupt its frame.
	buf     [maxFrame]byte
	rx      [maxFrame]byte
	ibuf    [maxFrame]byte
	irx     [maxFrame]byte
	payload [cmdset.FIFOSize]byte
}

// Config is the initial radio setup applied by Init.
type Config struct {
	Frequency  cmdset.Frequency
	Modulation ModulationParams
	Packet     PacketParams
	// TxPower in dBm. Range depends on variant, see cmdset.
	TxPower int8
	// RampTime selects the PA ramp duration from the chip's discrete set.
	RampTime time.Duration
	// PublicNetwork selects the LoRaWAN sync word on the SX126x.
	PublicNetwork bool
	// DCDC enables the DC-DC regulator instead of LDO only.
	DCDC bool
	// DIO2RfSwitch hands the SX126x DIO2 pin to the radio as antenna
	// switch control. Most SX126x modules require it.
	DIO2RfSwitch bool
	// OnEvent receives transfer completions from HandleIRQ and
	// DMAComplete. May be called from interrupt context.
	OnEvent func(RadioEvent)
	Logger  *slog.Logger
	// BusyTimeout bounds waits on the BUSY line. Zero selects 100ms.
	BusyTimeout time.Duration
}

// DefaultConfig returns a working LoRa setup for the variant: mid power,
// SF7 and the variant's customary bandwidth, explicit header with CRC.
func DefaultConfig(v cmdset.Variant) Config {
	cfg := Config{
		Frequency: 868 * cmdset.MegaHertz,
		Modulation: ModulationParams{
			Spread:     cmdset.SF7,
			Bandwidth:  cmdset.Bandwidth125k,
			CodingRate: cmdset.CR4_5,
		},
		Packet: PacketParams{
			PreambleLength: 12,
			Header:         cmdset.HeaderExplicit,
			PayloadLength:  cmdset.FIFOSize,
			CRC:            true,
		},
		TxPower:      14,
		RampTime:     200 * time.Microsecond,
		DIO2RfSwitch: true,
	}
	if v == cmdset.SX128x {
		cfg.Frequency = 2450 * cmdset.MegaHertz
		cfg.Modulation.Bandwidth = cmdset.Bandwidth800k
		cfg.TxPower = 10
		cfg.RampTime = 10 * time.Microsecond
		cfg.DIO2RfSwitch = false
	}
	return cfg
}

// New returns a Device for the given variant over bus. busy samples the
// radio's BUSY line and may be nil if the line is not wired, in which
// case the driver cannot pace commands and the bus must be slow enough
// for the chip to keep up. reset drives NRESET and may be nil.
func New(v cmdset.Variant, bus Transport, busy PinInput, reset PinOutput) *Device {
	d := &Device{
		tab:         v.Table(),
		bus:         bus,
		busyPin:     busy,
		rst:         reset,
		busyTimeout: defaultBusyTimeout,
	}
	d.dma, _ = bus.(DMATransport)
	return d
}

// Init resets the radio and applies cfg: protocol selection, calibration
// and silicon workarounds, power and RF setup. Leaves the radio in
// STDBY_RC. Must be called before any other operation and may be called
// again to recover from a wedged chip.
func (d *Device) Init(cfg Config) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = cfg.Logger
	d._traceenabled = d.logenabled(levelTrace)
	d.onEvent = cfg.OnEvent
	d.busyTimeout = cfg.BusyTimeout
	if d.busyTimeout == 0 {
		d.busyTimeout = defaultBusyTimeout
	}
	d.info("init:start", slog.String("variant", d.tab.Variant().String()))
	start := time.Now()
	d.initialized = false
	d.configured = false
	d.pending.Store(pendingNone)

	d.resetPulse()
	st, err := d.getStatus()
	if err != nil {
		return err
	}
	if !st.Ready() {
		return errNotResponding
	}
	err = d.enterStandbyRC()
	if err != nil {
		return err
	}
	// Protocol must be selected first, in STDBY_RC.
	if _, err = d.cmd(d.tab.AppendSetPacketTypeLoRa(d.buf[:0])); err != nil {
		return err
	}
	if _, err = d.cmd(d.tab.AppendSetRegulatorMode(d.buf[:0], cfg.DCDC)); err != nil {
		return err
	}
	switch d.tab.Variant() {
	case cmdset.SX126x:
		err = d.init6x(cfg)
	case cmdset.SX128x:
		err = d.init8x()
	}
	if err != nil {
		return err
	}
	frame, err := d.tab.AppendSetTxParams(d.buf[:0], cfg.TxPower, cfg.RampTime)
	if err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	d.txPower = cfg.TxPower
	if _, err = d.cmd(d.tab.AppendSetBufferBaseAddress(d.buf[:0], 0, 0)); err != nil {
		return err
	}
	err = d.configure(cfg.Frequency, cfg.Modulation, cfg.Packet)
	if err != nil {
		return err
	}
	if _, err = d.cmd(d.tab.AppendClearIrqStatus(d.buf[:0], cmdset.EventAll)); err != nil {
		return err
	}
	d.initialized = true
	d.setMode(ModeStandbyRC)
	d.info("init:done", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (d *Device) init6x(cfg Config) error {
	frame, err := d.tab.AppendSetDio2AsRfSwitchCtrl(d.buf[:0], cfg.DIO2RfSwitch)
	if err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	if frame, err = d.tab.AppendCalibrate(d.buf[:0]); err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	if frame, err = d.tab.AppendCalibrateImage(d.buf[:0], cfg.Frequency); err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	if err = d.fixTxClamp(); err != nil {
		return err
	}
	if err = d.fixRxGainRetention(); err != nil {
		return err
	}
	sync := cmdset.SyncWordPrivate
	if cfg.PublicNetwork {
		sync = cmdset.SyncWordPublic
	}
	err = d.writeReg(cmdset.Reg6xLoraSyncWordMSB, byte(sync>>8), byte(sync))
	if err != nil {
		return err
	}
	if frame, err = d.tab.AppendSetRxTxFallbackMode(d.buf[:0], cmdset.ChipModeStbyRC); err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	if frame, err = d.tab.AppendSetPaConfig(d.buf[:0], cfg.TxPower); err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	// Calibration may have latched spurious error flags.
	if frame, err = d.tab.AppendClearDeviceErrors(d.buf[:0]); err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	return nil
}

func (d *Device) init8x() error {
	fw, err := d.firmwareVersion()
	if err != nil {
		return err
	}
	if fw != cmdset.FirmwareVersion8xA && fw != cmdset.FirmwareVersion8xB {
		d.warn("init:unknown firmware", slog.Uint64("version", uint64(fw)))
	}
	// Boosted Rx gain, costs ~2mA in Rx.
	return d.writeReg(cmdset.Reg8xRxGain, 0x25|3<<6)
}

// Configure applies new RF, modulation and packet settings. Only legal in
// STDBY_RC or STDBY_XOSC; the mode is unchanged. Invalid values reject
// the whole call before any setting is applied.
func (d *Device) Configure(f cmdset.Frequency, mod ModulationParams, pkt PacketParams) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()
	m := d.Mode()
	if m != ModeStandbyRC && m != ModeStandbyXOSC {
		return ErrInvalidState
	}
	if d.isBusy() {
		return ErrBusy
	}
	return d.configure(f, mod, pkt)
}

// configure validates everything upfront so an invalid parameter cannot
// leave the chip half configured.
func (d *Device) configure(f cmdset.Frequency, mod ModulationParams, pkt PacketParams) error {
	err := d.tab.ValidateFrequency(f)
	if err != nil {
		return err
	}
	err = d.tab.ValidateModulation(mod.Spread, mod.Bandwidth, mod.CodingRate, mod.LowDataRateOptimize)
	if err != nil {
		return err
	}
	err = d.tab.ValidatePacket(pkt.PreambleLength, pkt.Header, pkt.PayloadLength, pkt.CRC, pkt.InvertIQ)
	if err != nil {
		return err
	}
	frame, err := d.tab.AppendSetRfFrequency(d.buf[:0], f)
	if err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	frame, err = d.tab.AppendSetModulationParams(d.buf[:0], mod.Spread, mod.Bandwidth, mod.CodingRate, mod.LowDataRateOptimize)
	if err != nil {
		return err
	}
	if _, err = d.cmd(frame); err != nil {
		return err
	}
	if d.tab.Variant() == cmdset.SX128x {
		// Spreading factor dependent trim, then frequency error correction.
		err = d.writeReg(cmdset.Reg8xSfAdditionalConfig, cmdset.SfAdditionalConfig8x(mod.Spread))
		if err != nil {
			return err
		}
		if err = d.writeReg(cmdset.Reg8xFreqErrorCorrection, 0x01); err != nil {
			return err
		}
	}
	err = d.setPacketParams(pkt)
	if err != nil {
		return err
	}
	d.freq = f
	d.mod = mod
	d.pkt = pkt
	d.configured = true
	d.debug("configure",
		slog.String("freq", f.String()),
		slog.String("sf", mod.Spread.String()),
		slog.String("bw", mod.Bandwidth.String()),
		slog.String("cr", mod.CodingRate.String()),
	)
	return nil
}

func (d *Device) setPacketParams(pkt PacketParams) error {
	frame, err := d.tab.AppendSetPacketParams(d.buf[:0],
		pkt.PreambleLength, pkt.Header, pkt.PayloadLength, pkt.CRC, pkt.InvertIQ)
	if err != nil {
		return err
	}
	_, err = d.cmd(frame)
	return err
}

// SetStandby moves between the standby clocked states. With xosc set the
// crystal oscillator is started (STDBY_XOSC), otherwise the chip drops to
// the RC oscillator (STDBY_RC). Legal from STDBY_RC, STDBY_XOSC and FS.
func (d *Device) SetStandby(xosc bool) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()
	switch d.Mode() {
	case ModeStandbyRC, ModeStandbyXOSC, ModeFs:
	default:
		return ErrInvalidState
	}
	if d.isBusy() {
		return ErrBusy
	}
	_, err := d.cmd(d.tab.AppendSetStandby(d.buf[:0], xosc))
	if err != nil {
		return err
	}
	if xosc {
		d.setMode(ModeStandbyXOSC)
	} else {
		d.setMode(ModeStandbyRC)
	}
	return nil
}

// SetFs locks the frequency synthesizer without radiating, cutting the
// Tx/Rx startup latency. Only legal from STDBY_XOSC.
func (d *Device) SetFs() error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()
	if d.Mode() != ModeStandbyXOSC {
		return ErrInvalidState
	}
	if d.isBusy() {
		return ErrBusy
	}
	_, err := d.cmd(d.tab.AppendSetFs(d.buf[:0]))
	if err != nil {
		return err
	}
	d.setMode(ModeFs)
	return nil
}

// Sleep puts the radio in its lowest power state, aborting any transfer
// in progress. With retain set the chip keeps its configuration and Wake
// restores it; otherwise Init must run again after Wake.
func (d *Device) Sleep(retain bool) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()
	if d.Mode() == ModeSleep {
		return nil
	}
	if d.isBusy() {
		return ErrBusy
	}
	// The sleep opcode is only accepted in standby.
	switch d.Mode() {
	case ModeTx, ModeRx, ModeRxContinuous, ModeFs:
		if _, err := d.cmd(d.tab.AppendSetStandby(d.buf[:0], false)); err != nil {
			return err
		}
	}
	_, err := d.cmd(d.tab.AppendSetSleep(d.buf[:0], retain))
	if err != nil {
		return err
	}
	// BUSY rises and stays high until the next chip select toggle. Do not
	// touch the bus from here on.
	d.sleepRetain = retain
	d.setMode(ModeSleep)
	d.debug("sleep", slog.Bool("retain", retain))
	return nil
}

// Wake restarts a sleeping radio by toggling chip select and leaves it in
// STDBY_RC. After a sleep without retention the chip is back at reset
// defaults and needs Init again; Wake reports this by marking the device
// unconfigured.
func (d *Device) Wake() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Mode() != ModeSleep {
		return ErrInvalidState
	}
	// BUSY is high during sleep so this frame skips the ready wait. The
	// chip ignores its content; the chip select edge is what wakes it.
	_, err := d.xfer(d.tab.AppendGetStatus(d.buf[:0]))
	if err != nil {
		return err
	}
	if err = d.waitUntilReady(); err != nil {
		return err
	}
	if !d.sleepRetain {
		d.configured = false
		d.initialized = false
	}
	d.setMode(ModeStandbyRC)
	d.debug("wake")
	return nil
}

// Abort cancels any transfer in progress and forces the radio to
// STDBY_RC with all interrupt flags cleared. Legal in every mode; a
// sleeping radio is woken first.
func (d *Device) Abort() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Mode() == ModeSleep {
		if _, err := d.xfer(d.tab.AppendGetStatus(d.buf[:0])); err != nil {
			return err
		}
	}
	if err := d.waitUntilReady(); err != nil {
		return err
	}
	if _, err := d.cmd(d.tab.AppendSetStandby(d.buf[:0], false)); err != nil {
		return err
	}
	if _, err := d.cmd(d.tab.AppendClearIrqStatus(d.buf[:0], cmdset.EventAll)); err != nil {
		return err
	}
	d.pending.Store(pendingNone)
	d.setMode(ModeStandbyRC)
	d.debug("abort")
	return nil
}

// Mode returns the driver's view of the radio state machine.
func (d *Device) Mode() Mode { return Mode(d.mode.Load()) }

func (d *Device) setMode(m Mode) { d.mode.Store(uint32(m)) }

func (d *Device) casMode(old, new Mode) bool {
	return d.mode.CompareAndSwap(uint32(old), uint32(new))
}

func (d *Device) enterStandbyRC() error {
	_, err := d.cmd(d.tab.AppendSetStandby(d.buf[:0], false))
	if err != nil {
		return err
	}
	d.setMode(ModeStandbyRC)
	return nil
}

// acquire takes the device lock and rejects operations while a DMA
// transfer awaits completion.
func (d *Device) acquire() error {
	d.mu.Lock()
	if !d.initialized {
		d.mu.Unlock()
		return errUninitialized
	}
	if d.pending.Load() != pendingNone {
		d.mu.Unlock()
		return ErrDMAPending
	}
	return nil
}

func (d *Device) release() { d.mu.Unlock() }

// isBusy samples the BUSY line once for the fail-fast check at operation
// entry. Without a wired BUSY pin the radio is assumed ready.
func (d *Device) isBusy() bool {
	return d.busyPin != nil && d.busyPin()
}

// waitUntilReady blocks until the radio releases BUSY, which it holds
// while processing the previous command.
func (d *Device) waitUntilReady() error {
	if d.busyPin == nil || !d.busyPin() {
		return nil
	}
	deadline := time.Now().Add(d.busyTimeout)
	for d.busyPin() {
		if time.Since(deadline) > 0 {
			return ErrTimeout
		}
		runtime.Gosched()
	}
	return nil
}

// cmd issues one command transaction after waiting out BUSY, returning
// the full duplex readback.
func (d *Device) cmd(frame []byte) ([]byte, error) {
	if err := d.waitUntilReady(); err != nil {
		return nil, err
	}
	return d.xfer(frame)
}

func (d *Device) xfer(frame []byte) ([]byte, error) {
	r := d.rx[:len(frame)]
	err := d.bus.Tx(frame, r)
	if d._traceenabled {
		d.trace("spi",
			slog.String("mosi", hexstr(frame)),
			slog.String("miso", hexstr(r)),
		)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (d *Device) resetPulse() {
	if d.rst == nil {
		return
	}
	d.rst(false)
	time.Sleep(time.Millisecond)
	d.rst(true)
	time.Sleep(5 * time.Millisecond)
}

const hextable = "0123456789abcdef"

// hexstr prints the first 8 bytes of b.
func hexstr(b []byte) string {
	if len(b) > 8 {
		b = b[:8]
	}
	var s [16]byte
	for i, v := range b {
		s[2*i] = hextable[v>>4]
		s[2*i+1] = hextable[v&0xF]
	}
	return string(s[:2*len(b)])
}
