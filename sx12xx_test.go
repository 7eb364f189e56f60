package sx12xx

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/soypat/sx12xx/cmdset"
)

// spiScript is a scripted SPI bus: it records every MOSI frame and fills
// MISO from per-opcode reply functions.
type spiScript struct {
	frames [][]byte
	reply  map[byte]func(w, r []byte)
}

func newScript(v cmdset.Variant) *spiScript {
	s := &spiScript{reply: make(map[byte]func(w, r []byte))}
	// Status poll always reports STDBY_RC with a successful command.
	if v == cmdset.SX126x {
		s.reply[0xC0] = func(w, r []byte) { r[1] = 0x22 }
	} else {
		s.reply[0xC0] = func(w, r []byte) { r[0] = 2<<5 | 1<<2 }
	}
	return s
}

func (s *spiScript) Tx(w, r []byte) error {
	s.frames = append(s.frames, append([]byte(nil), w...))
	if fn, ok := s.reply[w[0]]; ok {
		fn(w, r)
	}
	return nil
}

func (s *spiScript) hasFrame(want []byte) bool {
	for _, f := range s.frames {
		if bytes.Equal(f, want) {
			return true
		}
	}
	return false
}

func (s *spiScript) countOpcode(op byte) (n int) {
	for _, f := range s.frames {
		if f[0] == op {
			n++
		}
	}
	return n
}

// dmaScript completes transfers instantly but still requires the
// DMAComplete call, like real DMA hardware raising a completion flag.
type dmaScript struct {
	spiScript
	started int
}

func (s *dmaScript) TxStart(w, r []byte) error {
	s.started++
	return s.Tx(w, r)
}

func newTestRadio(t *testing.T, v cmdset.Variant, bus Transport) (*Device, *[]RadioEvent) {
	t.Helper()
	events := new([]RadioEvent)
	d := New(v, bus, nil, nil)
	cfg := DefaultConfig(v)
	cfg.OnEvent = func(e RadioEvent) { *events = append(*events, e) }
	if err := d.Init(cfg); err != nil {
		t.Fatal("init:", err)
	}
	return d, events
}

func TestInitSX126x(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	d, _ := newTestRadio(t, cmdset.SX126x, bus)
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode after init: %v", d.Mode())
	}
	checks := [][]byte{
		{0x80, 0x00},             // standby RC
		{0x8A, 0x01},             // LoRa packet type
		{0x89, 0x7F},             // calibrate all blocks
		{0x9D, 0x01},             // DIO2 as RF switch
		{0x98, 0xD7, 0xDB},       // image calibration, 868MHz band
		{0x0D, 0x07, 0x40, 0x14, 0x24},       // private sync word
		{0x0D, 0x02, 0x9F, 0x01, 0x08, 0xAC}, // rx gain retention
		{0x93, 0x20},             // fallback to STDBY_RC
		{0x95, 0x02, 0x02, 0x00, 0x01},       // PA config for 14dBm
		{0x8E, 0x0E, 0x04},       // 14dBm, 200us ramp
		{0x86, 0x36, 0x40, 0x00, 0x00},       // 868MHz
		{0x8F, 0x00, 0x00},       // buffer base addresses
	}
	for _, want := range checks {
		if !bus.hasFrame(want) {
			t.Errorf("init missing frame %x", want)
		}
	}
}

func TestInitSX128x(t *testing.T) {
	bus := newScript(cmdset.SX128x)
	bus.reply[0x19] = func(w, r []byte) {
		if w[1] == 0x01 && w[2] == 0x53 {
			r[4], r[5] = 0xA9, 0xB5
		}
	}
	d, _ := newTestRadio(t, cmdset.SX128x, bus)
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode after init: %v", d.Mode())
	}
	checks := [][]byte{
		{0x18, 0x08, 0x91, 0xE5}, // boosted rx gain
		{0x18, 0x09, 0x25, 0x37}, // SF7 trim
		{0x18, 0x09, 0x3C, 0x01}, // frequency error correction
	}
	for _, want := range checks {
		if !bus.hasFrame(want) {
			t.Errorf("init missing frame %x", want)
		}
	}
	// None of the sub-GHz only commands may reach a 2.4GHz chip.
	for _, op := range []byte{0x89, 0x98, 0x95, 0x9D, 0x93} {
		if bus.countOpcode(op) != 0 {
			t.Errorf("init sent sub-GHz opcode %#02x", op)
		}
	}
}

func TestTransferStateGating(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	d, _ := newTestRadio(t, cmdset.SX126x, bus)

	// Transfers need the crystal running: STDBY_RC is not enough.
	if err := d.StartTx([]byte("x"), 0); err != ErrInvalidState {
		t.Errorf("StartTx from STDBY_RC: got %v", err)
	}
	if err := d.StartRx(0); err != ErrInvalidState {
		t.Errorf("StartRx from STDBY_RC: got %v", err)
	}
	if err := d.SetFs(); err != ErrInvalidState {
		t.Errorf("SetFs from STDBY_RC: got %v", err)
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode changed by rejected op: %v", d.Mode())
	}
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeStandbyXOSC {
		t.Errorf("mode: %v", d.Mode())
	}
	if err := d.SetFs(); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeFs {
		t.Errorf("mode: %v", d.Mode())
	}
	if err := d.StartTx([]byte("x"), 0); err != nil {
		t.Fatalf("StartTx from FS: %v", err)
	}
	if d.Mode() != ModeTx {
		t.Errorf("mode: %v", d.Mode())
	}
	// No state-changing command while a transfer runs.
	if err := d.SetStandby(false); err != ErrInvalidState {
		t.Errorf("SetStandby during Tx: got %v", err)
	}
}

func TestBusyFailFast(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	busy := false
	d := New(cmdset.SX126x, bus, func() bool { return busy }, nil)
	cfg := DefaultConfig(cmdset.SX126x)
	if err := d.Init(cfg); err != nil {
		t.Fatal(err)
	}
	busy = true
	if err := d.SetStandby(true); err != ErrBusy {
		t.Errorf("SetStandby while busy: got %v", err)
	}
	if err := d.Configure(cfg.Frequency, cfg.Modulation, cfg.Packet); err != ErrBusy {
		t.Errorf("Configure while busy: got %v", err)
	}
	busy = false
	if err := d.SetStandby(true); err != nil {
		t.Errorf("SetStandby after busy released: %v", err)
	}
}

func TestTxLifecycle(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	var irq uint16
	bus.reply[0x12] = func(w, r []byte) { r[2], r[3] = byte(irq>>8), byte(irq) }
	d, events := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	err := d.StartTx([]byte("hello"), 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !bus.hasFrame([]byte{0x0E, 0x00, 'h', 'e', 'l', 'l', 'o'}) {
		t.Error("payload upload frame missing")
	}
	if !bus.hasFrame([]byte{0x83, 0x00, 0x19, 0x00}) {
		t.Error("SetTx 100ms frame missing")
	}
	if d.Mode() != ModeTx {
		t.Fatalf("mode: %v", d.Mode())
	}

	irq = 0x0001 // TxDone
	if err := d.HandleIRQ(); err != nil {
		t.Fatal(err)
	}
	if len(*events) != 1 || (*events)[0].Kind != EventTxComplete {
		t.Fatalf("events: %+v", *events)
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode after TxDone: %v", d.Mode())
	}
	if !bus.hasFrame([]byte{0x02, 0x00, 0x01}) {
		t.Error("TxDone not acknowledged")
	}
	// A glitching line delivers no second completion.
	irq = 0
	if err := d.HandleIRQ(); err != nil {
		t.Fatal(err)
	}
	if len(*events) != 1 {
		t.Errorf("spurious irq produced event: %+v", *events)
	}
}

func TestTxTimeout(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	var irq uint16
	bus.reply[0x12] = func(w, r []byte) { r[2], r[3] = byte(irq>>8), byte(irq) }
	d, events := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if err := d.StartTx([]byte("x"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	irq = 1 << 9 // chip timeout bit
	if err := d.HandleIRQ(); err != nil {
		t.Fatal(err)
	}
	if len(*events) != 1 || (*events)[0].Kind != EventTxTimeout {
		t.Fatalf("events: %+v", *events)
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode after timeout: %v", d.Mode())
	}
}

func TestRxLifecycle(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	var irq uint16
	bus.reply[0x12] = func(w, r []byte) { r[2], r[3] = byte(irq>>8), byte(irq) }
	bus.reply[0x13] = func(w, r []byte) { r[2], r[3] = 5, 12 }
	bus.reply[0x1E] = func(w, r []byte) { copy(r[3:], "world") }
	bus.reply[0x14] = func(w, r []byte) { r[2], r[3], r[4] = 80, 20, 84 }
	d, events := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if err := d.StartRx(0); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeRx {
		t.Fatalf("mode: %v", d.Mode())
	}

	irq = 0x0002 // RxDone
	if err := d.HandleIRQ(); err != nil {
		t.Fatal(err)
	}
	if len(*events) != 1 {
		t.Fatalf("events: %+v", *events)
	}
	e := (*events)[0]
	if e.Kind != EventRxComplete || string(e.Payload) != "world" {
		t.Errorf("event: %+v", e)
	}
	if e.Status.RSSI != -40 || e.Status.SNR != 5 || e.Status.SignalRSSI != -42 {
		t.Errorf("packet status: %+v", e.Status)
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode after single rx: %v", d.Mode())
	}
	// Readout honored the chip's reported offset and length.
	found := false
	for _, f := range bus.frames {
		if f[0] == 0x1E && f[1] == 12 && len(f) == 3+5 {
			found = true
		}
	}
	if !found {
		t.Error("ReadBuffer did not use reported offset and length")
	}
}

func TestRxContinuous(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	var irq uint16
	bus.reply[0x12] = func(w, r []byte) { r[2], r[3] = byte(irq>>8), byte(irq) }
	bus.reply[0x13] = func(w, r []byte) { r[2], r[3] = 3, 0 }
	bus.reply[0x1E] = func(w, r []byte) { copy(r[3:], "abc") }
	bus.reply[0x14] = func(w, r []byte) { r[2], r[3] = 80, 20 }
	d, events := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if err := d.StartRx(RxContinuous); err != nil {
		t.Fatal(err)
	}
	if !bus.hasFrame([]byte{0x82, 0xFF, 0xFF, 0xFF}) {
		t.Error("continuous Rx frame missing")
	}
	if d.Mode() != ModeRxContinuous {
		t.Fatalf("mode: %v", d.Mode())
	}
	irq = 0x0002
	for i := 0; i < 2; i++ {
		if err := d.HandleIRQ(); err != nil {
			t.Fatal(err)
		}
	}
	if len(*events) != 2 {
		t.Fatalf("events: %+v", *events)
	}
	if d.Mode() != ModeRxContinuous {
		t.Errorf("continuous rx left receive mode: %v", d.Mode())
	}
}

func TestRxTimeoutStopsRtc(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	var irq uint16
	bus.reply[0x12] = func(w, r []byte) { r[2], r[3] = byte(irq>>8), byte(irq) }
	d, events := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if err := d.StartRx(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	irq = 1 << 9
	if err := d.HandleIRQ(); err != nil {
		t.Fatal(err)
	}
	if len(*events) != 1 || (*events)[0].Kind != EventRxTimeout {
		t.Fatalf("events: %+v", *events)
	}
	// The RTC keeps counting after a timed reception unless stopped.
	if !bus.hasFrame([]byte{0x0D, 0x09, 0x02, 0x00}) {
		t.Error("RTC stop register write missing")
	}
	if !bus.hasFrame([]byte{0x0D, 0x09, 0x44, 0x02}) {
		t.Error("timeout event clear write missing")
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode: %v", d.Mode())
	}
}

func TestPacketError(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	var irq uint16
	bus.reply[0x12] = func(w, r []byte) { r[2], r[3] = byte(irq>>8), byte(irq) }
	d, events := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if err := d.StartRx(0); err != nil {
		t.Fatal(err)
	}
	irq = 0x0002 | 1<<6 // RxDone with CRC error
	if err := d.HandleIRQ(); err != nil {
		t.Fatal(err)
	}
	if len(*events) != 1 {
		t.Fatalf("events: %+v", *events)
	}
	e := (*events)[0]
	if e.Kind != EventPacketError || e.Err == nil {
		t.Errorf("event: %+v", e)
	}
	if e.Events&cmdset.EventCrcError == 0 {
		t.Errorf("crc flag not surfaced: %v", e.Events)
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode: %v", d.Mode())
	}
}

func TestConfigureValidation(t *testing.T) {
	bus := newScript(cmdset.SX128x)
	d, _ := newTestRadio(t, cmdset.SX128x, bus)
	cfg := DefaultConfig(cmdset.SX128x)
	before := len(bus.frames)
	var perr *cmdset.InvalidParameterError
	err := d.Configure(868100*cmdset.KiloHertz, cfg.Modulation, cfg.Packet)
	if !errors.As(err, &perr) {
		t.Fatalf("sub-GHz frequency on 2.4GHz part: got %v", err)
	}
	if len(bus.frames) != before {
		t.Error("rejected configure reached the bus")
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode: %v", d.Mode())
	}
}

func TestSleepWake(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	d, _ := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.Sleep(true); err != nil {
		t.Fatal(err)
	}
	if !bus.hasFrame([]byte{0x84, 0x04}) {
		t.Error("warm sleep frame missing")
	}
	if d.Mode() != ModeSleep {
		t.Fatalf("mode: %v", d.Mode())
	}
	if _, err := d.Status(); err != ErrInvalidState {
		t.Errorf("status poll in sleep: got %v", err)
	}
	if err := d.StartTx([]byte("x"), 0); err != ErrInvalidState {
		t.Errorf("StartTx in sleep: got %v", err)
	}
	if err := d.Wake(); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode after wake: %v", d.Mode())
	}
	// Warm start kept the configuration.
	if err := d.SetStandby(true); err != nil {
		t.Errorf("operation after warm wake: %v", err)
	}

	// Cold sleep drops the configuration and forces a new Init.
	if err := d.SetStandby(false); err != nil {
		t.Fatal(err)
	}
	if err := d.Sleep(false); err != nil {
		t.Fatal(err)
	}
	if err := d.Wake(); err != nil {
		t.Fatal(err)
	}
	if err := d.SetStandby(true); err == nil {
		t.Error("operation after cold wake succeeded without Init")
	}
}

func TestAbort(t *testing.T) {
	bus := newScript(cmdset.SX126x)
	d, events := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if err := d.StartRx(RxContinuous); err != nil {
		t.Fatal(err)
	}
	if err := d.Abort(); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeStandbyRC {
		t.Errorf("mode after abort: %v", d.Mode())
	}
	if len(*events) != 0 {
		t.Errorf("abort produced events: %+v", *events)
	}
	// Abort acknowledges everything so no stale completion can fire.
	if !bus.hasFrame([]byte{0x02, 0x03, 0xFF}) {
		t.Error("abort did not clear interrupt flags")
	}
}

func TestDMATx(t *testing.T) {
	bus := &dmaScript{spiScript: *newScript(cmdset.SX126x)}
	d, _ := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if err := d.StartTx([]byte("hello"), 0); err != nil {
		t.Fatal(err)
	}
	if bus.started != 1 {
		t.Fatalf("dma transfers started: %d", bus.started)
	}
	// Radio must not transmit until the payload transfer is complete.
	if d.Mode() != ModeStandbyXOSC {
		t.Errorf("mode before DMAComplete: %v", d.Mode())
	}
	if err := d.StartRx(0); err != ErrDMAPending {
		t.Errorf("op during dma: got %v", err)
	}
	if err := d.DMAComplete(); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeTx {
		t.Errorf("mode after DMAComplete: %v", d.Mode())
	}
	if bus.countOpcode(0x83) == 0 {
		t.Error("SetTx never issued")
	}
}

func TestDMARx(t *testing.T) {
	bus := &dmaScript{spiScript: *newScript(cmdset.SX126x)}
	var irq uint16
	bus.reply[0x12] = func(w, r []byte) { r[2], r[3] = byte(irq>>8), byte(irq) }
	bus.reply[0x13] = func(w, r []byte) { r[2], r[3] = 3, 0 }
	bus.reply[0x1E] = func(w, r []byte) { copy(r[3:], "abc") }
	bus.reply[0x14] = func(w, r []byte) { r[2], r[3] = 80, 20 }
	d, events := newTestRadio(t, cmdset.SX126x, bus)
	if err := d.SetStandby(true); err != nil {
		t.Fatal(err)
	}
	if err := d.StartRx(0); err != nil {
		t.Fatal(err)
	}
	// StartRx uploads nothing so no DMA transfer ran yet.
	dmaBefore := bus.started
	irq = 0x0002
	if err := d.HandleIRQ(); err != nil {
		t.Fatal(err)
	}
	if bus.started != dmaBefore+1 {
		t.Fatalf("payload readout not via dma: %d", bus.started)
	}
	if len(*events) != 0 {
		t.Fatalf("event before DMAComplete: %+v", *events)
	}
	if err := d.DMAComplete(); err != nil {
		t.Fatal(err)
	}
	if len(*events) != 1 || (*events)[0].Kind != EventRxComplete {
		t.Fatalf("events: %+v", *events)
	}
	if string((*events)[0].Payload) != "abc" {
		t.Errorf("payload: %q", (*events)[0].Payload)
	}
}
