package sx12xx

// Transport is the SPI access the driver needs: one full duplex
// transaction per call, chip select asserted for the whole transfer.
// The radios clock their response out during the same transaction the
// command is clocked in, so w and r always have equal length.
type Transport interface {
	Tx(w, r []byte) error
}

// DMATransport is an optional Transport extension for buses that can run
// a transfer in the background. TxStart returns once the transfer is
// handed to hardware; the caller must invoke Device.DMAComplete after the
// bus signals completion and before issuing any other operation. The
// driver uses it only for the two large transfers, WriteBuffer and
// ReadBuffer, where it pays off.
type DMATransport interface {
	Transport
	TxStart(w, r []byte) error
}

// PinOutput drives a GPIO, such as the radio's reset line.
type PinOutput func(level bool)

// PinInput samples a GPIO, such as the radio's BUSY line.
type PinInput func() bool
