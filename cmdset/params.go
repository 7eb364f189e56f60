package cmdset

import "strconv"

// Frequency in Hertz. Used both for carrier frequency and LoRa bandwidth.
type Frequency uint32

const (
	Hertz     Frequency = 1
	KiloHertz           = 1000 * Hertz
	MegaHertz           = 1000 * KiloHertz
)

func (f Frequency) String() string {
	switch {
	case f >= MegaHertz:
		return itoafp(uint32(f), 1e6) + "MHz"
	case f >= KiloHertz:
		return itoafp(uint32(f), 1e3) + "kHz"
	}
	return strconv.Itoa(int(f)) + "Hz"
}

// itoafp prints v/div with up to two decimals, no trailing zeros.
func itoafp(v, div uint32) string {
	whole := v / div
	frac := (v % div) * 100 / div
	s := strconv.Itoa(int(whole))
	if frac == 0 {
		return s
	}
	if frac%10 == 0 {
		return s + "." + strconv.Itoa(int(frac/10))
	}
	if frac < 10 {
		return s + ".0" + strconv.Itoa(int(frac))
	}
	return s + "." + strconv.Itoa(int(frac))
}

// LoRa bandwidths. Both chips encode bandwidth as an opaque register value,
// see Table's modulation encoder for which values each variant accepts.
const (
	Bandwidth7_8k   = 7800 * Hertz
	Bandwidth10_4k  = 10400 * Hertz
	Bandwidth15_6k  = 15600 * Hertz
	Bandwidth20_8k  = 20800 * Hertz
	Bandwidth31_25k = 31250 * Hertz
	Bandwidth41_7k  = 41700 * Hertz
	Bandwidth62_5k  = 62500 * Hertz
	Bandwidth125k   = 125 * KiloHertz
	Bandwidth250k   = 250 * KiloHertz
	Bandwidth500k   = 500 * KiloHertz
	Bandwidth200k   = 200 * KiloHertz
	Bandwidth400k   = 400 * KiloHertz
	Bandwidth800k   = 800 * KiloHertz
	Bandwidth1600k  = 1600 * KiloHertz
)

// SpreadFactor is the LoRa spreading factor. The numeric value is the
// base-2 logarithm of the number of chips per symbol.
type SpreadFactor uint8

const (
	SF5 SpreadFactor = iota + 5
	SF6
	SF7
	SF8
	SF9
	SF10
	SF11
	SF12
)

func (sf SpreadFactor) String() string { return "SF" + strconv.Itoa(int(sf)) }

// CodingRate is the LoRa forward error correction rate.
type CodingRate uint8

const (
	CR4_5 CodingRate = iota + 1
	CR4_6
	CR4_7
	CR4_8
)

func (cr CodingRate) String() string {
	if cr < CR4_5 || cr > CR4_8 {
		return "CR(" + strconv.Itoa(int(cr)) + ")"
	}
	return "CR4/" + strconv.Itoa(int(cr)+4)
}

// HeaderType selects between LoRa explicit (variable length) and
// implicit (fixed length) packet headers.
type HeaderType uint8

const (
	HeaderExplicit HeaderType = iota
	HeaderImplicit
)

func (h HeaderType) String() string {
	if h == HeaderImplicit {
		return "implicit"
	}
	return "explicit"
}
