// sxanalyze processes binary Saleae digital capture files of SX126x/SX128x
// SPI traffic and prints the decoded command transactions.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"github.com/soypat/sx12xx/cmdset"
	"golang.org/x/exp/constraints"
)

type Analyzer struct {
	Table       *cmdset.Table
	TrimForce   uint
	OmitStatus  bool
	OmitRawResp bool
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "sxanalyze - Process binary Saleae digital data files corresponding to SX126x/SX128x transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	mosi := flag.String("f-mosi", "digital_1.bin", "Input filename: SPI MOSI data.")
	miso := flag.String("f-miso", "", "Input filename: SPI MISO data. Empty if not captured.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI NSS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI clock data.")
	output := flag.String("o-cmd", "commands.txt", "Output filename of decoded command transactions.")
	timingsOutput := flag.String("o-time", "", "Output timing data to a file corresponding to output command history line-by-line.")
	variant := flag.String("variant", "sx126x", "Chip whose opcode table decodes the capture. Accepts 'sx126x' or 'sx128x'.")
	trimForce := flag.Uint("trim-force", 0, "Trims n bytes off the end of every transaction.")
	omitStatus := flag.Bool("omit-status", false, "Omit GetStatus polls, which dominate busy-wait heavy captures.")
	omitRawResp := flag.Bool("omit-resp", false, "Omit chip response bytes in output.")
	flag.Parse()

	az := Analyzer{
		TrimForce:   *trimForce,
		OmitStatus:  *omitStatus,
		OmitRawResp: *omitRawResp,
	}
	switch *variant {
	case "sx126x":
		az.Table = cmdset.SX126x.Table()
	case "sx128x":
		az.Table = cmdset.SX128x.Table()
	default:
		log.Fatal("invalid variant ", *variant)
	}
	start := time.Now()
	if err := az.run(*mosi, *miso, *enable, *clk, *output, *timingsOutput); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

func (az *Analyzer) run(mosi, miso, enable, clk, output, timingsOutput string) error {
	txs, err := az.processSpiFiles(mosi, miso, enable, clk)
	if err != nil {
		return err
	}
	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	var timings *os.File
	if timingsOutput != "" {
		log.Println("creating timings file", timingsOutput)
		timings, err = os.Create(timingsOutput)
		if err != nil {
			return err
		}
		defer timings.Close()
	}

	for _, tx := range txs {
		if az.OmitStatus && tx.Frame.Cmd == cmdset.CmdGetStatus && tx.Err == nil {
			continue
		}
		fmt.Fprintf(fp, "cmd×%2d %s", tx.Num, tx.describe(az.OmitRawResp))
		fmt.Fprintln(fp)
		if timings != nil {
			fmt.Fprintf(timings, "t=%f\tdata=%#x\n", tx.Start, tx.MOSI)
		}
	}
	return nil
}

func (az *Analyzer) processSpiFiles(fmosi, fmiso, fenable, fclk string) ([]sxtx, error) {
	mosi, err := opendigital(fmosi)
	if err != nil {
		return nil, err
	}
	miso := mosi
	haveMiso := fmiso != ""
	if haveMiso {
		miso, err = opendigital(fmiso)
		if err != nil {
			return nil, err
		}
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, mosi, miso)
	return az.process(txs, haveMiso), nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, err
	}
	return df, nil
}

type sxtx struct {
	// Num counts identical consecutive transactions, collapsed to one line.
	Num   int
	Frame cmdset.Frame
	MOSI  []byte
	Err   error
	Start float64
}

func (tx *sxtx) describe(omitResp bool) string {
	if tx.Err != nil {
		return fmt.Sprintf("op=%#02x  ?%v  raw=%#x", tx.MOSI[0], tx.Err, tx.MOSI)
	}
	s := fmt.Sprintf("op=%#02x  %-20s params=%#x", tx.Frame.Opcode, tx.Frame.Cmd.String(), tx.Frame.Params)
	if !omitResp && tx.Frame.Resp != nil {
		s += fmt.Sprintf("  resp=%#x", tx.Frame.Resp)
	}
	return s
}

func (az *Analyzer) process(txs []analyzers.TxSPI, haveMiso bool) (sxtxs []sxtx) {
	accumulativeResults := 1
	for i := 0; i < len(txs); i++ {
		tx := txs[i]
		mosi := tx.SDO[:max(0, len(tx.SDO)-int(az.TrimForce))]
		for j := i + 1; j < len(txs); j++ {
			if !bytes.Equal(txs[j].SDO, tx.SDO) || !bytes.Equal(txs[j].SDI, tx.SDI) {
				break
			}
			accumulativeResults++
			i = j
		}
		if len(mosi) == 0 {
			continue
		}
		var miso []byte
		if haveMiso {
			miso = tx.SDI[:len(mosi)]
		}
		frame, err := az.Table.DecodeFrame(mosi, miso)
		sxtxs = append(sxtxs, sxtx{
			Num:   accumulativeResults,
			Frame: frame,
			MOSI:  mosi,
			Err:   err,
			Start: tx.StartTime(),
		})
		accumulativeResults = 1
	}
	return sxtxs
}

func max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
