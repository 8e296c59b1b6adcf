// Package names implements the filename grammars of the data archive.
//
// Every grammar is matched against the whole name. A parser either returns a
// fully populated result or a *ParseError; it never returns partial fields.
// Every parsed value formats back to the exact canonical name it came from.
package names

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/chime-experiment/dataindex"
)

var (
	fmtAcq       = regexp.MustCompile(`^([0-9]{8}T[0-9]{6}Z)_([A-Za-z0-9]+)_([A-Za-z]+)$`)
	fmtCorr      = regexp.MustCompile(`^([0-9]{8})_([0-9]{4})\.h5$`)
	fmtHFB       = regexp.MustCompile(`^hfb_([0-9]{8})_([0-9]{4})\.h5$`)
	fmtHK        = regexp.MustCompile(`^([A-Za-z]+)_([0-9]{8})\.h5$`)
	fmtHKP       = regexp.MustCompile(`^hkp_prom_([0-9]{8})\.h5$`)
	fmtAtmel     = regexp.MustCompile(`^atmel_id\.dat$`)
	fmtLog       = regexp.MustCompile(`^ch_(master|hk)\.log$`)
	fmtRawadc    = regexp.MustCompile(`^rawadc\.npy$`)
	fmtRawadcH5  = regexp.MustCompile(`^[0-9]{6}\.h5$`)
	fmtRawHist   = regexp.MustCompile(`^histogram_chan([0-9]{1,2})\.pdf$`)
	fmtRawSpec   = regexp.MustCompile(`^spectrum_chan([0-9]{1,2})\.pdf$`)
	fmtRawGains  = regexp.MustCompile(`^(gains|gains_noisy)\.pkl$`)
	fmtWeather   = regexp.MustCompile(`^(20[12][0-9][01][0-9][0123][0-9])\.h5$`)
	fmtCalibData = regexp.MustCompile(`^[0-9]{8}\.h5$`)
	fmtMiscTar   = regexp.MustCompile(`^([0-9]{8})_([A-Za-z][A-Za-z0-9_+-]*)\.misc\.tar(\.gz|\.bz2|\.xz)$`)
)

// AtmelIDFileName is the fixed name of the ATMEL board listing in an HK acquisition.
const AtmelIDFileName = "atmel_id.dat"

// ParseAcqName validates and parses an acquisition name of the form
// "YYYYMMDDThhmmssZ_<instrument>_<type>".
func ParseAcqName(name string) (dataindex.AcqName, error) {
	m := fmtAcq.FindStringSubmatch(name)
	if m == nil {
		return dataindex.AcqName{}, &ParseError{Kind: "acquisition", Name: name}
	}
	t, err := time.Parse(dataindex.AcqNameTimeFormat, m[1])
	if err != nil {
		return dataindex.AcqName{}, &ParseError{Kind: "acquisition", Name: name, Reason: "invalid timestamp"}
	}
	return dataindex.AcqName{Time: t.UTC(), Inst: m[2], Type: m[3]}, nil
}

// FormatAcqName is the inverse of ParseAcqName.
func FormatAcqName(a dataindex.AcqName) string {
	return a.String()
}

// CorrFileName is a parsed correlator file name "NNNNNNNN_FFFF.h5".
type CorrFileName struct {
	// Chunk is the position of the file within the acquisition.
	Chunk int
	// Freq is the frequency slice index.
	Freq int
}

func (c CorrFileName) String() string {
	return fmt.Sprintf("%08d_%04d.h5", c.Chunk, c.Freq)
}

// ParseCorrFileName validates and parses a correlator file name.
func ParseCorrFileName(name string) (CorrFileName, error) {
	m := fmtCorr.FindStringSubmatch(name)
	if m == nil {
		return CorrFileName{}, &ParseError{Kind: "correlator file", Name: name}
	}
	return CorrFileName{Chunk: atoi(m[1]), Freq: atoi(m[2])}, nil
}

// HFBFileName is a parsed HFB file name "hfb_NNNNNNNN_FFFF.h5".
type HFBFileName struct {
	Chunk int
	Freq  int
}

func (h HFBFileName) String() string {
	return fmt.Sprintf("hfb_%08d_%04d.h5", h.Chunk, h.Freq)
}

// ParseHFBFileName validates and parses an HFB file name.
func ParseHFBFileName(name string) (HFBFileName, error) {
	m := fmtHFB.FindStringSubmatch(name)
	if m == nil {
		return HFBFileName{}, &ParseError{Kind: "HFB file", Name: name}
	}
	return HFBFileName{Chunk: atoi(m[1]), Freq: atoi(m[2])}, nil
}

// HKFileName is a parsed housekeeping file name "<atmel>_NNNNNNNN.h5".
type HKFileName struct {
	// Atmel is the human-readable name of the ATMEL board.
	Atmel string
	Chunk int
}

func (h HKFileName) String() string {
	return fmt.Sprintf("%s_%08d.h5", h.Atmel, h.Chunk)
}

// ParseHKFileName validates and parses a housekeeping file name.
func ParseHKFileName(name string) (HKFileName, error) {
	m := fmtHK.FindStringSubmatch(name)
	if m == nil {
		return HKFileName{}, &ParseError{Kind: "housekeeping file", Name: name}
	}
	return HKFileName{Atmel: m[1], Chunk: atoi(m[2])}, nil
}

// WeatherFileName is a parsed DRAO weather file name "YYYYMMDD.h5".
type WeatherFileName struct {
	// Date is the day the file covers, formatted YYYYMMDD.
	Date string
}

func (w WeatherFileName) String() string {
	return w.Date + ".h5"
}

// Start returns midnight UTC of the covered day.
func (w WeatherFileName) Start() time.Time {
	t, _ := time.Parse("20060102", w.Date)
	return t
}

// Finish returns midnight UTC of the day after the covered day.
func (w WeatherFileName) Finish() time.Time {
	return w.Start().AddDate(0, 0, 1)
}

// ParseWeatherFileName validates and parses a weather file name. The date
// must be a real calendar day between 2010 and 2029.
func ParseWeatherFileName(name string) (WeatherFileName, error) {
	m := fmtWeather.FindStringSubmatch(name)
	if m == nil {
		return WeatherFileName{}, &ParseError{Kind: "weather file", Name: name}
	}
	if _, err := time.Parse("20060102", m[1]); err != nil {
		return WeatherFileName{}, &ParseError{Kind: "weather file", Name: name, Reason: "invalid date"}
	}
	return WeatherFileName{Date: m[1]}, nil
}

// MiscFileName is a parsed miscellaneous tarball name
// "NNNNNNNN_<type>.misc.tar.<gz|bz2|xz>".
type MiscFileName struct {
	Serial   int
	DataType string
	// Compression is the trailing extension including the dot, e.g. ".gz".
	Compression string
}

func (m MiscFileName) String() string {
	return fmt.Sprintf("%08d_%s.misc.tar%s", m.Serial, m.DataType, m.Compression)
}

// ParseMiscFileName validates and parses a miscellaneous tarball name.
func ParseMiscFileName(name string) (MiscFileName, error) {
	m := fmtMiscTar.FindStringSubmatch(name)
	if m == nil {
		return MiscFileName{}, &ParseError{Kind: "miscellaneous file", Name: name}
	}
	return MiscFileName{Serial: atoi(m[1]), DataType: m[2], Compression: m[3]}, nil
}

// atoi is only called on submatches the grammar restricts to decimal digits.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(fmt.Sprintf("names: digit group %q did not convert: %v", s, err))
	}
	return n
}
