// Package dataindex holds the value types shared by the data index packages.
//
// The data index records acquisitions, the files they contain, and the
// copies of those files held on storage nodes. It never moves file content
// itself; the packages below only describe, validate and register it:
//
//   - names: filename grammars and the file-type detector
//   - checksum: streaming MD5 digests of file content
//   - database: the SQLite schema and row helpers
//   - ingest: validation and construction of rows prior to insertion
package dataindex

import (
	"fmt"
	"time"
)

// AcqNameTimeFormat is the layout of the timestamp prefix of an acquisition name.
const AcqNameTimeFormat = "20060102T150405Z"

// AcqName is the parsed form of an acquisition name such as
// "20190304T175519Z_stone_corr".
type AcqName struct {
	// Time is the acquisition start time, always UTC with second precision.
	Time time.Time `json:"time"`

	// Inst is the instrument that took the acquisition.
	Inst string `json:"inst"`

	// Type is the acquisition type name (e.g. "corr", "hk").
	Type string `json:"type"`
}

// String formats the acquisition name in its canonical form.
func (a AcqName) String() string {
	return fmt.Sprintf("%s_%s_%s", a.Time.UTC().Format(AcqNameTimeFormat), a.Inst, a.Type)
}

// InfoKind identifies which per-file info record extends an archive file.
type InfoKind string

// Info kinds. Each maps to exactly one side table keyed by file_id.
const (
	InfoNone            InfoKind = ""
	InfoCorr            InfoKind = "corr"
	InfoHFB             InfoKind = "hfb"
	InfoHK              InfoKind = "hk"
	InfoHKP             InfoKind = "hkp"
	InfoWeather         InfoKind = "weather"
	InfoRawadc          InfoKind = "rawadc"
	InfoCalibrationGain InfoKind = "calibrationgain"
	InfoDigitalGain     InfoKind = "digitalgain"
	InfoFlagInput       InfoKind = "flaginput"
	InfoMisc            InfoKind = "misc"
)

// ResolveInfoKind returns the info kind for a file of the given file type
// inside an acquisition of the given type. Calibration files share one file
// type, so the acquisition type decides which calibration record applies.
// Files without a per-type record (logs, pdfs, ...) yield InfoNone.
func ResolveInfoKind(fileType, acqType string) InfoKind {
	switch fileType {
	case "corr":
		return InfoCorr
	case "hfb":
		return InfoHFB
	case "hk":
		return InfoHK
	case "hkp":
		return InfoHKP
	case "weather":
		return InfoWeather
	case "rawadc":
		return InfoRawadc
	case "miscellaneous":
		return InfoMisc
	case "calibration":
		switch acqType {
		case "gain":
			return InfoCalibrationGain
		case "digitalgain":
			return InfoDigitalGain
		case "flaginput":
			return InfoFlagInput
		}
	}
	return InfoNone
}
