package names

import (
	"regexp"

	"github.com/chime-experiment/dataindex"
)

// detector pairs a file type with the test that identifies its names.
type detector struct {
	fileType string
	match    func(string) bool
}

func matchAny(res ...*regexp.Regexp) func(string) bool {
	return func(name string) bool {
		for _, re := range res {
			if re.MatchString(name) {
				return true
			}
		}
		return false
	}
}

func isWeather(name string) bool {
	_, err := ParseWeatherFileName(name)
	return err == nil
}

// detectionOrder is the fixed priority in which file types are tried. The
// first matching entry wins, which settles overlapping grammars: a name like
// "20190304.h5" is both a weather file and a calibration file, and weather
// comes first unless the acquisition type excludes it.
//
// Changing this order changes how ambiguous names are classified at ingest.
var detectionOrder = []detector{
	{"corr", matchAny(fmtCorr)},
	{"hfb", matchAny(fmtHFB)},
	{"hk", matchAny(fmtHK)},
	{"hkp", matchAny(fmtHKP)},
	{"log", matchAny(fmtLog)},
	{"atmel_id", matchAny(fmtAtmel)},
	{"rawadc", matchAny(fmtRawadc, fmtRawadcH5)},
	{"pdf", matchAny(fmtRawHist, fmtRawSpec)},
	{"pkl", matchAny(fmtRawGains)},
	{"weather", isWeather},
	{"calibration", matchAny(fmtCalibData)},
	{"miscellaneous", matchAny(fmtMiscTar)},
}

// DetectionOrder returns the file type names in detection priority order.
func DetectionOrder() []string {
	out := make([]string, len(detectionOrder))
	for i, d := range detectionOrder {
		out[i] = d.fileType
	}
	return out
}

// DetectFileType returns the name of the file type that filename belongs to.
//
// File types are tried in DetectionOrder. When acqType is a known
// acquisition type, file types that cannot occur in that kind of
// acquisition are skipped; an empty or unknown acqType tries every type.
// If nothing matches, a *DetectionError is returned.
func DetectFileType(filename, acqType string) (string, error) {
	for _, d := range detectionOrder {
		if acqType != "" && !dataindex.AcqAllowsFileType(acqType, d.fileType) {
			continue
		}
		if d.match(filename) {
			return d.fileType, nil
		}
	}
	return "", &DetectionError{Name: filename, AcqType: acqType}
}

// Matches reports whether filename is a valid name for fileType, using the
// same grammar DetectFileType applies for that type. Unknown file types
// never match.
func Matches(fileType, filename string) bool {
	for _, d := range detectionOrder {
		if d.fileType == fileType {
			return d.match(filename)
		}
	}
	return false
}
