package dataindex

// TypeEntry is a built-in AcqType or FileType row.
type TypeEntry struct {
	Name  string
	Notes string
}

// BuiltinAcqTypes are the acquisition types every data index must contain.
var BuiltinAcqTypes = []TypeEntry{
	{Name: "corr", Notes: "Traditionally hand-tooled correlation products from a correlator."},
	{Name: "hk", Notes: "Housekeeping data."},
	{Name: "rawadc", Notes: "Raw ADC data taken for testing the status of a correlator."},
	{Name: "weather", Notes: "Weather data scraped from the wview archive provided by DRAO."},
	{Name: "hkp", Notes: "New prometheus based scheme for recording housekeeping data."},
	{Name: "digitalgain", Notes: "FPGA digital gains from the F-Engine."},
	{Name: "gain", Notes: "Complex gains from the calibration broker."},
	{Name: "flaginput", Notes: "Good correlator input flags from the flagging broker."},
	{Name: "misc", Notes: "Miscellaneous data products."},
	{Name: "hfb", Notes: "21cm absorber (Hyper Fine Beam) data taken from a correlator."},
}

// BuiltinFileTypes are the file types every data index must contain.
var BuiltinFileTypes = []TypeEntry{
	{Name: "corr", Notes: "Traditionally hand-tooled correlation products from a correlator."},
	{Name: "log", Notes: "A human-readable log file produced by acquisition software."},
	{Name: "hk", Notes: "A housekeeping file."},
	{Name: "atmel_id", Notes: "A short file listing the ATMEL ID's and human readable names in an HK acquisition."},
	{Name: "rawadc", Notes: "A python numpy array with raw ADC values."},
	{Name: "pdf", Notes: "A portable document file."},
	{Name: "pkl", Notes: "A pickled set of raw ADC gains."},
	{Name: "weather", Notes: "DRAO weather data."},
	{Name: "hkp", Notes: "Archive of the prometheus housekeeping data."},
	{Name: "calibration", Notes: "Calibration data products."},
	{Name: "miscellaneous", Notes: "A tarball of miscellaneous data files."},
	{Name: "hfb", Notes: "21cm absorber (Hyper Fine Beam) data taken from a correlator."},
}

// BuiltinAcqFileTypes lists, per acquisition type, the file types that may
// appear in acquisitions of that type.
var BuiltinAcqFileTypes = map[string][]string{
	"corr":        {"corr", "log"},
	"hfb":         {"hfb", "log"},
	"hk":          {"hk", "atmel_id", "log"},
	"hkp":         {"hkp"},
	"rawadc":      {"rawadc", "pdf", "pkl", "log"},
	"weather":     {"weather"},
	"digitalgain": {"calibration"},
	"gain":        {"calibration"},
	"flaginput":   {"calibration"},
	"misc":        {"miscellaneous"},
}

// AcqAllowsFileType reports whether files of fileType may appear in an
// acquisition of acqType. Unknown acquisition types allow every file type.
func AcqAllowsFileType(acqType, fileType string) bool {
	allowed, ok := BuiltinAcqFileTypes[acqType]
	if !ok {
		return true
	}
	for _, ft := range allowed {
		if ft == fileType {
			return true
		}
	}
	return false
}
