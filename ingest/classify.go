// Package ingest validates file and acquisition names and builds the rows
// that describe them before they are written to the data index.
//
// Classification is pure: Classify detects a file's type, parses its name
// with the matching grammar and builds the per-type info record. Registrar
// adds the I/O around it (checksums, database writes, copy bookkeeping).
package ingest

import (
	"errors"
	"fmt"

	"github.com/chime-experiment/dataindex"
	"github.com/chime-experiment/dataindex/database"
	"github.com/chime-experiment/dataindex/names"
)

// ErrTypeMismatch is returned when a file's recorded type disagrees with
// what its name parses as.
var ErrTypeMismatch = errors.New("file type does not match file name")

// Classification is the result of classifying one file name.
type Classification struct {
	Name     string
	FileType string
	Kind     dataindex.InfoKind

	// Info is the per-type record with FileID unset, or nil for file types
	// without one (log, pdf, ...).
	Info database.FileInfo
}

// Classify detects the type of filename inside an acquisition of acqType
// and builds its info record. An empty acqType applies no restriction.
func Classify(filename, acqType string) (*Classification, error) {
	fileType, err := names.DetectFileType(filename, acqType)
	if err != nil {
		return nil, err
	}
	info, err := BuildFileInfo(filename, fileType, acqType)
	if err != nil {
		return nil, err
	}
	return &Classification{
		Name:     filename,
		FileType: fileType,
		Kind:     dataindex.ResolveInfoKind(fileType, acqType),
		Info:     info,
	}, nil
}

// ValidateFile checks that filename is a legal name for fileType within an
// acquisition of acqType. It fails with ErrTypeMismatch if the name is
// detected as some other type.
func ValidateFile(filename, fileType, acqType string) error {
	if acqType != "" && !dataindex.AcqAllowsFileType(acqType, fileType) {
		return fmt.Errorf("%w: %s files do not occur in %s acquisitions", ErrTypeMismatch, fileType, acqType)
	}
	detected, err := names.DetectFileType(filename, acqType)
	if err != nil {
		return err
	}
	if detected != fileType {
		return fmt.Errorf("%w: %q is %s, not %s", ErrTypeMismatch, filename, detected, fileType)
	}
	return nil
}

// BuildFileInfo parses filename with the grammar of fileType and returns the
// matching info record, with FileID unset. Times are filled in where the
// name determines them (weather files cover one UTC day). It returns nil for
// file types that carry no info record.
func BuildFileInfo(filename, fileType, acqType string) (database.FileInfo, error) {
	kind := dataindex.ResolveInfoKind(fileType, acqType)
	if fileType == "calibration" && kind == dataindex.InfoNone {
		return nil, fmt.Errorf("calibration file %q: acquisition type %q has no calibration record", filename, acqType)
	}

	switch kind {
	case dataindex.InfoCorr:
		n, err := names.ParseCorrFileName(filename)
		if err != nil {
			return nil, err
		}
		return &database.CorrFileInfo{ChunkNumber: i64(n.Chunk), FreqNumber: i64(n.Freq)}, nil

	case dataindex.InfoHFB:
		n, err := names.ParseHFBFileName(filename)
		if err != nil {
			return nil, err
		}
		return &database.HFBFileInfo{ChunkNumber: i64(n.Chunk), FreqNumber: i64(n.Freq)}, nil

	case dataindex.InfoHK:
		n, err := names.ParseHKFileName(filename)
		if err != nil {
			return nil, err
		}
		return &database.HKFileInfo{AtmelName: n.Atmel, ChunkNumber: i64(n.Chunk)}, nil

	case dataindex.InfoWeather:
		n, err := names.ParseWeatherFileName(filename)
		if err != nil {
			return nil, err
		}
		start := float64(n.Start().Unix())
		finish := float64(n.Finish().Unix())
		return &database.WeatherFileInfo{
			FileInfoBase: database.FileInfoBase{StartTime: &start, FinishTime: &finish},
			Date:         n.Date,
		}, nil

	case dataindex.InfoMisc:
		n, err := names.ParseMiscFileName(filename)
		if err != nil {
			return nil, err
		}
		return &database.MiscFileInfo{DataType: n.DataType, Metadata: database.JSONObject{}}, nil

	case dataindex.InfoNone:
		return nil, nil
	}

	// Kinds whose names carry no fields of their own.
	if !names.Matches(fileType, filename) {
		return nil, &names.ParseError{Kind: fileType + " file", Name: filename}
	}
	return database.NewFileInfo(kind), nil
}

func i64(n int) *int64 {
	v := int64(n)
	return &v
}
