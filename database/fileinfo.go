package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chime-experiment/dataindex"
	"github.com/sirupsen/logrus"
)

// FileInfo is the per-type record extending an ArchiveFile. Each kind is
// stored in its own table with at most one row per file.
//
// The concrete types are CorrFileInfo, HFBFileInfo, HKFileInfo,
// HKPFileInfo, WeatherFileInfo, RawadcFileInfo, CalibrationGainFileInfo,
// DigitalGainFileInfo, FlagInputFileInfo and MiscFileInfo. Use a type
// switch to reach the kind-specific fields.
type FileInfo interface {
	Kind() dataindex.InfoKind
	Base() *FileInfoBase

	// fields returns column names and pointers to the matching struct
	// fields, excluding file_id.
	fields() ([]string, []any)
}

// FileInfoBase holds the columns shared by every info kind. Times are UNIX
// seconds and may be unknown.
type FileInfoBase struct {
	FileID     int64
	StartTime  *float64
	FinishTime *float64
}

// Base returns the shared columns.
func (b *FileInfoBase) Base() *FileInfoBase { return b }

func (b *FileInfoBase) baseFields() ([]string, []any) {
	return []string{"start_time", "finish_time"}, []any{&b.StartTime, &b.FinishTime}
}

// CorrFileInfo extends a corr file.
type CorrFileInfo struct {
	FileInfoBase
	ChunkNumber *int64
	FreqNumber  *int64
}

func (*CorrFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoCorr }

func (i *CorrFileInfo) fields() ([]string, []any) {
	cols, ptrs := i.baseFields()
	return append(cols, "chunk_number", "freq_number"), append(ptrs, &i.ChunkNumber, &i.FreqNumber)
}

// HFBFileInfo extends an hfb file.
type HFBFileInfo struct {
	FileInfoBase
	ChunkNumber *int64
	FreqNumber  *int64
}

func (*HFBFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoHFB }

func (i *HFBFileInfo) fields() ([]string, []any) {
	cols, ptrs := i.baseFields()
	return append(cols, "chunk_number", "freq_number"), append(ptrs, &i.ChunkNumber, &i.FreqNumber)
}

// HKFileInfo extends a housekeeping file.
type HKFileInfo struct {
	FileInfoBase
	AtmelName   string
	ChunkNumber *int64
}

func (*HKFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoHK }

func (i *HKFileInfo) fields() ([]string, []any) {
	cols, ptrs := i.baseFields()
	return append(cols, "atmel_name", "chunk_number"), append(ptrs, &i.AtmelName, &i.ChunkNumber)
}

// HKPFileInfo extends a prometheus housekeeping file.
type HKPFileInfo struct{ FileInfoBase }

func (*HKPFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoHKP }

func (i *HKPFileInfo) fields() ([]string, []any) { return i.baseFields() }

// WeatherFileInfo extends a weather file. Date is "YYYYMMDD".
type WeatherFileInfo struct {
	FileInfoBase
	Date string
}

func (*WeatherFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoWeather }

func (i *WeatherFileInfo) fields() ([]string, []any) {
	cols, ptrs := i.baseFields()
	return append(cols, "date"), append(ptrs, &i.Date)
}

// RawadcFileInfo extends a raw ADC file.
type RawadcFileInfo struct{ FileInfoBase }

func (*RawadcFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoRawadc }

func (i *RawadcFileInfo) fields() ([]string, []any) { return i.baseFields() }

// CalibrationGainFileInfo extends a calibration file of a gain acquisition.
type CalibrationGainFileInfo struct{ FileInfoBase }

func (*CalibrationGainFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoCalibrationGain }

func (i *CalibrationGainFileInfo) fields() ([]string, []any) { return i.baseFields() }

// DigitalGainFileInfo extends a calibration file of a digitalgain acquisition.
type DigitalGainFileInfo struct{ FileInfoBase }

func (*DigitalGainFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoDigitalGain }

func (i *DigitalGainFileInfo) fields() ([]string, []any) { return i.baseFields() }

// FlagInputFileInfo extends a calibration file of a flaginput acquisition.
type FlagInputFileInfo struct{ FileInfoBase }

func (*FlagInputFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoFlagInput }

func (i *FlagInputFileInfo) fields() ([]string, []any) { return i.baseFields() }

// MiscFileInfo extends a miscellaneous tarball.
type MiscFileInfo struct {
	FileInfoBase
	DataType string
	Metadata JSONObject
}

func (*MiscFileInfo) Kind() dataindex.InfoKind { return dataindex.InfoMisc }

func (i *MiscFileInfo) fields() ([]string, []any) {
	cols, ptrs := i.baseFields()
	return append(cols, "data_type", "metadata"), append(ptrs, &i.DataType, &i.Metadata)
}

// JSONObject is a JSON object column. A nil map is stored as "{}".
type JSONObject map[string]any

// Value implements driver.Valuer.
func (o JSONObject) Value() (driver.Value, error) {
	if o == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(o))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (o *JSONObject) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*o = nil
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("cannot scan %T into JSONObject", src)
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	*o = m
	return nil
}

// infoTables maps each kind to its table. infoKinds fixes iteration order.
var (
	infoTables = map[dataindex.InfoKind]string{
		dataindex.InfoCorr:            "corrfileinfo",
		dataindex.InfoHFB:             "hfbfileinfo",
		dataindex.InfoHK:              "hkfileinfo",
		dataindex.InfoHKP:             "hkpfileinfo",
		dataindex.InfoWeather:         "weatherfileinfo",
		dataindex.InfoRawadc:          "rawadcfileinfo",
		dataindex.InfoCalibrationGain: "calibrationgainfileinfo",
		dataindex.InfoDigitalGain:     "digitalgainfileinfo",
		dataindex.InfoFlagInput:       "flaginputfileinfo",
		dataindex.InfoMisc:            "miscfileinfo",
	}
	infoKinds = []dataindex.InfoKind{
		dataindex.InfoCorr, dataindex.InfoHFB, dataindex.InfoHK, dataindex.InfoHKP,
		dataindex.InfoWeather, dataindex.InfoRawadc, dataindex.InfoCalibrationGain,
		dataindex.InfoDigitalGain, dataindex.InfoFlagInput, dataindex.InfoMisc,
	}
)

// NewFileInfo returns an empty info record of the given kind, or nil for
// InfoNone and unknown kinds.
func NewFileInfo(kind dataindex.InfoKind) FileInfo {
	switch kind {
	case dataindex.InfoCorr:
		return &CorrFileInfo{}
	case dataindex.InfoHFB:
		return &HFBFileInfo{}
	case dataindex.InfoHK:
		return &HKFileInfo{}
	case dataindex.InfoHKP:
		return &HKPFileInfo{}
	case dataindex.InfoWeather:
		return &WeatherFileInfo{}
	case dataindex.InfoRawadc:
		return &RawadcFileInfo{}
	case dataindex.InfoCalibrationGain:
		return &CalibrationGainFileInfo{}
	case dataindex.InfoDigitalGain:
		return &DigitalGainFileInfo{}
	case dataindex.InfoFlagInput:
		return &FlagInputFileInfo{}
	case dataindex.InfoMisc:
		return &MiscFileInfo{}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	execer
	queryRower
}

// ErrInfoKindMismatch is returned when an info record does not fit the
// file it is attached to.
var ErrInfoKindMismatch = errors.New("file info kind does not match file")

// checkInfoKind requires info to be the kind resolved from the file's type
// and acquisition type, and no other info table to hold the file already.
func checkInfoKind(ctx context.Context, q queryRower, info FileInfo) error {
	fileID := info.Base().FileID

	var fileType, acqType string
	err := q.QueryRowContext(ctx, `
		SELECT ft.name, at.name
		FROM archivefile f
		JOIN filetype ft ON ft.id = f.type_id
		JOIN archiveacq a ON a.id = f.acq_id
		JOIN acqtype at ON at.id = a.type_id
		WHERE f.id = ?`, fileID).Scan(&fileType, &acqType)
	if err == sql.ErrNoRows {
		return fmt.Errorf("file %d: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query file %d type: %w", fileID, err)
	}

	if want := dataindex.ResolveInfoKind(fileType, acqType); want != info.Kind() {
		return fmt.Errorf("%s info for %s file %d in %s acquisition (want %q): %w",
			info.Kind(), fileType, fileID, acqType, want, ErrInfoKindMismatch)
	}

	for _, kind := range infoKinds {
		if kind == info.Kind() {
			continue
		}
		var one int
		err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE file_id = ?", infoTables[kind]), fileID).Scan(&one)
		if err == nil {
			return fmt.Errorf("file %d already has %s info: %w", fileID, kind, ErrInfoKindMismatch)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to query %s info: %w", kind, err)
		}
	}
	return nil
}

func (d *DB) insertFileInfo(ctx context.Context, q querier, info FileInfo) error {
	table, ok := infoTables[info.Kind()]
	if !ok {
		return fmt.Errorf("unknown file info kind %q", info.Kind())
	}
	if err := checkInfoKind(ctx, q, info); err != nil {
		return err
	}

	cols, ptrs := info.fields()
	cols = append([]string{"file_id"}, cols...)
	args := append([]any{info.Base().FileID}, ptrs...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), marks)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert %s info for file %d: %w", info.Kind(), info.Base().FileID, err)
	}
	d.logWrite("insert_"+table, res, logrus.Fields{"file_id": info.Base().FileID})
	return nil
}

// InsertFileInfo stores info for the file named by info.Base().FileID. The
// kind must be the one the file's type resolves to (ErrInfoKindMismatch
// otherwise), and a second record for the same file fails with a unique
// violation.
func (d *DB) InsertFileInfo(ctx context.Context, info FileInfo) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		return d.insertFileInfo(ctx, tx, info)
	})
}

// GetFileInfo loads the info record of the given kind for a file, or
// returns ErrNotFound.
func (d *DB) GetFileInfo(ctx context.Context, fileID int64, kind dataindex.InfoKind) (FileInfo, error) {
	info := NewFileInfo(kind)
	if info == nil {
		return nil, fmt.Errorf("unknown file info kind %q", kind)
	}

	cols, ptrs := info.fields()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE file_id = ?", strings.Join(cols, ", "), infoTables[kind])
	err := d.db.QueryRowContext(ctx, query, fileID).Scan(ptrs...)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s info for file %d: %w", kind, fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s info: %w", kind, err)
	}
	info.Base().FileID = fileID
	return info, nil
}
