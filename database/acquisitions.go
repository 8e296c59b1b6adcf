package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnsureInst returns the id of the instrument called name, creating it if
// necessary. Concurrent callers converge on the same row.
func (d *DB) EnsureInst(ctx context.Context, name string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO archiveinst (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert instrument %q: %w", name, err)
	}
	d.logWrite("ensure_inst", res, logrus.Fields{"inst": name})

	inst, err := d.GetInst(ctx, name)
	if err != nil {
		return 0, err
	}
	return inst.ID, nil
}

// GetInst returns the instrument called name, or ErrNotFound.
func (d *DB) GetInst(ctx context.Context, name string) (*ArchiveInst, error) {
	var inst ArchiveInst
	var notes sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, notes FROM archiveinst WHERE name = ?`, name,
	).Scan(&inst.ID, &inst.Name, &notes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("instrument %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query instrument: %w", err)
	}
	inst.Notes = notes.String
	return &inst, nil
}

// InsertAcq inserts an acquisition and returns its id. A second acquisition
// with the same name fails with a unique violation.
func (d *DB) InsertAcq(ctx context.Context, acq *ArchiveAcq) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO archiveacq (name, inst_id, type_id, comment) VALUES (?, ?, ?, ?)`,
		acq.Name, acq.InstID, acq.TypeID, nullString(acq.Comment))
	if err != nil {
		return 0, fmt.Errorf("failed to insert acquisition %q: %w", acq.Name, err)
	}
	d.logWrite("insert_acq", res, logrus.Fields{"acq": acq.Name})

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read acquisition id: %w", err)
	}
	acq.ID = id
	return id, nil
}

const acqColumns = `id, name, inst_id, type_id, comment`

func scanAcq(row interface{ Scan(...any) error }) (*ArchiveAcq, error) {
	var acq ArchiveAcq
	var comment sql.NullString
	if err := row.Scan(&acq.ID, &acq.Name, &acq.InstID, &acq.TypeID, &comment); err != nil {
		return nil, err
	}
	acq.Comment = comment.String
	return &acq, nil
}

// GetAcqByName returns the acquisition called name, or ErrNotFound.
func (d *DB) GetAcqByName(ctx context.Context, name string) (*ArchiveAcq, error) {
	acq, err := scanAcq(d.db.QueryRowContext(ctx,
		`SELECT `+acqColumns+` FROM archiveacq WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("acquisition %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query acquisition: %w", err)
	}
	return acq, nil
}

// GetAcqByID returns the acquisition with the given id, or ErrNotFound.
func (d *DB) GetAcqByID(ctx context.Context, id int64) (*ArchiveAcq, error) {
	acq, err := scanAcq(d.db.QueryRowContext(ctx,
		`SELECT `+acqColumns+` FROM archiveacq WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("acquisition id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query acquisition: %w", err)
	}
	return acq, nil
}

// AcqFilter narrows ListAcqs. Zero fields match everything.
type AcqFilter struct {
	Inst  string
	Type  string
	Limit int
}

// ListAcqs returns acquisitions ordered by name, which is chronological.
func (d *DB) ListAcqs(ctx context.Context, f AcqFilter) ([]ArchiveAcq, error) {
	query := `
		SELECT a.id, a.name, a.inst_id, a.type_id, a.comment
		FROM archiveacq a
		JOIN archiveinst i ON i.id = a.inst_id
		JOIN acqtype t ON t.id = a.type_id
		WHERE (? = '' OR i.name = ?) AND (? = '' OR t.name = ?)
		ORDER BY a.name`
	args := []any{f.Inst, f.Inst, f.Type, f.Type}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list acquisitions: %w", err)
	}
	defer rows.Close()

	var out []ArchiveAcq
	for rows.Next() {
		acq, err := scanAcq(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan acquisition: %w", err)
		}
		out = append(out, *acq)
	}
	return out, rows.Err()
}

// CorrAcqInfo describes a correlator acquisition.
type CorrAcqInfo struct {
	AcqID       int64
	Integration *float64
	NFreq       *int64
	NProd       *int64
}

// HFBAcqInfo describes a hyper fine beam acquisition.
type HFBAcqInfo struct {
	AcqID       int64
	Integration *float64
	NFreq       *int64
	NSubFreq    *int64
	NBeam       *int64
}

// HKAcqInfo maps one ATMEL board id to its name within a housekeeping
// acquisition. An acquisition has one row per board.
type HKAcqInfo struct {
	AcqID     int64
	AtmelID   string
	AtmelName string
}

// RawadcAcqInfo describes a raw ADC acquisition.
type RawadcAcqInfo struct {
	AcqID     int64
	StartTime *float64
}

// InsertCorrAcqInfo records corr acquisition info. At most one per acquisition.
func (d *DB) InsertCorrAcqInfo(ctx context.Context, info *CorrAcqInfo) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO corracqinfo (acq_id, integration, nfreq, nprod) VALUES (?, ?, ?, ?)`,
		info.AcqID, nullFloat64(info.Integration), nullInt64(info.NFreq), nullInt64(info.NProd))
	if err != nil {
		return fmt.Errorf("failed to insert corr acq info: %w", err)
	}
	d.logWrite("insert_corracqinfo", res, logrus.Fields{"acq_id": info.AcqID})
	return nil
}

// InsertHFBAcqInfo records hfb acquisition info. At most one per acquisition.
func (d *DB) InsertHFBAcqInfo(ctx context.Context, info *HFBAcqInfo) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO hfbacqinfo (acq_id, integration, nfreq, nsubfreq, nbeam) VALUES (?, ?, ?, ?, ?)`,
		info.AcqID, nullFloat64(info.Integration), nullInt64(info.NFreq),
		nullInt64(info.NSubFreq), nullInt64(info.NBeam))
	if err != nil {
		return fmt.Errorf("failed to insert hfb acq info: %w", err)
	}
	d.logWrite("insert_hfbacqinfo", res, logrus.Fields{"acq_id": info.AcqID})
	return nil
}

// InsertHKAcqInfo records one ATMEL board of a housekeeping acquisition.
// Re-recording the same board is a no-op.
func (d *DB) InsertHKAcqInfo(ctx context.Context, info *HKAcqInfo) error {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO hkacqinfo (acq_id, atmel_id, atmel_name) VALUES (?, ?, ?)
		ON CONFLICT(acq_id, atmel_id) DO NOTHING`,
		info.AcqID, info.AtmelID, info.AtmelName)
	if err != nil {
		return fmt.Errorf("failed to insert hk acq info: %w", err)
	}
	d.logWrite("insert_hkacqinfo", res, logrus.Fields{"acq_id": info.AcqID, "atmel_id": info.AtmelID})
	return nil
}

// InsertRawadcAcqInfo records rawadc acquisition info. At most one per acquisition.
func (d *DB) InsertRawadcAcqInfo(ctx context.Context, info *RawadcAcqInfo) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO rawadcacqinfo (acq_id, start_time) VALUES (?, ?)`,
		info.AcqID, nullFloat64(info.StartTime))
	if err != nil {
		return fmt.Errorf("failed to insert rawadc acq info: %w", err)
	}
	d.logWrite("insert_rawadcacqinfo", res, logrus.Fields{"acq_id": info.AcqID})
	return nil
}

// ListHKAcqInfo returns the ATMEL boards recorded for an acquisition.
func (d *DB) ListHKAcqInfo(ctx context.Context, acqID int64) ([]HKAcqInfo, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT acq_id, atmel_id, atmel_name FROM hkacqinfo WHERE acq_id = ? ORDER BY atmel_name`, acqID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hk acq info: %w", err)
	}
	defer rows.Close()

	var out []HKAcqInfo
	for rows.Next() {
		var info HKAcqInfo
		if err := rows.Scan(&info.AcqID, &info.AtmelID, &info.AtmelName); err != nil {
			return nil, fmt.Errorf("failed to scan hk acq info: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// GetCorrAcqInfo returns the corr info of an acquisition, or ErrNotFound.
func (d *DB) GetCorrAcqInfo(ctx context.Context, acqID int64) (*CorrAcqInfo, error) {
	var integration sql.NullFloat64
	var nfreq, nprod sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT integration, nfreq, nprod FROM corracqinfo WHERE acq_id = ?`, acqID).
		Scan(&integration, &nfreq, &nprod)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("corr info for acquisition %d: %w", acqID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query corr acq info: %w", err)
	}
	return &CorrAcqInfo{
		AcqID:       acqID,
		Integration: ptrFloat64(integration),
		NFreq:       ptrInt64(nfreq),
		NProd:       ptrInt64(nprod),
	}, nil
}

// GetHFBAcqInfo returns the hfb info of an acquisition, or ErrNotFound.
func (d *DB) GetHFBAcqInfo(ctx context.Context, acqID int64) (*HFBAcqInfo, error) {
	var integration sql.NullFloat64
	var nfreq, nsubfreq, nbeam sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT integration, nfreq, nsubfreq, nbeam FROM hfbacqinfo WHERE acq_id = ?`, acqID).
		Scan(&integration, &nfreq, &nsubfreq, &nbeam)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hfb info for acquisition %d: %w", acqID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hfb acq info: %w", err)
	}
	return &HFBAcqInfo{
		AcqID:       acqID,
		Integration: ptrFloat64(integration),
		NFreq:       ptrInt64(nfreq),
		NSubFreq:    ptrInt64(nsubfreq),
		NBeam:       ptrInt64(nbeam),
	}, nil
}

// GetRawadcAcqInfo returns the rawadc info of an acquisition, or ErrNotFound.
func (d *DB) GetRawadcAcqInfo(ctx context.Context, acqID int64) (*RawadcAcqInfo, error) {
	var start sql.NullFloat64
	err := d.db.QueryRowContext(ctx,
		`SELECT start_time FROM rawadcacqinfo WHERE acq_id = ?`, acqID).Scan(&start)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rawadc info for acquisition %d: %w", acqID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rawadc acq info: %w", err)
	}
	return &RawadcAcqInfo{AcqID: acqID, StartTime: ptrFloat64(start)}, nil
}

// AcqTimeRange returns the earliest start and latest finish time (UNIX
// seconds) over the per-file info records of an acquisition's files. ok is
// false when no file carries timing information.
func (d *DB) AcqTimeRange(ctx context.Context, acqID int64) (start, finish float64, ok bool, err error) {
	var parts []string
	for _, kind := range infoKinds {
		parts = append(parts, `SELECT i.start_time, i.finish_time FROM `+infoTables[kind]+` i
			JOIN archivefile f ON f.id = i.file_id WHERE f.acq_id = ?`)
	}
	query := `SELECT MIN(start_time), MAX(finish_time) FROM (` + strings.Join(parts, " UNION ALL ") + `)`
	args := make([]any, len(parts))
	for i := range args {
		args[i] = acqID
	}

	var s, f sql.NullFloat64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&s, &f); err != nil {
		return 0, 0, false, fmt.Errorf("failed to query acquisition time range: %w", err)
	}
	if !s.Valid || !f.Valid {
		return 0, 0, false, nil
	}
	return s.Float64, f.Float64, true, nil
}
