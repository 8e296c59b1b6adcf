package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/chime-experiment/dataindex"
	"github.com/sirupsen/logrus"
)

// PopulateTypes seeds the built-in acquisition types, file types and their
// associations. Existing rows are left untouched, so the call is idempotent
// and safe to race against other processes doing the same: every insert is
// INSERT ... ON CONFLICT DO NOTHING and the whole seed is one transaction.
func (d *DB) PopulateTypes(ctx context.Context) error {
	var acqAdded, fileAdded, pairsAdded int64

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range dataindex.BuiltinAcqTypes {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO acqtype (name, notes) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
				t.Name, nullString(t.Notes))
			if err != nil {
				return fmt.Errorf("failed to insert acqtype %q: %w", t.Name, err)
			}
			n, _ := res.RowsAffected()
			acqAdded += n
		}

		for _, t := range dataindex.BuiltinFileTypes {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO filetype (name, notes) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
				t.Name, nullString(t.Notes))
			if err != nil {
				return fmt.Errorf("failed to insert filetype %q: %w", t.Name, err)
			}
			n, _ := res.RowsAffected()
			fileAdded += n
		}

		acqNames := make([]string, 0, len(dataindex.BuiltinAcqFileTypes))
		for name := range dataindex.BuiltinAcqFileTypes {
			acqNames = append(acqNames, name)
		}
		sort.Strings(acqNames)

		for _, acqName := range acqNames {
			for _, fileName := range dataindex.BuiltinAcqFileTypes[acqName] {
				res, err := tx.ExecContext(ctx, `
					INSERT INTO acqfiletypes (acq_type_id, file_type_id)
					SELECT a.id, f.id FROM acqtype a, filetype f
					WHERE a.name = ? AND f.name = ?
					ON CONFLICT DO NOTHING`,
					acqName, fileName)
				if err != nil {
					return fmt.Errorf("failed to associate %s with %s: %w", acqName, fileName, err)
				}
				n, _ := res.RowsAffected()
				pairsAdded += n
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"acq_types_added":  acqAdded,
		"file_types_added": fileAdded,
		"pairs_added":      pairsAdded,
		"db_file":          d.path,
	}).Info("populated type registries")
	return nil
}

// InsertAcqType adds an acquisition type beyond the built-in ones and
// returns its id. A duplicate name fails with a unique violation.
func (d *DB) InsertAcqType(ctx context.Context, t *AcqType) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO acqtype (name, notes) VALUES (?, ?)`, t.Name, nullString(t.Notes))
	if err != nil {
		return 0, fmt.Errorf("failed to insert acqtype %q: %w", t.Name, err)
	}
	d.logWrite("insert_acqtype", res, logrus.Fields{"acq_type": t.Name})

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read acqtype id: %w", err)
	}
	t.ID = id
	return id, nil
}

// AddAcqFileType allows files of fileType in acquisitions of acqType. Both
// types must exist; an existing association is left alone.
func (d *DB) AddAcqFileType(ctx context.Context, acqType, fileType string) error {
	at, err := d.GetAcqType(ctx, acqType)
	if err != nil {
		return err
	}
	ft, err := d.GetFileType(ctx, fileType)
	if err != nil {
		return err
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO acqfiletypes (acq_type_id, file_type_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		at.ID, ft.ID)
	if err != nil {
		return fmt.Errorf("failed to associate %s with %s: %w", acqType, fileType, err)
	}
	d.logWrite("insert_acqfiletypes", res, logrus.Fields{"acq_type": acqType, "file_type": fileType})
	return nil
}

// GetAcqType returns the acquisition type called name, or ErrNotFound.
func (d *DB) GetAcqType(ctx context.Context, name string) (*AcqType, error) {
	var t AcqType
	var notes sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, notes FROM acqtype WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &notes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("acqtype %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query acqtype: %w", err)
	}
	t.Notes = notes.String
	return &t, nil
}

// GetFileType returns the file type called name, or ErrNotFound.
func (d *DB) GetFileType(ctx context.Context, name string) (*FileType, error) {
	var t FileType
	var notes sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, notes FROM filetype WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &notes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("filetype %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query filetype: %w", err)
	}
	t.Notes = notes.String
	return &t, nil
}

// GetFileTypeByID returns the file type with the given id, or ErrNotFound.
func (d *DB) GetFileTypeByID(ctx context.Context, id int64) (*FileType, error) {
	var t FileType
	var notes sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, notes FROM filetype WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &notes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("filetype id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query filetype: %w", err)
	}
	t.Notes = notes.String
	return &t, nil
}

// GetAcqTypeByID returns the acquisition type with the given id, or ErrNotFound.
func (d *DB) GetAcqTypeByID(ctx context.Context, id int64) (*AcqType, error) {
	var t AcqType
	var notes sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, notes FROM acqtype WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &notes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("acqtype id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query acqtype: %w", err)
	}
	t.Notes = notes.String
	return &t, nil
}

// ListAcqTypes returns all acquisition types ordered by id.
func (d *DB) ListAcqTypes(ctx context.Context) ([]AcqType, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, notes FROM acqtype ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list acqtypes: %w", err)
	}
	defer rows.Close()

	var out []AcqType
	for rows.Next() {
		var t AcqType
		var notes sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan acqtype: %w", err)
		}
		t.Notes = notes.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListFileTypes returns all file types ordered by id.
func (d *DB) ListFileTypes(ctx context.Context) ([]FileType, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, notes FROM filetype ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list filetypes: %w", err)
	}
	defer rows.Close()
	return scanFileTypes(rows)
}

// ListFileTypesForAcqType returns the file types associated with the named
// acquisition type through acqfiletypes.
func (d *DB) ListFileTypesForAcqType(ctx context.Context, acqType string) ([]FileType, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.notes
		FROM filetype f
		JOIN acqfiletypes af ON af.file_type_id = f.id
		JOIN acqtype a ON a.id = af.acq_type_id
		WHERE a.name = ?
		ORDER BY f.id`, acqType)
	if err != nil {
		return nil, fmt.Errorf("failed to list filetypes for %s: %w", acqType, err)
	}
	defer rows.Close()
	return scanFileTypes(rows)
}

func scanFileTypes(rows *sql.Rows) ([]FileType, error) {
	var out []FileType
	for rows.Next() {
		var t FileType
		var notes sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan filetype: %w", err)
		}
		t.Notes = notes.String
		out = append(out, t)
	}
	return out, rows.Err()
}
