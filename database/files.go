package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// InsertFile inserts an archive file and returns its id. A second file with
// the same name in the same acquisition fails with a unique violation.
func (d *DB) InsertFile(ctx context.Context, f *ArchiveFile) (int64, error) {
	return d.insertFile(ctx, d.db, f)
}

func (d *DB) insertFile(ctx context.Context, ex execer, f *ArchiveFile) (int64, error) {
	if f.Registered.IsZero() {
		f.Registered = now()
	}

	res, err := ex.ExecContext(ctx, `
		INSERT INTO archivefile (acq_id, type_id, name, size_b, md5sum, registered)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.AcqID, f.TypeID, f.Name, nullInt64(f.SizeBytes), nullString(f.MD5Sum), f.Registered)
	if err != nil {
		return 0, fmt.Errorf("failed to insert file %q: %w", f.Name, err)
	}
	d.logWrite("insert_file", res, logrus.Fields{"acq_id": f.AcqID, "file": f.Name})

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read file id: %w", err)
	}
	f.ID = id
	return id, nil
}

// InsertFileWithInfo inserts f and, when info is non-nil, its info record in
// one transaction. Either both rows exist afterwards or neither does.
func (d *DB) InsertFileWithInfo(ctx context.Context, f *ArchiveFile, info FileInfo) (int64, error) {
	var id int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = d.insertFile(ctx, tx, f)
		if err != nil {
			return err
		}
		if info == nil {
			return nil
		}
		info.Base().FileID = id
		return d.insertFileInfo(ctx, tx, info)
	})
	if err != nil {
		f.ID = 0
		return 0, err
	}
	return id, nil
}

const fileColumns = `id, acq_id, type_id, name, size_b, md5sum, registered`

func scanFile(row interface{ Scan(...any) error }) (*ArchiveFile, error) {
	var f ArchiveFile
	var size sql.NullInt64
	var md5sum sql.NullString
	if err := row.Scan(&f.ID, &f.AcqID, &f.TypeID, &f.Name, &size, &md5sum, &f.Registered); err != nil {
		return nil, err
	}
	f.SizeBytes = ptrInt64(size)
	f.MD5Sum = md5sum.String
	return &f, nil
}

// GetFile returns the file called name in acquisition acqID, or ErrNotFound.
func (d *DB) GetFile(ctx context.Context, acqID int64, name string) (*ArchiveFile, error) {
	f, err := scanFile(d.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM archivefile WHERE acq_id = ? AND name = ?`, acqID, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %q in acquisition %d: %w", name, acqID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file: %w", err)
	}
	return f, nil
}

// GetFileByID returns the file with the given id, or ErrNotFound.
func (d *DB) GetFileByID(ctx context.Context, id int64) (*ArchiveFile, error) {
	f, err := scanFile(d.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM archivefile WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file: %w", err)
	}
	return f, nil
}

// GetFileByPath returns the file at "<acqName>/<fileName>", or ErrNotFound.
func (d *DB) GetFileByPath(ctx context.Context, acqName, fileName string) (*ArchiveFile, error) {
	f, err := scanFile(d.db.QueryRowContext(ctx, `
		SELECT f.id, f.acq_id, f.type_id, f.name, f.size_b, f.md5sum, f.registered
		FROM archivefile f
		JOIN archiveacq a ON a.id = f.acq_id
		WHERE a.name = ? AND f.name = ?`, acqName, fileName))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %s/%s: %w", acqName, fileName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file: %w", err)
	}
	return f, nil
}

// FileFilter narrows ListFiles. Zero fields match everything.
type FileFilter struct {
	AcqID    int64
	FileType string
	Limit    int
}

// ListFiles returns files ordered by acquisition and name.
func (d *DB) ListFiles(ctx context.Context, f FileFilter) ([]ArchiveFile, error) {
	query := `
		SELECT f.id, f.acq_id, f.type_id, f.name, f.size_b, f.md5sum, f.registered
		FROM archivefile f
		JOIN filetype t ON t.id = f.type_id
		WHERE (? = 0 OR f.acq_id = ?) AND (? = '' OR t.name = ?)
		ORDER BY f.acq_id, f.name`
	args := []any{f.AcqID, f.AcqID, f.FileType, f.FileType}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var out []ArchiveFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, *file)
	}
	return out, rows.Err()
}

// CountFiles returns the number of files registered in an acquisition.
func (d *DB) CountFiles(ctx context.Context, acqID int64) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archivefile WHERE acq_id = ?`, acqID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// UpdateFileChecksum records the size and MD5 digest of a file once a copy
// has been examined. Returns ErrNotFound if the file does not exist.
func (d *DB) UpdateFileChecksum(ctx context.Context, fileID, sizeBytes int64, md5sum string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE archivefile SET size_b = ?, md5sum = ? WHERE id = ?`, sizeBytes, md5sum, fileID)
	if err != nil {
		return fmt.Errorf("failed to update checksum of file %d: %w", fileID, err)
	}
	d.logWrite("update_file_checksum", res, logrus.Fields{"file_id": fileID, "md5sum": md5sum})

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file id %d: %w", fileID, ErrNotFound)
	}
	return nil
}
