package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// InsertCopy records a copy of a file on a node. There is at most one copy
// per (file, node): a second insert for the same pair fails with a unique
// violation. Zero HasFile/WantsFile default to FileRemoved/WantKeep.
func (d *DB) InsertCopy(ctx context.Context, c *ArchiveFileCopy) (int64, error) {
	if c.HasFile == "" {
		c.HasFile = FileRemoved
	}
	if c.WantsFile == "" {
		c.WantsFile = WantKeep
	}
	if !c.HasFile.Valid() {
		return 0, fmt.Errorf("invalid has_file state %q", string(c.HasFile))
	}
	if !c.WantsFile.Valid() {
		return 0, fmt.Errorf("invalid wants_file state %q", string(c.WantsFile))
	}
	ts := now()
	if c.Registered.IsZero() {
		c.Registered = ts
	}
	c.LastUpdate = ts

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO archivefilecopy (file_id, node_id, has_file, wants_file, ready, size_b, registered, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.FileID, c.NodeID, string(c.HasFile), string(c.WantsFile), c.Ready,
		nullInt64(c.SizeBytes), c.Registered, c.LastUpdate)
	if err != nil {
		return 0, fmt.Errorf("failed to insert copy of file %d on node %d: %w", c.FileID, c.NodeID, err)
	}
	d.logWrite("insert_copy", res, logrus.Fields{
		"file_id":    c.FileID,
		"node_id":    c.NodeID,
		"has_file":   string(c.HasFile),
		"wants_file": string(c.WantsFile),
	})

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read copy id: %w", err)
	}
	c.ID = id
	return id, nil
}

const copyColumns = `id, file_id, node_id, has_file, wants_file, ready, size_b, registered, last_update`

func scanCopy(row interface{ Scan(...any) error }) (*ArchiveFileCopy, error) {
	var c ArchiveFileCopy
	var has, wants string
	var size sql.NullInt64
	if err := row.Scan(&c.ID, &c.FileID, &c.NodeID, &has, &wants, &c.Ready, &size, &c.Registered, &c.LastUpdate); err != nil {
		return nil, err
	}
	c.HasFile = FileState(has)
	c.WantsFile = WantState(wants)
	c.SizeBytes = ptrInt64(size)
	return &c, nil
}

// GetCopy returns the copy of fileID on nodeID, or ErrNotFound.
func (d *DB) GetCopy(ctx context.Context, fileID, nodeID int64) (*ArchiveFileCopy, error) {
	c, err := scanCopy(d.db.QueryRowContext(ctx,
		`SELECT `+copyColumns+` FROM archivefilecopy WHERE file_id = ? AND node_id = ?`, fileID, nodeID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("copy of file %d on node %d: %w", fileID, nodeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query copy: %w", err)
	}
	return c, nil
}

// SetCopyState updates the has/wants state of one copy and bumps its
// last_update time. Any legal state may follow any other. Copies of the same
// file on other nodes are not touched.
func (d *DB) SetCopyState(ctx context.Context, fileID, nodeID int64, has FileState, wants WantState) error {
	if !has.Valid() {
		return fmt.Errorf("invalid has_file state %q", string(has))
	}
	if !wants.Valid() {
		return fmt.Errorf("invalid wants_file state %q", string(wants))
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE archivefilecopy SET has_file = ?, wants_file = ?, last_update = ?
		WHERE file_id = ? AND node_id = ?`,
		string(has), string(wants), now(), fileID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to update copy of file %d on node %d: %w", fileID, nodeID, err)
	}
	d.logWrite("set_copy_state", res, logrus.Fields{
		"file_id":    fileID,
		"node_id":    nodeID,
		"has_file":   string(has),
		"wants_file": string(wants),
	})

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("copy of file %d on node %d: %w", fileID, nodeID, ErrNotFound)
	}
	return nil
}

// SetCopyReady marks whether a copy is ready to be read by consumers.
func (d *DB) SetCopyReady(ctx context.Context, fileID, nodeID int64, ready bool) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE archivefilecopy SET ready = ?, last_update = ? WHERE file_id = ? AND node_id = ?`,
		ready, now(), fileID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to update copy of file %d on node %d: %w", fileID, nodeID, err)
	}
	d.logWrite("set_copy_ready", res, logrus.Fields{"file_id": fileID, "node_id": nodeID, "ready": ready})

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("copy of file %d on node %d: %w", fileID, nodeID, ErrNotFound)
	}
	return nil
}

// ListCopiesForFile returns every copy of a file, ordered by node.
func (d *DB) ListCopiesForFile(ctx context.Context, fileID int64) ([]ArchiveFileCopy, error) {
	return d.listCopies(ctx,
		`SELECT `+copyColumns+` FROM archivefilecopy WHERE file_id = ? ORDER BY node_id`, fileID)
}

// ListCopiesOnNode returns the copies held on a node, optionally restricted
// to one has_file state (empty matches all).
func (d *DB) ListCopiesOnNode(ctx context.Context, nodeID int64, has FileState) ([]ArchiveFileCopy, error) {
	return d.listCopies(ctx, `
		SELECT `+copyColumns+` FROM archivefilecopy
		WHERE node_id = ? AND (? = '' OR has_file = ?)
		ORDER BY file_id`, nodeID, string(has), string(has))
}

func (d *DB) listCopies(ctx context.Context, query string, args ...any) ([]ArchiveFileCopy, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list copies: %w", err)
	}
	defer rows.Close()

	var out []ArchiveFileCopy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan copy: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// InsertCopyRequest records a request to copy r.FileID to r.NodeToID. A
// nil NodeFromID lets the transfer agent pick any source.
func (d *DB) InsertCopyRequest(ctx context.Context, r *ArchiveFileCopyRequest) (int64, error) {
	if r.NRequests == 0 {
		r.NRequests = 1
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now()
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO archivefilecopyrequest (file_id, node_to_id, node_from_id, nice,
			completed, cancelled, n_requests, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.FileID, r.NodeToID, nullInt64(r.NodeFromID), r.Nice,
		r.Completed, r.Cancelled, r.NRequests, r.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert copy request for file %d: %w", r.FileID, err)
	}
	d.logWrite("insert_copy_request", res, logrus.Fields{"file_id": r.FileID, "node_to_id": r.NodeToID})

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read copy request id: %w", err)
	}
	r.ID = id
	return id, nil
}

const requestColumns = `id, file_id, node_to_id, node_from_id, nice, completed, cancelled,
	n_requests, timestamp, transfer_started, transfer_completed, cancelled_at`

func scanRequest(row interface{ Scan(...any) error }) (*ArchiveFileCopyRequest, error) {
	var r ArchiveFileCopyRequest
	var from sql.NullInt64
	var started, completed, cancelled sql.NullTime
	err := row.Scan(&r.ID, &r.FileID, &r.NodeToID, &from, &r.Nice, &r.Completed, &r.Cancelled,
		&r.NRequests, &r.Timestamp, &started, &completed, &cancelled)
	if err != nil {
		return nil, err
	}
	r.NodeFromID = ptrInt64(from)
	r.TransferStarted = ptrTime(started)
	r.TransferCompleted = ptrTime(completed)
	r.CancelledAt = ptrTime(cancelled)
	return &r, nil
}

// GetCopyRequest returns the copy request with the given id, or ErrNotFound.
func (d *DB) GetCopyRequest(ctx context.Context, id int64) (*ArchiveFileCopyRequest, error) {
	r, err := scanRequest(d.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM archivefilecopyrequest WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("copy request %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query copy request: %w", err)
	}
	return r, nil
}

// ListPendingCopyRequests returns requests that are neither completed nor
// cancelled, optionally for one destination node (0 matches all), lowest
// nice value first.
func (d *DB) ListPendingCopyRequests(ctx context.Context, nodeToID int64) ([]ArchiveFileCopyRequest, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM archivefilecopyrequest
		WHERE completed = 0 AND cancelled = 0 AND (? = 0 OR node_to_id = ?)
		ORDER BY nice, timestamp, id`, nodeToID, nodeToID)
	if err != nil {
		return nil, fmt.Errorf("failed to list copy requests: %w", err)
	}
	defer rows.Close()

	var out []ArchiveFileCopyRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan copy request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// StartCopyRequest records when the transfer for a request began.
func (d *DB) StartCopyRequest(ctx context.Context, id int64) error {
	return d.updateRequest(ctx, "start_copy_request", id,
		`UPDATE archivefilecopyrequest SET transfer_started = ? WHERE id = ?`, now(), id)
}

// CompleteCopyRequest marks a request completed. Completing a cancelled
// request is recorded but State still reports cancelled.
func (d *DB) CompleteCopyRequest(ctx context.Context, id int64) error {
	return d.updateRequest(ctx, "complete_copy_request", id,
		`UPDATE archivefilecopyrequest SET completed = 1, transfer_completed = ? WHERE id = ?`, now(), id)
}

// CancelCopyRequest marks a request cancelled.
func (d *DB) CancelCopyRequest(ctx context.Context, id int64) error {
	return d.updateRequest(ctx, "cancel_copy_request", id,
		`UPDATE archivefilecopyrequest SET cancelled = 1, cancelled_at = ? WHERE id = ?`, now(), id)
}

func (d *DB) updateRequest(ctx context.Context, op string, id int64, query string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update copy request %d: %w", id, err)
	}
	d.logWrite(op, res, logrus.Fields{"request_id": id})

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("copy request %d: %w", id, ErrNotFound)
	}
	return nil
}
