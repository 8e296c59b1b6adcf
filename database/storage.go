package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// StorageLayout is a declarative description of storage groups, nodes and
// transfer actions, referring to each other by name.
type StorageLayout struct {
	Groups  []GroupSpec
	Nodes   []NodeSpec
	Actions []TransferActionSpec
}

// GroupSpec describes a storage group. SmallGroup optionally names the group
// that receives files smaller than SmallSize bytes.
type GroupSpec struct {
	Name       string
	SmallSize  int64
	SmallGroup string
	Notes      string
}

// NodeSpec describes a storage node belonging to the group named Group.
type NodeSpec struct {
	Name             string
	Group            string
	Root             string
	Host             string
	Username         string
	Address          string
	Active           bool
	AutoImport       bool
	Suspect          bool
	StorageType      string
	MaxTotalGB       float64
	MinAvailGB       float64
	MinDeleteAgeDays float64
	Notes            string
}

// TransferActionSpec describes what happens when a file lands on NodeFrom
// with respect to the group GroupTo.
type TransferActionSpec struct {
	NodeFrom  string
	GroupTo   string
	AutoSync  bool
	AutoClean bool
}

// PopulateStorage seeds groups, nodes and transfer actions from layout. Rows
// that already exist (by name, or by node/group pair for actions) are left
// untouched, so repeated calls are no-ops. Everything happens in one
// transaction; a node naming an unknown group aborts the whole seed.
func (d *DB) PopulateStorage(ctx context.Context, layout StorageLayout) error {
	var groupsAdded, nodesAdded, actionsAdded int64

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		created := map[string]bool{}
		for _, g := range layout.Groups {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO storagegroup (name, small_size, notes) VALUES (?, ?, ?)
				ON CONFLICT(name) DO NOTHING`,
				g.Name, g.SmallSize, nullString(g.Notes))
			if err != nil {
				return fmt.Errorf("failed to insert group %q: %w", g.Name, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				created[g.Name] = true
				groupsAdded++
			}
		}

		// Small-group links can point forward in the list, so they are set
		// once every group exists. Only groups created here are touched.
		for _, g := range layout.Groups {
			if g.SmallGroup == "" || !created[g.Name] {
				continue
			}
			smallID, err := groupID(ctx, tx, g.SmallGroup)
			if err != nil {
				return fmt.Errorf("group %q: small group: %w", g.Name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE storagegroup SET small_group_id = ? WHERE name = ?`, smallID, g.Name); err != nil {
				return fmt.Errorf("failed to link small group of %q: %w", g.Name, err)
			}
		}

		for _, n := range layout.Nodes {
			gid, err := groupID(ctx, tx, n.Group)
			if err != nil {
				return fmt.Errorf("node %q: %w", n.Name, err)
			}
			storageType := n.StorageType
			if storageType == "" {
				storageType = StorageArchive
			}
			if !ValidStorageType(storageType) {
				return fmt.Errorf("node %q: invalid storage type %q", n.Name, storageType)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO storagenode (name, root, host, username, address, group_id,
					active, auto_import, suspect, storage_type,
					max_total_gb, min_avail_gb, min_delete_age_days, notes)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(name) DO NOTHING`,
				n.Name, nullString(n.Root), nullString(n.Host), nullString(n.Username),
				nullString(n.Address), gid, n.Active, n.AutoImport, n.Suspect, storageType,
				n.MaxTotalGB, n.MinAvailGB, n.MinDeleteAgeDays, nullString(n.Notes))
			if err != nil {
				return fmt.Errorf("failed to insert node %q: %w", n.Name, err)
			}
			added, _ := res.RowsAffected()
			nodesAdded += added
		}

		for _, a := range layout.Actions {
			nid, err := nodeID(ctx, tx, a.NodeFrom)
			if err != nil {
				return fmt.Errorf("transfer action %s->%s: %w", a.NodeFrom, a.GroupTo, err)
			}
			gid, err := groupID(ctx, tx, a.GroupTo)
			if err != nil {
				return fmt.Errorf("transfer action %s->%s: %w", a.NodeFrom, a.GroupTo, err)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO storagetransferaction (node_from_id, group_to_id, autosync, autoclean)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(node_from_id, group_to_id) DO NOTHING`,
				nid, gid, a.AutoSync, a.AutoClean)
			if err != nil {
				return fmt.Errorf("failed to insert transfer action %s->%s: %w", a.NodeFrom, a.GroupTo, err)
			}
			added, _ := res.RowsAffected()
			actionsAdded += added
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"groups_added":  groupsAdded,
		"nodes_added":   nodesAdded,
		"actions_added": actionsAdded,
		"db_file":       d.path,
	}).Info("populated storage layout")
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func groupID(ctx context.Context, q queryRower, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM storagegroup WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("storage group %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query storage group: %w", err)
	}
	return id, nil
}

func nodeID(ctx context.Context, q queryRower, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM storagenode WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("storage node %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query storage node: %w", err)
	}
	return id, nil
}

// InsertGroup inserts a storage group and returns its id.
func (d *DB) InsertGroup(ctx context.Context, g *StorageGroup) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO storagegroup (name, small_size, small_group_id, notes) VALUES (?, ?, ?, ?)`,
		g.Name, g.SmallSize, nullInt64(g.SmallGroupID), nullString(g.Notes))
	if err != nil {
		return 0, fmt.Errorf("failed to insert group %q: %w", g.Name, err)
	}
	d.logWrite("insert_group", res, logrus.Fields{"group": g.Name})

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read group id: %w", err)
	}
	g.ID = id
	return id, nil
}

// GetGroup returns the storage group called name, or ErrNotFound.
func (d *DB) GetGroup(ctx context.Context, name string) (*StorageGroup, error) {
	var g StorageGroup
	var small sql.NullInt64
	var notes sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, small_size, small_group_id, notes FROM storagegroup WHERE name = ?`, name,
	).Scan(&g.ID, &g.Name, &g.SmallSize, &small, &notes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("storage group %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query storage group: %w", err)
	}
	g.SmallGroupID = ptrInt64(small)
	g.Notes = notes.String
	return &g, nil
}

// ListGroups returns every storage group ordered by name.
func (d *DB) ListGroups(ctx context.Context) ([]StorageGroup, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, small_size, small_group_id, notes FROM storagegroup ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage groups: %w", err)
	}
	defer rows.Close()

	var out []StorageGroup
	for rows.Next() {
		var g StorageGroup
		var small sql.NullInt64
		var notes sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &g.SmallSize, &small, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan storage group: %w", err)
		}
		g.SmallGroupID = ptrInt64(small)
		g.Notes = notes.String
		out = append(out, g)
	}
	return out, rows.Err()
}

// InsertNode inserts a storage node and returns its id. An empty
// StorageType defaults to archive.
func (d *DB) InsertNode(ctx context.Context, n *StorageNode) (int64, error) {
	if n.StorageType == "" {
		n.StorageType = StorageArchive
	}
	if !ValidStorageType(n.StorageType) {
		return 0, fmt.Errorf("node %q: invalid storage type %q", n.Name, n.StorageType)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO storagenode (name, root, host, username, address, group_id,
			active, auto_import, suspect, storage_type,
			max_total_gb, min_avail_gb, avail_gb, avail_gb_last_checked,
			min_delete_age_days, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Name, nullString(n.Root), nullString(n.Host), nullString(n.Username),
		nullString(n.Address), n.GroupID, n.Active, n.AutoImport, n.Suspect, n.StorageType,
		n.MaxTotalGB, n.MinAvailGB, nullFloat64(n.AvailGB), nullTime(n.AvailGBLastChecked),
		n.MinDeleteAgeDays, nullString(n.Notes))
	if err != nil {
		return 0, fmt.Errorf("failed to insert node %q: %w", n.Name, err)
	}
	d.logWrite("insert_node", res, logrus.Fields{"node": n.Name, "group_id": n.GroupID})

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read node id: %w", err)
	}
	n.ID = id
	return id, nil
}

const nodeColumns = `id, name, root, host, username, address, group_id,
	active, auto_import, suspect, storage_type,
	max_total_gb, min_avail_gb, avail_gb, avail_gb_last_checked,
	min_delete_age_days, notes`

func scanNode(row interface{ Scan(...any) error }) (*StorageNode, error) {
	var n StorageNode
	var root, host, username, address, notes sql.NullString
	var avail sql.NullFloat64
	var checked sql.NullTime
	err := row.Scan(&n.ID, &n.Name, &root, &host, &username, &address, &n.GroupID,
		&n.Active, &n.AutoImport, &n.Suspect, &n.StorageType,
		&n.MaxTotalGB, &n.MinAvailGB, &avail, &checked,
		&n.MinDeleteAgeDays, &notes)
	if err != nil {
		return nil, err
	}
	n.Root = root.String
	n.Host = host.String
	n.Username = username.String
	n.Address = address.String
	n.Notes = notes.String
	n.AvailGB = ptrFloat64(avail)
	n.AvailGBLastChecked = ptrTime(checked)
	return &n, nil
}

// GetNode returns the storage node called name, or ErrNotFound.
func (d *DB) GetNode(ctx context.Context, name string) (*StorageNode, error) {
	n, err := scanNode(d.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM storagenode WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("storage node %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query storage node: %w", err)
	}
	return n, nil
}

// GetNodeByID returns the storage node with the given id, or ErrNotFound.
func (d *DB) GetNodeByID(ctx context.Context, id int64) (*StorageNode, error) {
	n, err := scanNode(d.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM storagenode WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("storage node id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query storage node: %w", err)
	}
	return n, nil
}

// ListNodes returns storage nodes ordered by name. With activeOnly set,
// inactive nodes are omitted.
func (d *DB) ListNodes(ctx context.Context, activeOnly bool) ([]StorageNode, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM storagenode WHERE (? = 0 OR active = 1) ORDER BY name`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage nodes: %w", err)
	}
	defer rows.Close()

	var out []StorageNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan storage node: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// SetNodeActive marks a node active or inactive.
func (d *DB) SetNodeActive(ctx context.Context, nodeID int64, active bool) error {
	res, err := d.db.ExecContext(ctx, `UPDATE storagenode SET active = ? WHERE id = ?`, active, nodeID)
	if err != nil {
		return fmt.Errorf("failed to update node %d: %w", nodeID, err)
	}
	d.logWrite("set_node_active", res, logrus.Fields{"node_id": nodeID, "active": active})
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage node id %d: %w", nodeID, ErrNotFound)
	}
	return nil
}

// UpdateNodeAvail records the free space last measured on a node.
func (d *DB) UpdateNodeAvail(ctx context.Context, nodeID int64, availGB float64, checked time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE storagenode SET avail_gb = ?, avail_gb_last_checked = ? WHERE id = ?`,
		availGB, checked.UTC(), nodeID)
	if err != nil {
		return fmt.Errorf("failed to update node %d: %w", nodeID, err)
	}
	d.logWrite("update_node_avail", res, logrus.Fields{"node_id": nodeID, "avail_gb": availGB})
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage node id %d: %w", nodeID, ErrNotFound)
	}
	return nil
}

// ListTransferActions returns the transfer actions whose source is nodeFromID.
func (d *DB) ListTransferActions(ctx context.Context, nodeFromID int64) ([]StorageTransferAction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, node_from_id, group_to_id, autosync, autoclean
		FROM storagetransferaction WHERE node_from_id = ? ORDER BY group_to_id`, nodeFromID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer actions: %w", err)
	}
	defer rows.Close()

	var out []StorageTransferAction
	for rows.Next() {
		var a StorageTransferAction
		if err := rows.Scan(&a.ID, &a.NodeFromID, &a.GroupToID, &a.AutoSync, &a.AutoClean); err != nil {
			return nil, fmt.Errorf("failed to scan transfer action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
