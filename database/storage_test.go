package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testLayout() StorageLayout {
	return StorageLayout{
		Groups: []GroupSpec{
			{Name: "archive", SmallSize: 1 << 20, SmallGroup: "archive_small"},
			{Name: "archive_small"},
			{Name: "transport"},
		},
		Nodes: []NodeSpec{
			{Name: "cedar", Group: "archive", Root: "/project/chime", Host: "cedar5", Active: true, MinAvailGB: 100},
			{Name: "cedar_small", Group: "archive_small", Root: "/project/chime/small", Active: true},
			{Name: "drive01", Group: "transport", StorageType: StorageTransport},
		},
		Actions: []TransferActionSpec{
			{NodeFrom: "drive01", GroupTo: "archive", AutoSync: true, AutoClean: true},
		},
	}
}

func TestPopulateStorage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PopulateStorage(ctx, testLayout()); err != nil {
		t.Fatalf("PopulateStorage: %v", err)
	}

	archive, err := db.GetGroup(ctx, "archive")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	small, err := db.GetGroup(ctx, "archive_small")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if archive.SmallGroupID == nil || *archive.SmallGroupID != small.ID {
		t.Errorf("small_group_id = %v, want %d", archive.SmallGroupID, small.ID)
	}

	drive, err := db.GetNode(ctx, "drive01")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if drive.StorageType != StorageTransport || drive.Active {
		t.Errorf("drive01 = %+v", drive)
	}

	cedar, err := db.GetNode(ctx, "cedar")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if cedar.StorageType != StorageArchive || cedar.Host != "cedar5" || cedar.MinAvailGB != 100 {
		t.Errorf("cedar = %+v", cedar)
	}

	actions, err := db.ListTransferActions(ctx, drive.ID)
	if err != nil {
		t.Fatalf("ListTransferActions: %v", err)
	}
	if len(actions) != 1 || actions[0].GroupToID != archive.ID || !actions[0].AutoSync || !actions[0].AutoClean {
		t.Errorf("actions = %+v", actions)
	}
}

func TestPopulateStorage_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PopulateStorage(ctx, testLayout()); err != nil {
		t.Fatalf("PopulateStorage: %v", err)
	}

	// Local edits survive a second seed.
	cedar, err := db.GetNode(ctx, "cedar")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if err := db.SetNodeActive(ctx, cedar.ID, false); err != nil {
		t.Fatalf("SetNodeActive: %v", err)
	}

	if err := db.PopulateStorage(ctx, testLayout()); err != nil {
		t.Fatalf("second PopulateStorage: %v", err)
	}

	nodes, err := db.ListNodes(ctx, false)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 3 {
		t.Errorf("got %d nodes, want 3", len(nodes))
	}
	active, err := db.ListNodes(ctx, true)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(active) != 1 || active[0].Name != "cedar_small" {
		t.Errorf("active nodes = %+v, want only cedar_small", active)
	}
}

func TestPopulateStorage_UnknownGroupRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	layout := StorageLayout{
		Groups: []GroupSpec{{Name: "archive"}},
		Nodes:  []NodeSpec{{Name: "orphan", Group: "missing"}},
	}
	err := db.PopulateStorage(ctx, layout)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := db.GetGroup(ctx, "archive"); !errors.Is(err, ErrNotFound) {
		t.Errorf("group survived a failed seed: %v", err)
	}
}

func TestInsertNode_InvalidStorageType(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	g := &StorageGroup{Name: "g"}
	if _, err := db.InsertGroup(ctx, g); err != nil {
		t.Fatalf("InsertGroup: %v", err)
	}
	if _, err := db.InsertNode(ctx, &StorageNode{Name: "n", GroupID: g.ID, StorageType: "Z"}); err == nil {
		t.Fatal("expected error for storage type Z")
	}
}

func TestUpdateNodeAvail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	n := seedNode(t, db, "cedar")

	checked := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := db.UpdateNodeAvail(ctx, n.ID, 512.5, checked); err != nil {
		t.Fatalf("UpdateNodeAvail: %v", err)
	}
	got, err := db.GetNodeByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNodeByID: %v", err)
	}
	if got.AvailGB == nil || *got.AvailGB != 512.5 {
		t.Errorf("avail_gb = %v, want 512.5", got.AvailGB)
	}
	if got.AvailGBLastChecked == nil || !got.AvailGBLastChecked.Equal(checked) {
		t.Errorf("avail_gb_last_checked = %v, want %v", got.AvailGBLastChecked, checked)
	}
}

func TestListGroups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PopulateStorage(ctx, testLayout()); err != nil {
		t.Fatalf("PopulateStorage: %v", err)
	}
	groups, err := db.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 3 || groups[0].Name != "archive" || groups[2].Name != "transport" {
		t.Errorf("groups = %+v", groups)
	}
}
