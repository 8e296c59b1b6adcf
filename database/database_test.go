package database

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chime-experiment/dataindex"
	"github.com/sirupsen/logrus"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "dataindex.db")
	cfg.Logger = logger

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedFile creates an instrument, acquisition and file and returns the file.
func seedFile(t *testing.T, db *DB, acqName, fileName, fileType string) *ArchiveFile {
	t.Helper()
	ctx := context.Background()

	if err := db.PopulateTypes(ctx); err != nil {
		t.Fatalf("PopulateTypes: %v", err)
	}
	acq, err := db.GetAcqByName(ctx, acqName)
	if errors.Is(err, ErrNotFound) {
		instID, err := db.EnsureInst(ctx, "stone")
		if err != nil {
			t.Fatalf("EnsureInst: %v", err)
		}
		at, err := db.GetAcqType(ctx, "corr")
		if err != nil {
			t.Fatalf("GetAcqType: %v", err)
		}
		acq = &ArchiveAcq{Name: acqName, InstID: instID, TypeID: at.ID}
		if _, err := db.InsertAcq(ctx, acq); err != nil {
			t.Fatalf("InsertAcq: %v", err)
		}
	} else if err != nil {
		t.Fatalf("GetAcqByName: %v", err)
	}

	ft, err := db.GetFileType(ctx, fileType)
	if err != nil {
		t.Fatalf("GetFileType: %v", err)
	}
	f := &ArchiveFile{AcqID: acq.ID, TypeID: ft.ID, Name: fileName}
	if _, err := db.InsertFile(ctx, f); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	return f
}

func seedNode(t *testing.T, db *DB, name string) *StorageNode {
	t.Helper()
	ctx := context.Background()

	g, err := db.GetGroup(ctx, "group-"+name)
	if errors.Is(err, ErrNotFound) {
		g = &StorageGroup{Name: "group-" + name}
		if _, err := db.InsertGroup(ctx, g); err != nil {
			t.Fatalf("InsertGroup: %v", err)
		}
	} else if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}

	n := &StorageNode{Name: name, GroupID: g.ID, Root: "/mnt/" + name, Active: true}
	if _, err := db.InsertNode(ctx, n); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	return n
}

func TestNew_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if want := migrations[len(migrations)-1].version; v != want {
		t.Fatalf("schema version = %d, want %d", v, want)
	}
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	var buf strings.Builder
	logger := logrus.New()
	logger.SetOutput(&buf)

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "dataindex.db")
	cfg.Logger = logger

	for i := 0; i < 2; i++ {
		db, err := New(cfg)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		db.Close()
	}

	// Migrations log through the configured logger, once each.
	if n := strings.Count(buf.String(), "applied schema migration"); n != len(migrations) {
		t.Errorf("logged %d migrations, want %d", n, len(migrations))
	}
}

func TestDSN_CarriesPragmas(t *testing.T) {
	got := dsn(Config{Path: "/tmp/x.db"})
	for _, want := range []string{"file:/tmp/x.db?", "busy_timeout%285000%29", "foreign_keys%281%29", "_txlock=immediate"} {
		if !strings.Contains(got, want) {
			t.Errorf("dsn %q missing %q", got, want)
		}
	}
}

func TestPopulateTypes_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := db.PopulateTypes(ctx); err != nil {
			t.Fatalf("PopulateTypes #%d: %v", i+1, err)
		}
	}

	acqTypes, err := db.ListAcqTypes(ctx)
	if err != nil {
		t.Fatalf("ListAcqTypes: %v", err)
	}
	if len(acqTypes) != len(dataindex.BuiltinAcqTypes) {
		t.Errorf("got %d acq types, want %d", len(acqTypes), len(dataindex.BuiltinAcqTypes))
	}

	fileTypes, err := db.ListFileTypes(ctx)
	if err != nil {
		t.Fatalf("ListFileTypes: %v", err)
	}
	if len(fileTypes) != len(dataindex.BuiltinFileTypes) {
		t.Errorf("got %d file types, want %d", len(fileTypes), len(dataindex.BuiltinFileTypes))
	}

	hk, err := db.ListFileTypesForAcqType(ctx, "hk")
	if err != nil {
		t.Fatalf("ListFileTypesForAcqType: %v", err)
	}
	if len(hk) != len(dataindex.BuiltinAcqFileTypes["hk"]) {
		t.Errorf("hk has %d file types, want %d", len(hk), len(dataindex.BuiltinAcqFileTypes["hk"]))
	}
}

func TestPopulateTypes_PreservesExistingRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.db.Exec(`INSERT INTO acqtype (name, notes) VALUES ('corr', 'site specific')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := db.db.Exec(`INSERT INTO filetype (name, notes) VALUES ('custom', 'not built in')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := db.PopulateTypes(ctx); err != nil {
		t.Fatalf("PopulateTypes: %v", err)
	}

	corr, err := db.GetAcqType(ctx, "corr")
	if err != nil {
		t.Fatalf("GetAcqType: %v", err)
	}
	if corr.Notes != "site specific" {
		t.Errorf("corr notes overwritten: %q", corr.Notes)
	}
	if _, err := db.GetFileType(ctx, "custom"); err != nil {
		t.Errorf("custom file type lost: %v", err)
	}
}

func TestGetAcqType_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetAcqType(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEnsureInst_ReturnsSameID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.EnsureInst(ctx, "stone")
	if err != nil {
		t.Fatalf("EnsureInst: %v", err)
	}
	b, err := db.EnsureInst(ctx, "stone")
	if err != nil {
		t.Fatalf("EnsureInst: %v", err)
	}
	if a != b {
		t.Fatalf("ids differ: %d vs %d", a, b)
	}
}

func TestInsertAcq_DuplicateName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	acq, err := db.GetAcqByName(ctx, "20190304T175519Z_stone_corr")
	if err != nil {
		t.Fatalf("GetAcqByName: %v", err)
	}
	dup := &ArchiveAcq{Name: acq.Name, InstID: acq.InstID, TypeID: acq.TypeID}
	_, err = db.InsertAcq(ctx, dup)
	if !IsUniqueViolation(err) {
		t.Fatalf("err = %v, want unique violation", err)
	}
}

func TestAcqInfo_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	if _, err := db.GetCorrAcqInfo(ctx, f.AcqID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCorrAcqInfo before insert: err = %v, want ErrNotFound", err)
	}

	integration, nfreq := 10.0, int64(1024)
	if err := db.InsertCorrAcqInfo(ctx, &CorrAcqInfo{AcqID: f.AcqID, Integration: &integration, NFreq: &nfreq}); err != nil {
		t.Fatalf("InsertCorrAcqInfo: %v", err)
	}
	corr, err := db.GetCorrAcqInfo(ctx, f.AcqID)
	if err != nil {
		t.Fatalf("GetCorrAcqInfo: %v", err)
	}
	if corr.Integration == nil || *corr.Integration != 10 || corr.NFreq == nil || *corr.NFreq != 1024 || corr.NProd != nil {
		t.Errorf("corr = %+v", corr)
	}

	nbeam := int64(1024)
	if err := db.InsertHFBAcqInfo(ctx, &HFBAcqInfo{AcqID: f.AcqID, NBeam: &nbeam}); err != nil {
		t.Fatalf("InsertHFBAcqInfo: %v", err)
	}
	hfb, err := db.GetHFBAcqInfo(ctx, f.AcqID)
	if err != nil {
		t.Fatalf("GetHFBAcqInfo: %v", err)
	}
	if hfb.NBeam == nil || *hfb.NBeam != 1024 || hfb.Integration != nil {
		t.Errorf("hfb = %+v", hfb)
	}

	start := 1551722119.0
	if err := db.InsertRawadcAcqInfo(ctx, &RawadcAcqInfo{AcqID: f.AcqID, StartTime: &start}); err != nil {
		t.Fatalf("InsertRawadcAcqInfo: %v", err)
	}
	raw, err := db.GetRawadcAcqInfo(ctx, f.AcqID)
	if err != nil {
		t.Fatalf("GetRawadcAcqInfo: %v", err)
	}
	if raw.StartTime == nil || *raw.StartTime != start {
		t.Errorf("rawadc = %+v", raw)
	}

	if err := db.InsertCorrAcqInfo(ctx, &CorrAcqInfo{AcqID: f.AcqID}); !IsUniqueViolation(err) {
		t.Errorf("second corr info: err = %v, want unique violation", err)
	}
}

func TestInsertFile_DuplicateNameInAcq(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	_, err := db.InsertFile(ctx, &ArchiveFile{AcqID: f.AcqID, TypeID: f.TypeID, Name: f.Name})
	if !IsUniqueViolation(err) {
		t.Fatalf("err = %v, want unique violation", err)
	}

	// Same name in another acquisition is fine.
	other := seedFile(t, db, "20190305T000000Z_stone_corr", "00012345_0000.h5", "corr")
	if other.AcqID == f.AcqID {
		t.Fatal("expected a different acquisition")
	}
}

func TestInsertFile_UnknownAcq(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.PopulateTypes(ctx); err != nil {
		t.Fatalf("PopulateTypes: %v", err)
	}
	ft, err := db.GetFileType(ctx, "corr")
	if err != nil {
		t.Fatalf("GetFileType: %v", err)
	}

	_, err = db.InsertFile(ctx, &ArchiveFile{AcqID: 999, TypeID: ft.ID, Name: "00000000_0000.h5"})
	if !IsForeignKeyViolation(err) {
		t.Fatalf("err = %v, want foreign key violation", err)
	}
}

func TestGetFileByPath(t *testing.T) {
	db := newTestDB(t)
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	got, err := db.GetFileByPath(context.Background(), "20190304T175519Z_stone_corr", "00012345_0000.h5")
	if err != nil {
		t.Fatalf("GetFileByPath: %v", err)
	}
	if got.ID != f.ID {
		t.Errorf("id = %d, want %d", got.ID, f.ID)
	}
	if got.SizeBytes != nil || got.MD5Sum != "" {
		t.Errorf("expected unknown size/md5, got %v %q", got.SizeBytes, got.MD5Sum)
	}
}

func TestUpdateFileChecksum(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	const sum = "900150983cd24fb0d6963f7d28e17f72"
	if err := db.UpdateFileChecksum(ctx, f.ID, 3, sum); err != nil {
		t.Fatalf("UpdateFileChecksum: %v", err)
	}
	got, err := db.GetFileByID(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFileByID: %v", err)
	}
	if got.MD5Sum != sum || got.SizeBytes == nil || *got.SizeBytes != 3 {
		t.Errorf("got size=%v md5=%q", got.SizeBytes, got.MD5Sum)
	}

	if err := db.UpdateFileChecksum(ctx, 12345, 1, sum); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListFiles_Filter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")
	seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0001.h5", "corr")
	seedFile(t, db, "20190304T175519Z_stone_corr", "ch_master.log", "log")

	all, err := db.ListFiles(ctx, FileFilter{AcqID: f.AcqID})
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d files, want 3", len(all))
	}
	if n, err := db.CountFiles(ctx, f.AcqID); err != nil || n != 3 {
		t.Errorf("CountFiles = %d, %v; want 3", n, err)
	}

	logs, err := db.ListFiles(ctx, FileFilter{FileType: "log"})
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(logs) != 1 || logs[0].Name != "ch_master.log" {
		t.Errorf("got %+v, want the log file", logs)
	}
}
