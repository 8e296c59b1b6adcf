package database

import (
	"context"
	"errors"
	"testing"

	"github.com/chime-experiment/dataindex"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestFileInfo_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0003.h5", "corr")

	in := &CorrFileInfo{
		FileInfoBase: FileInfoBase{FileID: f.ID, StartTime: f64(1551722119), FinishTime: f64(1551725719)},
		ChunkNumber:  i64(12345),
		FreqNumber:   i64(3),
	}
	if err := db.InsertFileInfo(ctx, in); err != nil {
		t.Fatalf("InsertFileInfo: %v", err)
	}

	got, err := db.GetFileInfo(ctx, f.ID, dataindex.InfoCorr)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	corr, ok := got.(*CorrFileInfo)
	if !ok {
		t.Fatalf("got %T, want *CorrFileInfo", got)
	}
	if *corr.ChunkNumber != 12345 || *corr.FreqNumber != 3 || *corr.StartTime != 1551722119 {
		t.Errorf("got %+v", corr)
	}
}

func TestFileInfo_OnePerFile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	info := &CorrFileInfo{FileInfoBase: FileInfoBase{FileID: f.ID}}
	if err := db.InsertFileInfo(ctx, info); err != nil {
		t.Fatalf("InsertFileInfo: %v", err)
	}
	err := db.InsertFileInfo(ctx, &CorrFileInfo{FileInfoBase: FileInfoBase{FileID: f.ID}})
	if !IsUniqueViolation(err) {
		t.Fatalf("err = %v, want unique violation", err)
	}
}

func TestFileInfo_KindMustMatchFile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	err := db.InsertFileInfo(ctx, &HKFileInfo{FileInfoBase: FileInfoBase{FileID: f.ID}, AtmelName: "ib"})
	if !errors.Is(err, ErrInfoKindMismatch) {
		t.Fatalf("hk info on corr file: err = %v, want ErrInfoKindMismatch", err)
	}
	if _, err := db.GetFileInfo(ctx, f.ID, dataindex.InfoHK); !errors.Is(err, ErrNotFound) {
		t.Errorf("hk info stored: %v", err)
	}

	if err := db.InsertFileInfo(ctx, &CorrFileInfo{FileInfoBase: FileInfoBase{FileID: f.ID}}); err != nil {
		t.Fatalf("InsertFileInfo: %v", err)
	}

	if err := db.InsertFileInfo(ctx, &CorrFileInfo{FileInfoBase: FileInfoBase{FileID: 9999}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown file: err = %v, want ErrNotFound", err)
	}
}

func TestFileInfo_RejectsSecondKind(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	// A stray row written outside InsertFileInfo.
	if _, err := db.db.ExecContext(ctx, `INSERT INTO hkpfileinfo (file_id) VALUES (?)`, f.ID); err != nil {
		t.Fatalf("insert hkp row: %v", err)
	}

	err := db.InsertFileInfo(ctx, &CorrFileInfo{FileInfoBase: FileInfoBase{FileID: f.ID}})
	if !errors.Is(err, ErrInfoKindMismatch) {
		t.Fatalf("err = %v, want ErrInfoKindMismatch", err)
	}
	if _, err := db.GetFileInfo(ctx, f.ID, dataindex.InfoCorr); !errors.Is(err, ErrNotFound) {
		t.Errorf("corr info stored: %v", err)
	}
}

func TestFileInfo_NullableFields(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "20190304.h5", "weather")

	if err := db.InsertFileInfo(ctx, &WeatherFileInfo{FileInfoBase: FileInfoBase{FileID: f.ID}, Date: "20190304"}); err != nil {
		t.Fatalf("InsertFileInfo: %v", err)
	}
	got, err := db.GetFileInfo(ctx, f.ID, dataindex.InfoWeather)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	w := got.(*WeatherFileInfo)
	if w.StartTime != nil || w.FinishTime != nil || w.Date != "20190304" {
		t.Errorf("got %+v", w)
	}
}

func TestFileInfo_MiscMetadata(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00000001_chimecal.misc.tar.gz", "miscellaneous")

	in := &MiscFileInfo{
		FileInfoBase: FileInfoBase{FileID: f.ID},
		DataType:     "chimecal",
		Metadata:     JSONObject{"source": "holography"},
	}
	if err := db.InsertFileInfo(ctx, in); err != nil {
		t.Fatalf("InsertFileInfo: %v", err)
	}
	got, err := db.GetFileInfo(ctx, f.ID, dataindex.InfoMisc)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	m := got.(*MiscFileInfo)
	if m.DataType != "chimecal" || m.Metadata["source"] != "holography" {
		t.Errorf("got %+v", m)
	}
}

func TestGetFileInfo_Errors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.GetFileInfo(ctx, 1, dataindex.InfoHK); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := db.GetFileInfo(ctx, 1, dataindex.InfoNone); err == nil {
		t.Error("expected error for InfoNone")
	}
}

func TestInsertFileWithInfo_Atomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFile(t, db, "20190304T175519Z_stone_corr", "00012345_0000.h5", "corr")

	weather, err := db.GetFileType(ctx, "weather")
	if err != nil {
		t.Fatalf("GetFileType: %v", err)
	}

	// The info insert fails (weather date must be 8 chars), so the file
	// row must not survive either.
	nf := &ArchiveFile{AcqID: f.AcqID, TypeID: weather.ID, Name: "20190305.h5"}
	_, err = db.InsertFileWithInfo(ctx, nf, &WeatherFileInfo{Date: "bad"})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := db.GetFile(ctx, f.AcqID, "20190305.h5"); !errors.Is(err, ErrNotFound) {
		t.Errorf("file row survived failed insert: %v", err)
	}

	id, err := db.InsertFileWithInfo(ctx, nf, &WeatherFileInfo{Date: "20190305"})
	if err != nil {
		t.Fatalf("InsertFileWithInfo: %v", err)
	}
	if _, err := db.GetFileInfo(ctx, id, dataindex.InfoWeather); err != nil {
		t.Errorf("GetFileInfo: %v", err)
	}
}

func TestNewFileInfo_Kinds(t *testing.T) {
	for _, kind := range infoKinds {
		info := NewFileInfo(kind)
		if info == nil {
			t.Errorf("NewFileInfo(%q) = nil", kind)
			continue
		}
		if info.Kind() != kind {
			t.Errorf("NewFileInfo(%q).Kind() = %q", kind, info.Kind())
		}
		if _, ok := infoTables[kind]; !ok {
			t.Errorf("no table for %q", kind)
		}
	}
}

func TestAcqTimeRange(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := seedFile(t, db, "20190304T175519Z_stone_corr", "00000000_0000.h5", "corr")
	b := seedFile(t, db, "20190304T175519Z_stone_corr", "00000001_0000.h5", "corr")

	if _, _, ok, err := db.AcqTimeRange(ctx, a.AcqID); err != nil || ok {
		t.Fatalf("empty range: ok=%v err=%v", ok, err)
	}

	for _, in := range []*CorrFileInfo{
		{FileInfoBase: FileInfoBase{FileID: a.ID, StartTime: f64(100), FinishTime: f64(200)}},
		{FileInfoBase: FileInfoBase{FileID: b.ID, StartTime: f64(200), FinishTime: f64(300)}},
	} {
		if err := db.InsertFileInfo(ctx, in); err != nil {
			t.Fatalf("InsertFileInfo: %v", err)
		}
	}

	start, finish, ok, err := db.AcqTimeRange(ctx, a.AcqID)
	if err != nil || !ok {
		t.Fatalf("AcqTimeRange: ok=%v err=%v", ok, err)
	}
	if start != 100 || finish != 300 {
		t.Errorf("range = [%v, %v], want [100, 300]", start, finish)
	}
}
