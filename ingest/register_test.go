package ingest

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex"
	"github.com/chime-experiment/dataindex/database"
	"github.com/chime-experiment/dataindex/perf"
)

const testAcq = "20190304T175519Z_stone_corr"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestRegistrar(t *testing.T) (*Registrar, *database.DB) {
	t.Helper()

	cfg := database.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "dataindex.db")
	cfg.Logger = quietLogger()
	db, err := database.New(cfg)
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.PopulateTypes(context.Background()); err != nil {
		t.Fatalf("PopulateTypes: %v", err)
	}

	r := NewRegistrar(db)
	r.SetLogger(quietLogger())
	return r, db
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func seedLayout(t *testing.T, db *database.DB, roots map[string]string) {
	t.Helper()
	layout := database.StorageLayout{Groups: []database.GroupSpec{{Name: "archive"}}}
	for name, root := range roots {
		layout.Nodes = append(layout.Nodes, database.NodeSpec{Name: name, Group: "archive", Root: root, Active: true})
	}
	if err := db.PopulateStorage(context.Background(), layout); err != nil {
		t.Fatalf("PopulateStorage: %v", err)
	}
}

func TestRegisterAcq(t *testing.T) {
	r, db := newTestRegistrar(t)
	ctx := context.Background()

	acq, created, err := r.RegisterAcq(ctx, testAcq, "first light")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}
	if !created {
		t.Error("expected created = true")
	}
	inst, err := db.GetInst(ctx, "stone")
	if err != nil {
		t.Fatalf("GetInst: %v", err)
	}
	if acq.InstID != inst.ID {
		t.Errorf("inst_id = %d, want %d", acq.InstID, inst.ID)
	}

	again, created, err := r.RegisterAcq(ctx, testAcq, "")
	if err != nil {
		t.Fatalf("second RegisterAcq: %v", err)
	}
	if created || again.ID != acq.ID {
		t.Errorf("second call: created=%v id=%d, want false/%d", created, again.ID, acq.ID)
	}
}

func TestRegisterAcq_Errors(t *testing.T) {
	r, _ := newTestRegistrar(t)
	ctx := context.Background()

	if _, _, err := r.RegisterAcq(ctx, "not-an-acq", ""); err == nil {
		t.Error("expected parse error")
	}
	_, _, err := r.RegisterAcq(ctx, "20190304T175519Z_stone_bogus", "")
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("unknown type: err = %v, want ErrNotFound", err)
	}
}

func TestRegisterFile(t *testing.T) {
	r, db := newTestRegistrar(t)
	ctx := context.Background()
	acq, _, err := r.RegisterAcq(ctx, testAcq, "")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}

	path := writeFile(t, t.TempDir(), "00012345_0003.h5", "abc")
	metrics := perf.NewRunMetrics()
	f, err := r.RegisterFile(perf.WithMetrics(ctx, metrics), acq, path)
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	if f.MD5Sum != "900150983cd24fb0d6963f7d28e17f72" || f.SizeBytes == nil || *f.SizeBytes != 3 {
		t.Errorf("file = %+v", f)
	}

	info, err := db.GetFileInfo(ctx, f.ID, dataindex.InfoCorr)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if corr := info.(*database.CorrFileInfo); *corr.FreqNumber != 3 {
		t.Errorf("freq_number = %d, want 3", *corr.FreqNumber)
	}
	if metrics.ByType()["corr"] != 1 || metrics.ChecksumBytes != 3 {
		t.Errorf("metrics = %+v", metrics.ByType())
	}

	_, err = r.RegisterFile(ctx, acq, path)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second RegisterFile: err = %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegisterFile_RejectsForeignType(t *testing.T) {
	r, _ := newTestRegistrar(t)
	ctx := context.Background()
	acq, _, err := r.RegisterAcq(ctx, testAcq, "")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}

	// A weather name cannot occur in a corr acquisition.
	_, err = r.RegisterFileMeta(ctx, acq, FileMeta{Name: "20190304.h5"})
	if err == nil {
		t.Fatal("expected detection error")
	}
}

func TestRegisterFileMeta_StoredAssociations(t *testing.T) {
	r, db := newTestRegistrar(t)
	ctx := context.Background()

	if _, err := db.InsertAcqType(ctx, &database.AcqType{Name: "holo", Notes: "Holography run."}); err != nil {
		t.Fatalf("InsertAcqType: %v", err)
	}
	const holoAcq = "20190304T175519Z_stone_holo"
	acq, _, err := r.RegisterAcq(ctx, holoAcq, "")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}

	// Without stored associations any detected type is accepted.
	if _, err := r.RegisterFileMeta(ctx, acq, FileMeta{Name: "00000000_0000.h5"}); err != nil {
		t.Fatalf("unrestricted RegisterFileMeta: %v", err)
	}

	if err := db.AddAcqFileType(ctx, "holo", "log"); err != nil {
		t.Fatalf("AddAcqFileType: %v", err)
	}
	if _, err := r.RegisterFileMeta(ctx, acq, FileMeta{Name: "00000001_0000.h5"}); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("corr file in holo acq: err = %v, want ErrTypeMismatch", err)
	}
	if _, err := r.RegisterFileMeta(ctx, acq, FileMeta{Name: "ch_master.log"}); err != nil {
		t.Errorf("log file in holo acq: %v", err)
	}

	if err := db.AddAcqFileType(ctx, "holo", "nosuchtype"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("unknown file type: err = %v, want ErrNotFound", err)
	}
}

func TestRegisterFile_Missing(t *testing.T) {
	r, _ := newTestRegistrar(t)
	ctx := context.Background()
	acq, _, err := r.RegisterAcq(ctx, testAcq, "")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}

	_, err = r.RegisterFile(ctx, acq, filepath.Join(t.TempDir(), "00000000_0000.h5"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestRegisterFileMeta_InvalidChecksum(t *testing.T) {
	r, _ := newTestRegistrar(t)
	ctx := context.Background()
	acq, _, err := r.RegisterAcq(ctx, testAcq, "")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}
	if _, err := r.RegisterFileMeta(ctx, acq, FileMeta{Name: "00000000_0000.h5", MD5Sum: "XYZ"}); err == nil {
		t.Fatal("expected error for malformed md5sum")
	}
}

func TestAddCopyAndRequest(t *testing.T) {
	r, db := newTestRegistrar(t)
	ctx := context.Background()
	seedLayout(t, db, map[string]string{"cedar": t.TempDir(), "niagara": t.TempDir()})

	acq, _, err := r.RegisterAcq(ctx, testAcq, "")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}
	if _, err := r.RegisterFileMeta(ctx, acq, FileMeta{Name: "00000000_0000.h5"}); err != nil {
		t.Fatalf("RegisterFileMeta: %v", err)
	}
	rel := dataindex.RelativePath(testAcq, "00000000_0000.h5")

	// No present copy on the source yet.
	if _, err := r.RequestCopy(ctx, rel, "niagara", "cedar", 0); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("RequestCopy without source copy: err = %v", err)
	}

	c, err := r.AddCopy(ctx, rel, "cedar", database.FilePresent)
	if err != nil {
		t.Fatalf("AddCopy: %v", err)
	}
	if !c.Ready {
		t.Error("present copy should be ready")
	}
	if _, err := r.AddCopy(ctx, rel, "cedar", database.FilePresent); !database.IsUniqueViolation(err) {
		t.Errorf("duplicate AddCopy: err = %v, want unique violation", err)
	}

	req, err := r.RequestCopy(ctx, rel, "niagara", "cedar", 5)
	if err != nil {
		t.Fatalf("RequestCopy: %v", err)
	}
	if req.NodeFromID == nil || req.State() != database.RequestPending || req.Nice != 5 {
		t.Errorf("request = %+v", req)
	}

	if _, err := r.RequestCopy(ctx, rel, "cedar", "cedar", 0); err == nil {
		t.Error("expected error for identical source and destination")
	}

	anySource, err := r.RequestCopy(ctx, rel, "niagara", "", 0)
	if err != nil {
		t.Fatalf("RequestCopy without source: %v", err)
	}
	if anySource.NodeFromID != nil {
		t.Errorf("node_from_id = %d, want nil", *anySource.NodeFromID)
	}
}

func TestRegisterFile_MiscMetadata(t *testing.T) {
	r, db := newTestRegistrar(t)
	ctx := context.Background()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	body := []byte(`{"source": "rfi broker"}`)
	tw.WriteHeader(&tar.Header{Name: "METADATA.json", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg})
	tw.Write(body)
	tw.Close()

	var gzBuf bytes.Buffer
	zw := gzip.NewWriter(&gzBuf)
	zw.Write(tarBuf.Bytes())
	zw.Close()

	path := writeFile(t, t.TempDir(), "00000001_rfi.misc.tar.gz", gzBuf.String())

	acq, _, err := r.RegisterAcq(ctx, "20190304T175519Z_stone_misc", "")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}
	f, err := r.RegisterFile(ctx, acq, path)
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}

	info, err := db.GetFileInfo(ctx, f.ID, dataindex.InfoMisc)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	misc := info.(*database.MiscFileInfo)
	if misc.DataType != "rfi" || misc.Metadata["source"] != "rfi broker" {
		t.Errorf("misc info = %+v", misc)
	}
}

func TestRegisterFile_MiscWithoutMetadata(t *testing.T) {
	r, db := newTestRegistrar(t)
	ctx := context.Background()

	// Not a gzip stream: metadata cannot be read but the file is still registered.
	path := writeFile(t, t.TempDir(), "00000002_rfi.misc.tar.gz", "not a tarball")

	acq, _, err := r.RegisterAcq(ctx, "20190304T175519Z_stone_misc", "")
	if err != nil {
		t.Fatalf("RegisterAcq: %v", err)
	}
	f, err := r.RegisterFile(ctx, acq, path)
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	info, err := db.GetFileInfo(ctx, f.ID, dataindex.InfoMisc)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if md := info.(*database.MiscFileInfo).Metadata; len(md) != 0 {
		t.Errorf("metadata = %v, want empty", md)
	}
}
