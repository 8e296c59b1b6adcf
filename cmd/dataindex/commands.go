package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex"
	"github.com/chime-experiment/dataindex/config"
	"github.com/chime-experiment/dataindex/database"
	"github.com/chime-experiment/dataindex/ingest"
	"github.com/chime-experiment/dataindex/names"
	"github.com/chime-experiment/dataindex/perf"
	"github.com/chime-experiment/dataindex/tui"
)

// runInit creates the database file and applies the schema.
func runInit(cfg Config, _ []string) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"db_path":        cfg.DBPath,
		"schema_version": version,
	}).Info("database ready")
	return nil
}

// busyRetry returns the backoff policy used when another process holds the
// database write lock.
func busyRetry(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 8), ctx)
}

// retryBusy runs op, retrying while it fails with SQLITE_BUSY. Other errors
// are returned immediately.
func retryBusy(ctx context.Context, op func() error) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !database.IsBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, busyRetry(ctx), func(err error, d time.Duration) {
		log.WithError(err).WithField("retry_in", d.String()).Warn("database busy, retrying")
	})
}

func runPopulateTypes(cfg Config, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return retryBusy(ctx, func() error { return db.PopulateTypes(ctx) })
}

func runPopulateStorage(cfg Config, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	layout, err := config.LoadStorageLayout(cfg.LayoutPath)
	if err != nil {
		return fmt.Errorf("storage layout %s: %w", cfg.LayoutPath, err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return retryBusy(ctx, func() error { return db.PopulateStorage(ctx, layout.StorageLayout()) })
}

func newRegistrar(cfg Config, db *database.DB) *ingest.Registrar {
	r := ingest.NewRegistrar(db)
	r.SetLogger(log)
	r.SlowChecksum = cfg.SlowThresh
	return r
}

func runRegisterAcq(cfg Config, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	acq, created, err := newRegistrar(cfg, db).RegisterAcq(ctx, args[0], cfg.Comment)
	if err != nil {
		return err
	}
	if !created {
		fmt.Printf("Acquisition %s already registered (id %d)\n", acq.Name, acq.ID)
		return nil
	}
	fmt.Printf("Registered acquisition %s (id %d)\n", acq.Name, acq.ID)
	return nil
}

// runRegisterFile checksums and registers each path in the acquisition
// named by --acq. Files already registered are skipped.
func runRegisterFile(cfg Config, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistrar(cfg, db)
	acq, _, err := reg.RegisterAcq(ctx, cfg.AcqName, "")
	if err != nil {
		return err
	}

	metrics := perf.NewRunMetrics()
	ctx = perf.WithMetrics(ctx, metrics)
	start := time.Now()

	var failed bool
	for _, path := range args {
		f, err := reg.RegisterFile(ctx, acq, path)
		switch {
		case errors.Is(err, ingest.ErrAlreadyRegistered):
			log.WithField("file", path).Info("file already registered")
			continue
		case err != nil:
			log.WithError(err).WithField("file", path).Error("failed to register file")
			failed = true
			continue
		}

		if cfg.Node != "" {
			rel := dataindex.RelativePath(acq.Name, f.Name)
			if _, err := reg.AddCopy(ctx, rel, cfg.Node, database.FilePresent); err != nil {
				log.WithError(err).WithField("file", rel).Error("failed to record copy")
				failed = true
			}
		}
	}

	metrics.TotalDuration = time.Since(start)
	fmt.Print(metrics.Summary())
	if failed {
		return errSomeFailed
	}
	return nil
}

// runImportAcq imports each acquisition directory given as an argument.
func runImportAcq(cfg Config, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	release, err := acquireLock(cfg.DBPath, "import-acq")
	if err != nil {
		return err
	}
	defer release()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistrar(cfg, db)
	metrics := perf.NewRunMetrics()
	ctx = perf.WithMetrics(ctx, metrics)
	start := time.Now()

	var failed bool
	for _, dir := range args {
		res, err := reg.ImportAcqDir(ctx, cfg.Node, dir)
		if err != nil {
			log.WithError(err).WithField("dir", dir).Error("failed to import acquisition")
			failed = true
			continue
		}
		for _, f := range res.Failed {
			log.WithFields(logrus.Fields{"acq": res.Acq.Name, "file": f.Name}).Warn(f.Error)
		}
		if len(res.Failed) > 0 {
			failed = true
		}
		fmt.Printf("%s: %d registered, %d already known, %d copies added (%d corrupt), %d failed\n",
			res.Acq.Name, res.Registered, res.Existing, res.Copies, res.Corrupt, len(res.Failed))
	}

	metrics.TotalDuration = time.Since(start)
	fmt.Print(metrics.Summary())
	if failed {
		return errSomeFailed
	}
	return nil
}

func runAddCopy(cfg Config, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	state, err := parseFileState(cfg.State)
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistrar(cfg, db)
	var failed bool
	for _, rel := range args {
		if _, err := reg.AddCopy(ctx, rel, cfg.Node, state); err != nil {
			if database.IsUniqueViolation(err) {
				err = fmt.Errorf("%s already has a copy on %s", rel, cfg.Node)
			}
			log.WithError(err).WithField("file", rel).Error("failed to add copy")
			failed = true
		}
	}
	if failed {
		return errSomeFailed
	}
	return nil
}

func runRequestCopy(cfg Config, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistrar(cfg, db)
	var failed bool
	for _, rel := range args {
		req, err := reg.RequestCopy(ctx, rel, cfg.Node, cfg.FromNode, cfg.Nice)
		if err != nil {
			log.WithError(err).WithField("file", rel).Error("failed to request copy")
			failed = true
			continue
		}
		fmt.Printf("Request %d: %s -> %s\n", req.ID, rel, cfg.Node)
	}
	if failed {
		return errSomeFailed
	}
	return nil
}

func runListAcqs(cfg Config, _ []string) error {
	ctx := context.Background()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	acqs, err := db.ListAcqs(ctx, database.AcqFilter{Inst: cfg.Inst, Type: cfg.AcqType, Limit: cfg.Limit})
	if err != nil {
		return err
	}

	rows := make([]tui.AcqRow, 0, len(acqs))
	for _, a := range acqs {
		row := tui.AcqRow{Name: a.Name, Comment: a.Comment}
		if parsed, err := names.ParseAcqName(a.Name); err == nil {
			row.Inst, row.Type = parsed.Inst, parsed.Type
		}
		if row.Files, err = db.CountFiles(ctx, a.ID); err != nil {
			return err
		}
		rows = append(rows, row)
	}
	fmt.Print(tui.RenderAcqsTable(rows))
	return nil
}

// lookupNames resolves ids to names with a small cache, so listings do one
// query per distinct acquisition or file type.
type lookupNames struct {
	db        *database.DB
	acqs      map[int64]string
	fileTypes map[int64]string
}

func newLookupNames(ctx context.Context, db *database.DB) (*lookupNames, error) {
	types, err := db.ListFileTypes(ctx)
	if err != nil {
		return nil, err
	}
	l := &lookupNames{db: db, acqs: map[int64]string{}, fileTypes: map[int64]string{}}
	for _, t := range types {
		l.fileTypes[t.ID] = t.Name
	}
	return l, nil
}

func (l *lookupNames) acq(ctx context.Context, id int64) (string, error) {
	if name, ok := l.acqs[id]; ok {
		return name, nil
	}
	a, err := l.db.GetAcqByID(ctx, id)
	if err != nil {
		return "", err
	}
	l.acqs[id] = a.Name
	return a.Name, nil
}

func runListFiles(cfg Config, _ []string) error {
	ctx := context.Background()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	filter := database.FileFilter{FileType: cfg.FileType, Limit: cfg.Limit}
	if cfg.AcqName != "" {
		acq, err := db.GetAcqByName(ctx, cfg.AcqName)
		if err != nil {
			return err
		}
		filter.AcqID = acq.ID
	}

	files, err := db.ListFiles(ctx, filter)
	if err != nil {
		return err
	}
	lookup, err := newLookupNames(ctx, db)
	if err != nil {
		return err
	}

	rows := make([]tui.FileRow, 0, len(files))
	for _, f := range files {
		acqName, err := lookup.acq(ctx, f.AcqID)
		if err != nil {
			return err
		}
		row := tui.FileRow{AcqName: acqName, Name: f.Name, Type: lookup.fileTypes[f.TypeID], Size: -1, MD5Sum: f.MD5Sum}
		if f.SizeBytes != nil {
			row.Size = *f.SizeBytes
		}
		rows = append(rows, row)
	}
	fmt.Print(tui.RenderFilesTable(rows))
	return nil
}

func runListCopies(cfg Config, _ []string) error {
	ctx := context.Background()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var copies []database.ArchiveFileCopy
	if cfg.Node != "" {
		node, err := db.GetNode(ctx, cfg.Node)
		if err != nil {
			return err
		}
		var state database.FileState
		if cfg.State != "" {
			if state, err = parseFileState(cfg.State); err != nil {
				return err
			}
		}
		if copies, err = db.ListCopiesOnNode(ctx, node.ID, state); err != nil {
			return err
		}
	} else {
		acqName, fileName, err := dataindex.SplitRelativePath(cfg.FilePath)
		if err != nil {
			return err
		}
		f, err := db.GetFileByPath(ctx, acqName, fileName)
		if err != nil {
			return err
		}
		if copies, err = db.ListCopiesForFile(ctx, f.ID); err != nil {
			return err
		}
	}

	nodes, err := db.ListNodes(ctx, false)
	if err != nil {
		return err
	}
	nodeNames := make(map[int64]string, len(nodes))
	for _, n := range nodes {
		nodeNames[n.ID] = n.Name
	}
	lookup, err := newLookupNames(ctx, db)
	if err != nil {
		return err
	}

	rows := make([]tui.CopyRow, 0, len(copies))
	for _, c := range copies {
		f, err := db.GetFileByID(ctx, c.FileID)
		if err != nil {
			return err
		}
		acqName, err := lookup.acq(ctx, f.AcqID)
		if err != nil {
			return err
		}
		rows = append(rows, tui.CopyRow{
			Path:       dataindex.RelativePath(acqName, f.Name),
			Node:       nodeNames[c.NodeID],
			HasFile:    c.HasFile.String(),
			WantsFile:  c.WantsFile.String(),
			LastUpdate: tui.FormatTime(c.LastUpdate),
		})
	}
	fmt.Print(tui.RenderCopiesTable(rows))
	return nil
}

func runListNodes(cfg Config, _ []string) error {
	ctx := context.Background()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	nodes, err := db.ListNodes(ctx, !cfg.All)
	if err != nil {
		return err
	}
	groups, err := db.ListGroups(ctx)
	if err != nil {
		return err
	}
	groupNames := make(map[int64]string, len(groups))
	for _, g := range groups {
		groupNames[g.ID] = g.Name
	}

	rows := make([]tui.NodeRow, 0, len(nodes))
	for _, n := range nodes {
		row := tui.NodeRow{
			Name:        n.Name,
			Group:       groupNames[n.GroupID],
			Host:        n.Host,
			Root:        n.Root,
			StorageType: n.StorageType,
			Active:      n.Active,
			AvailGB:     -1,
		}
		if n.AvailGB != nil {
			row.AvailGB = *n.AvailGB
		}
		rows = append(rows, row)
	}
	fmt.Print(tui.RenderNodesTable(rows))

	if len(nodes) == 0 && !cfg.All {
		fmt.Fprintln(os.Stderr, "(use --all to include inactive nodes)")
	}
	return nil
}
