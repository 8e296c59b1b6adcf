package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex"
	"github.com/chime-experiment/dataindex/checksum"
	"github.com/chime-experiment/dataindex/database"
	"github.com/chime-experiment/dataindex/misctar"
	"github.com/chime-experiment/dataindex/names"
	"github.com/chime-experiment/dataindex/perf"
)

// ErrAlreadyRegistered is returned when a file with the same name already
// exists in the acquisition.
var ErrAlreadyRegistered = errors.New("file already registered")

// Registration outcomes reported to perf.ObserveRegistration.
const (
	OutcomeRegistered = "registered"
	OutcomeExists     = "exists"
	OutcomeFailed     = "failed"
)

// Registrar writes acquisitions, files and copies to the data index.
type Registrar struct {
	db      *database.DB
	logger  logrus.FieldLogger
	bufSize int
	misc    *misctar.Reader

	// SlowChecksum is the duration above which a checksum is logged as a warning.
	SlowChecksum time.Duration
}

// NewRegistrar creates a Registrar writing to db.
func NewRegistrar(db *database.DB) *Registrar {
	return &Registrar{
		db:           db,
		logger:       logrus.StandardLogger(),
		bufSize:      checksum.DefaultBufferSize,
		misc:         misctar.New(),
		SlowChecksum: 30 * time.Second,
	}
}

// SetLogger sets a custom logger.
func (r *Registrar) SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r.logger = logger
	r.misc.SetLogger(logger)
}

// SetBufferSize sets the read buffer used for checksums.
func (r *Registrar) SetBufferSize(n int) {
	if n > 0 {
		r.bufSize = n
	}
}

// RegisterAcq parses an acquisition name and records the acquisition,
// creating its instrument if needed. The acquisition type must already
// exist (see database.PopulateTypes). If the acquisition is already
// present it is returned with created == false.
func (r *Registrar) RegisterAcq(ctx context.Context, name, comment string) (acq *database.ArchiveAcq, created bool, err error) {
	parsed, err := names.ParseAcqName(name)
	if err != nil {
		return nil, false, err
	}

	if existing, err := r.db.GetAcqByName(ctx, name); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	acqType, err := r.db.GetAcqType(ctx, parsed.Type)
	if err != nil {
		return nil, false, fmt.Errorf("acquisition %q: %w", name, err)
	}
	instID, err := r.db.EnsureInst(ctx, parsed.Inst)
	if err != nil {
		return nil, false, err
	}

	acq = &database.ArchiveAcq{Name: name, InstID: instID, TypeID: acqType.ID, Comment: comment}
	if _, err := r.db.InsertAcq(ctx, acq); err != nil {
		if database.IsUniqueViolation(err) {
			// Another process registered it between our lookup and insert.
			existing, gerr := r.db.GetAcqByName(ctx, name)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	r.logger.WithFields(logrus.Fields{
		"acq":      name,
		"inst":     parsed.Inst,
		"acq_type": parsed.Type,
		"time":     parsed.Time.Format(time.RFC3339),
	}).Info("registered acquisition")
	return acq, true, nil
}

// FileMeta describes a file whose content has already been examined.
// SizeBytes and MD5Sum may be unknown (nil and "").
type FileMeta struct {
	Name      string
	SizeBytes *int64
	MD5Sum    string

	// Metadata is stored on miscellaneous tarballs and ignored otherwise.
	Metadata map[string]any
}

// RegisterFile classifies the file at path, computes its size and MD5
// digest, and records it with its info record in acquisition acq.
func (r *Registrar) RegisterFile(ctx context.Context, acq *database.ArchiveAcq, path string) (*database.ArchiveFile, error) {
	st, err := os.Stat(path)
	if err != nil {
		r.observe(ctx, OutcomeFailed, "")
		return nil, &checksum.IOError{Path: path, Op: "stat", Err: err}
	}
	if st.IsDir() {
		r.observe(ctx, OutcomeFailed, "")
		return nil, fmt.Errorf("%s is a directory", path)
	}

	sum, err := r.checksumFile(ctx, path, st.Size())
	if err != nil {
		r.observe(ctx, OutcomeFailed, "")
		return nil, err
	}

	size := st.Size()
	meta := FileMeta{Name: filepath.Base(path), SizeBytes: &size, MD5Sum: sum}
	if names.Matches("miscellaneous", meta.Name) {
		md, err := r.misc.ReadMetadataFile(ctx, path)
		if err != nil {
			r.logger.WithError(err).WithField("file", path).Warn("registering misc tarball without metadata")
		}
		meta.Metadata = md
	}
	return r.RegisterFileMeta(ctx, acq, meta)
}

// checksumFile digests path, recording the time taken.
func (r *Registrar) checksumFile(ctx context.Context, path string, size int64) (string, error) {
	timer := perf.Start("checksum", r.logger.WithField("file", path))
	sum, err := checksum.MD5FileBuffer(path, r.bufSize)
	elapsed := timer.StopWithThreshold(r.SlowChecksum)
	if err != nil {
		return "", err
	}
	perf.ObserveChecksum(size, elapsed)
	if m := perf.MetricsFromContext(ctx); m != nil {
		m.RecordChecksum(size, elapsed)
	}
	return sum, nil
}

// RegisterFileMeta classifies meta.Name and records the file with the
// given size and digest. It fails with ErrAlreadyRegistered when the
// acquisition already holds a file of that name.
func (r *Registrar) RegisterFileMeta(ctx context.Context, acq *database.ArchiveAcq, meta FileMeta) (*database.ArchiveFile, error) {
	if meta.MD5Sum != "" && !checksum.Valid(meta.MD5Sum) {
		r.observe(ctx, OutcomeFailed, "")
		return nil, fmt.Errorf("file %q: invalid md5sum %q", meta.Name, meta.MD5Sum)
	}

	acqType, err := r.db.GetAcqTypeByID(ctx, acq.TypeID)
	if err != nil {
		r.observe(ctx, OutcomeFailed, "")
		return nil, err
	}

	start := time.Now()
	c, err := Classify(meta.Name, acqType.Name)
	if m := perf.MetricsFromContext(ctx); m != nil {
		m.RecordDetect(time.Since(start))
	}
	if err != nil {
		var de *names.DetectionError
		if errors.As(err, &de) {
			perf.ObserveClassifyFailure(perf.StageDetect)
		} else {
			perf.ObserveClassifyFailure(perf.StageParse)
		}
		r.observe(ctx, OutcomeFailed, "")
		return nil, err
	}
	if err := r.checkAcqFileType(ctx, acqType.Name, c.FileType); err != nil {
		r.observe(ctx, OutcomeFailed, "")
		return nil, fmt.Errorf("file %q: %w", meta.Name, err)
	}
	perf.ObserveClassified(c.FileType)
	if misc, ok := c.Info.(*database.MiscFileInfo); ok && meta.Metadata != nil {
		misc.Metadata = database.JSONObject(meta.Metadata)
	}

	fileType, err := r.db.GetFileType(ctx, c.FileType)
	if err != nil {
		r.observe(ctx, OutcomeFailed, "")
		return nil, err
	}

	f := &database.ArchiveFile{
		AcqID:     acq.ID,
		TypeID:    fileType.ID,
		Name:      meta.Name,
		SizeBytes: meta.SizeBytes,
		MD5Sum:    meta.MD5Sum,
	}

	start = time.Now()
	_, err = r.db.InsertFileWithInfo(ctx, f, c.Info)
	if m := perf.MetricsFromContext(ctx); m != nil {
		m.RecordDBWrite(time.Since(start))
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			r.observe(ctx, OutcomeExists, "")
			return nil, fmt.Errorf("%s: %w", dataindex.RelativePath(acq.Name, meta.Name), ErrAlreadyRegistered)
		}
		r.observe(ctx, OutcomeFailed, "")
		return nil, err
	}

	r.observe(ctx, OutcomeRegistered, c.FileType)
	r.logger.WithFields(logrus.Fields{
		"acq":       acq.Name,
		"file":      meta.Name,
		"file_type": c.FileType,
		"info_kind": string(c.Kind),
		"md5sum":    meta.MD5Sum,
	}).Info("registered file")
	return f, nil
}

// checkAcqFileType consults the stored associations of acqType. An
// acquisition type with none allows every file type.
func (r *Registrar) checkAcqFileType(ctx context.Context, acqType, fileType string) error {
	allowed, err := r.db.ListFileTypesForAcqType(ctx, acqType)
	if err != nil {
		return err
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, t := range allowed {
		if t.Name == fileType {
			return nil
		}
	}
	return fmt.Errorf("%w: %s files are not associated with %s acquisitions", ErrTypeMismatch, fileType, acqType)
}

func (r *Registrar) observe(ctx context.Context, outcome, fileType string) {
	perf.ObserveRegistration(outcome)
	m := perf.MetricsFromContext(ctx)
	if m == nil {
		return
	}
	switch outcome {
	case OutcomeRegistered:
		m.RecordFile(fileType)
	case OutcomeExists:
		m.RecordSkip()
	default:
		m.RecordFailure()
	}
}

// AddCopy records that the file at relPath ("<acq>/<file>") has a copy on
// the named node in state has. A second copy on the same node fails with a
// unique violation.
func (r *Registrar) AddCopy(ctx context.Context, relPath, nodeName string, has database.FileState) (*database.ArchiveFileCopy, error) {
	f, node, err := r.lookup(ctx, relPath, nodeName)
	if err != nil {
		return nil, err
	}

	c := &database.ArchiveFileCopy{
		FileID:    f.ID,
		NodeID:    node.ID,
		HasFile:   has,
		WantsFile: database.WantKeep,
		Ready:     has == database.FilePresent,
		SizeBytes: f.SizeBytes,
	}
	if _, err := r.db.InsertCopy(ctx, c); err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"file":     relPath,
		"node":     nodeName,
		"has_file": has.String(),
	}).Info("recorded copy")
	return c, nil
}

// RequestCopy asks for the file at relPath to be copied to node toNode.
// fromNode may be empty to let the transfer agent pick a source; otherwise
// the source must hold a present copy.
func (r *Registrar) RequestCopy(ctx context.Context, relPath, toNode, fromNode string, nice int) (*database.ArchiveFileCopyRequest, error) {
	f, to, err := r.lookup(ctx, relPath, toNode)
	if err != nil {
		return nil, err
	}

	req := &database.ArchiveFileCopyRequest{FileID: f.ID, NodeToID: to.ID, Nice: nice}
	if fromNode != "" {
		from, err := r.db.GetNode(ctx, fromNode)
		if err != nil {
			return nil, err
		}
		if from.ID == to.ID {
			return nil, fmt.Errorf("source and destination are both %q", fromNode)
		}
		c, err := r.db.GetCopy(ctx, f.ID, from.ID)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", fromNode, err)
		}
		if c.HasFile != database.FilePresent {
			return nil, fmt.Errorf("source %q holds %s in state %s", fromNode, relPath, c.HasFile)
		}
		req.NodeFromID = &from.ID
	}

	if _, err := r.db.InsertCopyRequest(ctx, req); err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"file":       relPath,
		"node_to":    toNode,
		"node_from":  fromNode,
		"request_id": req.ID,
	}).Info("requested copy")
	return req, nil
}

func (r *Registrar) lookup(ctx context.Context, relPath, nodeName string) (*database.ArchiveFile, *database.StorageNode, error) {
	acqName, fileName, err := dataindex.SplitRelativePath(relPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := r.db.GetFileByPath(ctx, acqName, fileName)
	if err != nil {
		return nil, nil, err
	}
	node, err := r.db.GetNode(ctx, nodeName)
	if err != nil {
		return nil, nil, err
	}
	return f, node, nil
}
