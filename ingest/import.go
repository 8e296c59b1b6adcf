package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex/checksum"
	"github.com/chime-experiment/dataindex/database"
)

// ImportResult summarises one ImportAcqDir call.
type ImportResult struct {
	Acq        *database.ArchiveAcq
	AcqCreated bool
	Registered int
	Existing   int
	Copies     int
	Corrupt    int
	Failed     []ImportFailure
}

// ImportFailure is a file that could not be registered.
type ImportFailure struct {
	Name  string
	Error string
}

// ImportAcqDir registers the acquisition held in dir (whose base name is the
// acquisition name) and every regular file directly inside it, and records a
// present copy of each on nodeName. Files already registered only gain the
// copy, and only after their digest is compared with the registered one: a
// mismatch is recorded as a corrupt copy. Files that already have a copy on
// the node are not read again. Per-file failures are collected rather than
// aborting the import.
func (r *Registrar) ImportAcqDir(ctx context.Context, nodeName, dir string) (*ImportResult, error) {
	node, err := r.db.GetNode(ctx, nodeName)
	if err != nil {
		return nil, err
	}

	acq, created, err := r.RegisterAcq(ctx, filepath.Base(filepath.Clean(dir)), "")
	if err != nil {
		return nil, err
	}
	result := &ImportResult{Acq: acq, AcqCreated: created}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read acquisition directory: %w", err)
	}

	logger := r.logger.WithFields(logrus.Fields{"acq": acq.Name, "node": nodeName})
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, e.Name())
		f, err := r.db.GetFile(ctx, acq.ID, e.Name())
		has := database.FilePresent
		switch {
		case err == nil:
			result.Existing++
			has, err = r.checkExisting(ctx, f, node, path)
			if errors.Is(err, errHasCopy) {
				continue
			}
		case errors.Is(err, database.ErrNotFound):
			f, err = r.RegisterFile(ctx, acq, path)
			if errors.Is(err, ErrAlreadyRegistered) {
				// Registered by another process since the lookup.
				result.Existing++
				f, err = r.db.GetFile(ctx, acq.ID, e.Name())
			} else if err == nil {
				result.Registered++
			}
		}
		if err != nil {
			logger.WithError(err).WithField("file", e.Name()).Warn("skipping file")
			result.Failed = append(result.Failed, ImportFailure{Name: e.Name(), Error: err.Error()})
			continue
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
			if database.IsUniqueViolation(err) {
				continue
			}
			return result, err
		}
		result.Copies++
		if has == database.FileCorrupt {
			result.Corrupt++
		}
	}

	logger.WithFields(logrus.Fields{
		"registered": result.Registered,
		"existing":   result.Existing,
		"copies":     result.Copies,
		"corrupt":    result.Corrupt,
		"failed":     len(result.Failed),
	}).Info("imported acquisition")
	return result, nil
}

var errHasCopy = errors.New("copy already recorded on node")

// checkExisting digests the local file of an already registered file and
// returns the state its new copy should have. A file with no stored digest
// takes the local one.
func (r *Registrar) checkExisting(ctx context.Context, f *database.ArchiveFile, node *database.StorageNode, path string) (database.FileState, error) {
	if _, err := r.db.GetCopy(ctx, f.ID, node.ID); err == nil {
		return "", errHasCopy
	} else if !errors.Is(err, database.ErrNotFound) {
		return "", err
	}

	st, err := os.Stat(path)
	if err != nil {
		return "", &checksum.IOError{Path: path, Op: "stat", Err: err}
	}
	sum, err := r.checksumFile(ctx, path, st.Size())
	if err != nil {
		return "", err
	}

	if f.MD5Sum == "" {
		if err := r.db.UpdateFileChecksum(ctx, f.ID, st.Size(), sum); err != nil {
			return "", err
		}
		f.MD5Sum = sum
		return database.FilePresent, nil
	}
	if sum != f.MD5Sum {
		r.logger.WithFields(logrus.Fields{
			"file":     path,
			"node":     node.Name,
			"expected": f.MD5Sum,
			"actual":   sum,
		}).Warn("digest mismatch, recording corrupt copy")
		return database.FileCorrupt, nil
	}
	return database.FilePresent, nil
}
