package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex"
	"github.com/chime-experiment/dataindex/checksum"
	"github.com/chime-experiment/dataindex/database"
)

// VerifyOptions controls VerifyNode.
type VerifyOptions struct {
	// Checksum re-computes digests of present files and compares them to
	// the recorded md5sum. Without it only existence is checked.
	Checksum bool

	// DryRun reports what would change without updating any copy.
	DryRun bool

	// Store reads the node's files. Nil means the local directory tree
	// under the node root.
	Store NodeStore
}

// NodeStore reads files on a storage node by "<acq>/<file>" path.
type NodeStore interface {
	Exists(ctx context.Context, rel string) (bool, error)
	MD5(ctx context.Context, rel string) (string, error)
}

// DirStore is a NodeStore over a local directory.
type DirStore struct {
	Root    string
	BufSize int
}

func (s DirStore) path(rel string) string {
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// Exists reports whether rel is present under Root.
func (s DirStore) Exists(_ context.Context, rel string) (bool, error) {
	_, err := os.Stat(s.path(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// MD5 digests rel under Root.
func (s DirStore) MD5(_ context.Context, rel string) (string, error) {
	bufSize := s.BufSize
	if bufSize <= 0 {
		bufSize = checksum.DefaultBufferSize
	}
	return checksum.MD5FileBuffer(s.path(rel), bufSize)
}

// VerifyResult contains the results of a node verification.
type VerifyResult struct {
	Checked int
	Changed []CopyChange
	Failed  int
}

// CopyChange is a copy whose has_file state was found to differ from the
// recorded one.
type CopyChange struct {
	Path    string
	FileID  int64
	From    database.FileState
	To      database.FileState
	Applied bool
	Error   string
}

// VerifyNode walks every copy recorded on nodeName whose state is present or
// suspect and compares it with the file in opts.Store. Missing files
// become removed, digest mismatches become corrupt, and suspect copies whose
// digest matches become present again.
func (r *Registrar) VerifyNode(ctx context.Context, nodeName string, opts VerifyOptions) (*VerifyResult, error) {
	node, err := r.db.GetNode(ctx, nodeName)
	if err != nil {
		return nil, err
	}
	logger := r.logger.WithFields(logrus.Fields{"node": nodeName, "dry_run": opts.DryRun})
	if opts.Store == nil {
		opts.Store = DirStore{Root: node.Root, BufSize: r.bufSize}
	}

	result := &VerifyResult{}
	for _, state := range []database.FileState{database.FilePresent, database.FileSuspect} {
		copies, err := r.db.ListCopiesOnNode(ctx, node.ID, state)
		if err != nil {
			return nil, err
		}

		for _, c := range copies {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Checked++

			rel, to, err := r.checkCopy(ctx, c, opts)
			if err != nil {
				result.Failed++
				logger.WithError(err).WithField("file_id", c.FileID).Warn("failed to verify copy")
				continue
			}
			if to == c.HasFile {
				continue
			}

			change := CopyChange{Path: rel, FileID: c.FileID, From: c.HasFile, To: to}
			if !opts.DryRun {
				if err := r.db.SetCopyState(ctx, c.FileID, node.ID, to, c.WantsFile); err != nil {
					change.Error = err.Error()
					result.Failed++
				} else {
					change.Applied = true
				}
			}
			result.Changed = append(result.Changed, change)

			logger.WithFields(logrus.Fields{
				"file": rel,
				"from": c.HasFile.String(),
				"to":   to.String(),
			}).Info("copy state changed")
		}
	}
	return result, nil
}

// checkCopy returns the relative path of c and the state it should be in.
func (r *Registrar) checkCopy(ctx context.Context, c database.ArchiveFileCopy, opts VerifyOptions) (string, database.FileState, error) {
	f, err := r.db.GetFileByID(ctx, c.FileID)
	if err != nil {
		return "", c.HasFile, err
	}
	acq, err := r.db.GetAcqByID(ctx, f.AcqID)
	if err != nil {
		return "", c.HasFile, err
	}
	rel := dataindex.RelativePath(acq.Name, f.Name)

	ok, err := opts.Store.Exists(ctx, rel)
	if err != nil {
		return rel, c.HasFile, err
	}
	if !ok {
		return rel, database.FileRemoved, nil
	}

	if !opts.Checksum || f.MD5Sum == "" {
		return rel, c.HasFile, nil
	}

	sum, err := opts.Store.MD5(ctx, rel)
	if err != nil {
		return rel, c.HasFile, err
	}
	if sum != f.MD5Sum {
		return rel, database.FileCorrupt, nil
	}
	return rel, database.FilePresent, nil
}
