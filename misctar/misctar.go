// Package misctar reads the metadata of miscellaneous data tarballs.
//
// A misc tarball ("NNNNNNNN_<type>.misc.tar.gz", ".bz2" or ".xz") carries a
// METADATA.json member describing its contents. The reader streams the
// archive and decodes that member without extracting anything to disk.
//
// Archives are treated as untrusted: member names are sanitised, sizes and
// member counts are bounded, and a timeout bounds the scan.
package misctar

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// MetadataFile is the member holding a tarball's metadata.
const MetadataFile = "METADATA.json"

// ErrNoMetadata is returned when the archive has no METADATA.json member.
var ErrNoMetadata = errors.New("misc tarball has no " + MetadataFile)

// Options bounds the work done on one archive.
type Options struct {
	// MaxMetadataSize is the largest METADATA.json accepted (default: 1MB)
	MaxMetadataSize int64

	// MaxMembers is the number of members scanned before giving up (default: 100,000)
	MaxMembers int

	// Timeout is the maximum scan time (default: 5 minutes)
	Timeout time.Duration
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		MaxMetadataSize: 1 << 20,
		MaxMembers:      100000,
		Timeout:         5 * time.Minute,
	}
}

// Reader reads misc tarballs.
type Reader struct {
	logger logrus.FieldLogger
	opts   Options
}

// New creates a Reader with DefaultOptions.
func New() *Reader {
	return &Reader{
		logger: logrus.StandardLogger(),
		opts:   DefaultOptions(),
	}
}

// SetLogger sets a custom logger.
func (r *Reader) SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r.logger = logger
}

// SetOptions replaces the reader's limits.
func (r *Reader) SetOptions(opts Options) {
	r.opts = opts
}

// CompressionOf returns the compression suffix of a misc tarball name
// (".gz", ".bz2", ".xz" or "" for a plain tar).
func CompressionOf(name string) string {
	for _, ext := range []string{".gz", ".bz2", ".xz"} {
		if strings.HasSuffix(name, ".tar"+ext) {
			return ext
		}
	}
	return ""
}

// ReadMetadataFile opens the tarball at path and returns its metadata.
func (r *Reader) ReadMetadataFile(ctx context.Context, filePath string) (map[string]any, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tarball: %w", err)
	}
	defer f.Close()

	md, err := r.ReadMetadata(ctx, bufio.NewReader(f), CompressionOf(filePath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return md, nil
}

// ReadMetadata scans a tar stream compressed with compression (see
// CompressionOf) and decodes its METADATA.json member, which may sit at the
// top level or inside one leading directory. The member must hold a JSON
// object.
func (r *Reader) ReadMetadata(ctx context.Context, src io.Reader, compression string) (map[string]any, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	plain, closeFn, err := decompress(src, compression)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	tr := tar.NewReader(plain)
	for members := 0; ; members++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan cancelled: %w", err)
		}
		if r.opts.MaxMembers > 0 && members >= r.opts.MaxMembers {
			return nil, fmt.Errorf("member count limit exceeded: %d", r.opts.MaxMembers)
		}

		header, err := tr.Next()
		if err == io.EOF {
			return nil, ErrNoMetadata
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}

		name, err := sanitizeName(header.Name)
		if err != nil {
			r.logger.WithField("member", header.Name).Warn("skipping invalid member name")
			continue
		}
		if header.Typeflag != tar.TypeReg || !isMetadataMember(name) {
			continue
		}
		if err := validateHeader(header, r.opts); err != nil {
			return nil, fmt.Errorf("member %s: %w", header.Name, err)
		}
		return decodeMetadata(tr, header.Size)
	}
}

// decompress wraps src according to compression.
func decompress(src io.Reader, compression string) (io.Reader, func() error, error) {
	nop := func() error { return nil }
	switch compression {
	case "":
		return src, nop, nil
	case ".gz":
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return zr, zr.Close, nil
	case ".bz2":
		return bzip2.NewReader(src), nop, nil
	case ".xz":
		xr, err := xz.NewReader(src)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open xz stream: %w", err)
		}
		return xr, nop, nil
	}
	return nil, nil, fmt.Errorf("unsupported compression %q", compression)
}

// sanitizeName cleans a member name and rejects absolute or escaping paths.
func sanitizeName(name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if path.IsAbs(clean) {
		return "", fmt.Errorf("absolute paths not allowed: %s", name)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}
	return clean, nil
}

// isMetadataMember reports whether a sanitised member name is the metadata
// file, at the top level or one directory down.
func isMetadataMember(name string) bool {
	if path.Base(name) != MetadataFile {
		return false
	}
	return strings.Count(name, "/") <= 1
}

// validateHeader checks a metadata member against the size limit.
func validateHeader(header *tar.Header, opts Options) error {
	if header.Size < 0 {
		return fmt.Errorf("negative size")
	}
	if opts.MaxMetadataSize > 0 && header.Size > opts.MaxMetadataSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", header.Size, opts.MaxMetadataSize)
	}
	return nil
}

func decodeMetadata(rd io.Reader, size int64) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(rd, size))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", MetadataFile, err)
	}
	var md map[string]any
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", MetadataFile, err)
	}
	if md == nil {
		return nil, fmt.Errorf("invalid %s: not a JSON object", MetadataFile)
	}
	return md, nil
}
