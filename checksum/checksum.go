// Package checksum computes the content digests stored in the data index.
//
// Digests are MD5, rendered as 32 lowercase hex characters so they match the
// output of the UNIX md5sum command. Files are streamed through a fixed-size
// buffer, so memory use does not depend on file size.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// DefaultBufferSize is the read block size used by MD5File.
const DefaultBufferSize = 256 * 128

// IOError reports that the content to checksum could not be read.
type IOError struct {
	Path string
	// Op is the failing operation: "open" or "read".
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("checksum %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// MD5File returns the hex MD5 digest of the file at path.
func MD5File(path string) (string, error) {
	return MD5FileBuffer(path, DefaultBufferSize)
}

// MD5FileBuffer is MD5File with an explicit read buffer size. The digest does
// not depend on bufSize; non-positive sizes use DefaultBufferSize.
func MD5FileBuffer(path string, bufSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &IOError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	sum, err := MD5Reader(f, bufSize)
	if err != nil {
		return "", &IOError{Path: path, Op: "read", Err: err}
	}
	return sum, nil
}

// MD5Reader returns the hex MD5 digest of everything read from r.
func MD5Reader(r io.Reader, bufSize int) (string, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	h := md5.New()
	buf := make([]byte, bufSize)
	// io.CopyBuffer would bypass buf if r implements WriterTo.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{r}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether s has the shape of a digest produced by this package.
func Valid(s string) bool {
	if len(s) != 2*md5.Size {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
