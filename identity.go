package dataindex

import (
	"fmt"
	"path"
	"strings"
)

// RelativePath returns the location of a file relative to a storage node
// root: "<acquisition>/<file>". This is the layout every node uses, so the
// same relative path identifies a file's copies across nodes and S3 keys.
func RelativePath(acqName, fileName string) string {
	return acqName + "/" + fileName
}

// SplitRelativePath is the inverse of RelativePath. Leading path components
// (an S3 prefix or a node root) are ignored: only the last two components
// are returned.
//
// Example:
//
//	acq, file, err := SplitRelativePath("archive/20190304T175519Z_stone_corr/00012345_0000.h5")
//	// acq == "20190304T175519Z_stone_corr", file == "00012345_0000.h5"
func SplitRelativePath(p string) (acqName, fileName string, err error) {
	clean := path.Clean(strings.TrimSpace(p))
	dir, file := path.Split(clean)
	dir = strings.TrimSuffix(dir, "/")
	acq := path.Base(dir)
	if file == "" || dir == "" || acq == "." || acq == "/" {
		return "", "", fmt.Errorf("path %q is not of the form <acquisition>/<file>", p)
	}
	return acq, file, nil
}
