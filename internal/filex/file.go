// Package filex contains small file helpers shared across the project.
package filex

import (
	"fmt"
	"os"
)

// MaxAttachmentSize caps how much of a local file the shell will read for
// one attachment. The staging endpoint enforces its own limit; this one
// keeps an accidental video out of the local store.
const MaxAttachmentSize = 32 << 20

// ReadCapped reads the file at path, refusing files larger than max bytes.
func ReadCapped(path string, max int64) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if fi.Size() > max {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, fi.Size(), max)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
