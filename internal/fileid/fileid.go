// Package fileid provides a deterministic dataset ID from a file path for watched files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// DatasetID returns a stable dataset ID for the given absolute path.
// Same path always yields the same ID, so re-ingesting a watched file
// replaces its dataset instead of creating a new one.
func DatasetID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}
