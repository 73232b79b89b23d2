// Package fileid derives stable item names for files imported from disk.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// ResourceName returns a stable item name for a file at the given path.
// The same path always yields the same name, so re-importing a file
// overwrites its previous item instead of creating a duplicate. Files with
// the same base name in different directories stay distinct through a short
// hash of the full path.
func ResourceName(absolutePath string) string {
	clean := filepath.Clean(absolutePath)
	base := strings.ToLower(filepath.Base(clean))
	base = strings.ReplaceAll(base, " ", "-")
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext) + strings.ReplaceAll(ext, ".", "_")
	}
	hash := sha256.Sum256([]byte(clean))
	return base + "-" + hex.EncodeToString(hash[:4])
}
