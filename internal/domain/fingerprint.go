package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NormalizeFileName reduces an uploaded name to the form used for
// deduplication: base name, trimmed, lowercased.
func NormalizeFileName(name string) string {
	return strings.ToLower(strings.TrimSpace(filepath.Base(name)))
}

// ComputeFingerprint derives the dedup key from scope, normalized file name
// and declared size. The file bytes are deliberately not hashed: two uploads
// of the same name and size within a scope are treated as the same document.
func ComputeFingerprint(tenantID, schoolID uuid.UUID, fileName string, sizeBytes int64) string {
	composite := fmt.Sprintf("%s:%s:%s:%d", tenantID, schoolID, NormalizeFileName(fileName), sizeBytes)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
