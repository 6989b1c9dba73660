package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/tinoosan/devsync/internal/data"
)

// NormalizeProduct trims whitespace and lowercases the product path name so
// "090C" and "090c" agree.
func NormalizeProduct(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// NormalizeName trims whitespace and strips the in-progress marker, so a
// partially transferred file shares the fingerprint of its final name.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	return strings.TrimPrefix(name, data.DownloadingPrefix)
}

// Fingerprint computes a stable hex-encoded SHA-256 identifying one remote
// file: its product, name and size. History entries of repeated attempts at
// the same file share it.
func Fingerprint(product, name string, size float64) string {
	h := sha256.New()
	// NUL cannot appear in any of the fields.
	h.Write([]byte(NormalizeProduct(product)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeName(name)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(size, 'f', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}
