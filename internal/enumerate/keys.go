package enumerate

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// KeyOptions controls how catalog and object keys are derived from a file name.
type KeyOptions struct {
	// KeyPrefix is prepended to the key as "<prefix>_<stem>".
	KeyPrefix string
	// Container replaces the file extension in the object key. Empty keeps the
	// original extension.
	Container string
}

// DeriveKeys returns the catalog key and object key for a file name.
func DeriveKeys(name string, opts KeyOptions) (key, objectKey string) {
	base := norm.NFC.String(path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	key = stem
	if prefix := strings.TrimSpace(opts.KeyPrefix); prefix != "" {
		key = norm.NFC.String(prefix) + "_" + stem
	}

	objectKey = base
	if container := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(opts.Container)), "."); container != "" {
		objectKey = stem + "." + container
	}
	return key, objectKey
}

// HasExtension reports whether name ends in one of exts (case-insensitive).
// exts are expected lower-case with a leading dot.
func HasExtension(name string, exts []string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, candidate := range exts {
		if ext == candidate {
			return true
		}
	}
	return false
}
