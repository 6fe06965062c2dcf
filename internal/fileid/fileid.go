// Package fileid derives stable identifiers for photo files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const prefix = "photo:"

// PhotoID returns a stable ID for the given path. Same cleaned path, same ID.
func PhotoID(path string) string {
	normalized := filepath.Clean(path)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// Fingerprint identifies a photo's current content by path, size and modification time.
// Editing or replacing the file changes the fingerprint.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat photo: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	raw := fmt.Sprintf("%s|%d|%d", filepath.Clean(path), info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(raw))
	return prefix + hex.EncodeToString(hash[:]), nil
}
