package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSHA1 streams the file through SHA-1 and returns the lowercase hex digest.
func FileSHA1(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha1.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash %q: %w", filePath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteFileAtomic copies r into a temp file next to path, optionally verifies the
// SHA-1 of what was written, then renames it over path.
// An empty expectedSHA1 disables the integrity check.
func WriteFileAtomic(path string, r io.Reader, expectedSHA1 string) (int64, error) {
	if err := EnsureParent(path); err != nil {
		return 0, fmt.Errorf("ensure parent: %w", err)
	}

	// *.figaro.tmp.* is part of the default ignore list
	tempFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".figaro.tmp.*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	hasher := sha1.New()
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), r)
	if err != nil {
		return written, fmt.Errorf("write temp file: %w", err)
	}

	if expectedSHA1 != "" {
		if computed := hex.EncodeToString(hasher.Sum(nil)); computed != expectedSHA1 {
			return written, fmt.Errorf("integrity check failed expected %q got %q", expectedSHA1, computed)
		}
	}

	if err := tempFile.Sync(); err != nil {
		return written, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return written, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return written, fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	success = true
	return written, nil
}
