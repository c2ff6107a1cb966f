// Package security validates local file paths handed to the service.
package security

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotRegularFile is returned for directories, devices and sockets.
	ErrNotRegularFile = errors.New("not a regular file")
	// ErrFileTooLarge is returned when a file exceeds the read limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

// dangerousChars contains shell metacharacters that could be used for injection attacks.
var dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "{", "}", "<", ">", "!", "\n", "\r"}

// ValidateFilePath cleans path, makes it absolute and resolves symlinks.
// Paths containing shell metacharacters are rejected.
func ValidateFilePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}

	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return "", fmt.Errorf("file path contains forbidden character %q: %s", char, path)
		}
	}

	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cleanPath, nil
		}
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}
	return resolvedPath, nil
}

// ReadImageFile reads a local image for upload. The path must name a
// regular file of at most maxBytes; maxBytes <= 0 disables the limit.
func ReadImageFile(path string, maxBytes int64) ([]byte, error) {
	cleanPath, err := ValidateFilePath(path)
	if err != nil {
		return nil, err
	}

	// #nosec G304 - path is validated above
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	if maxBytes <= 0 {
		return io.ReadAll(f)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrFileTooLarge, path, info.Size(), maxBytes)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, path)
	}
	return content, nil
}
