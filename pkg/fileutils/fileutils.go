/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package fileutils holds the small set of filesystem helpers the
// credential factory needs to stage cfssl inputs and outputs on disk.
package fileutils

import (
	"fmt"
	"os"
)

// WriteTempFile writes content to a new temporary file in dir (or the
// default temp directory when dir is empty) and returns its path. The
// caller owns the file and is responsible for removing it, typically via
// a defer registered immediately after this call returns.
func WriteTempFile(dir, pattern string, content []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating temp file %q: %w", pattern, err)
	}
	path := f.Name()

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("writing temp file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("closing temp file %q: %w", path, err)
	}
	return path, nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// EnsureDirectoryExists creates path (and any missing parents) if it does
// not already exist.
func EnsureDirectoryExists(path string) error {
	if FileExists(path) {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
