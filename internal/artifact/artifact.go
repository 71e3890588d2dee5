/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package artifact manages the transient files generated audio is written to
// before it is read back into memory.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/logging"
)

// Store allocates artifact locations inside a single directory.
type Store struct {
	dir string
	ext string
}

// NewStore creates the directory if needed. ext is the file extension
// without a leading dot (e.g., "wav").
func NewStore(dir, ext string) (*Store, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return nil, fmt.Errorf("artifact extension cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	return &Store{dir: dir, ext: ext}, nil
}

// Dir returns the directory artifacts are allocated in.
func (s *Store) Dir() string {
	return s.dir
}

// Allocate reserves a uniquely named location. Nothing is created on disk
// until the generator writes to Path.
func (s *Store) Allocate() *Artifact {
	name := uuid.New().String() + "." + s.ext
	return &Artifact{path: filepath.Join(s.dir, name)}
}

// Artifact is one transient audio file. It lives for exactly one request.
type Artifact struct {
	path string
}

// Path is where the generator writes its output.
func (a *Artifact) Path() string {
	return a.path
}

// Create opens the location for writing, truncating earlier output.
func (a *Artifact) Create() (*os.File, error) {
	return os.OpenFile(a.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
}

// Exists reports whether the location currently holds a file.
func (a *Artifact) Exists() bool {
	_, err := os.Stat(a.path)
	return err == nil
}

// ReadAll loads the whole artifact into memory.
func (a *Artifact) ReadAll() ([]byte, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Release deletes the artifact. Releasing a location that was never written
// is not an error, so Release is safe to defer right after Allocate.
func (a *Artifact) Release() error {
	err := os.Remove(a.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	logging.LogWarn("Failed to remove transient artifact",
		zap.String("path", a.path),
		zap.Error(err),
	)
	return fmt.Errorf("failed to remove artifact: %w", err)
}

// Consume reads the artifact and releases it, whether or not the read
// succeeded. A failed removal is logged by Release and does not discard
// audio that was already read.
func (a *Artifact) Consume() ([]byte, error) {
	defer func() { _ = a.Release() }()

	return a.ReadAll()
}
