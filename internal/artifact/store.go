// Package artifact manages per-request scratch and output namespaces on disk.
// Every media request gets a uuid-keyed directory pair; scratch is removed
// unconditionally when the request finishes, output survives until the
// retention sweep or a fetch-and-discard policy reclaims it.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPathEscape is returned by Resolve for any path that would land outside
// the managed output root.
var ErrPathEscape = errors.New("path escapes managed root")

// Namespace is the filesystem arena reserved for a single request.
type Namespace struct {
	ID         string
	Kind       string
	ScratchDir string
	OutputDir  string
}

// Store hands out request-scoped namespaces under two managed roots.
type Store struct {
	scratchRoot string
	outputRoot  string
	logger      *zap.Logger
}

// NewStore creates both managed roots if they do not exist yet.
func NewStore(scratchRoot, outputRoot string, logger *zap.Logger) (*Store, error) {
	scratchRoot, err := filepath.Abs(scratchRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scratch root: %w", err)
	}
	outputRoot, err = filepath.Abs(outputRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output root: %w", err)
	}

	if err := os.MkdirAll(scratchRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}

	logger.Info("Artifact store initialized",
		zap.String("scratch_root", scratchRoot),
		zap.String("output_root", outputRoot))

	return &Store{
		scratchRoot: scratchRoot,
		outputRoot:  outputRoot,
		logger:      logger,
	}, nil
}

// Allocate mints a fresh request identifier and reserves its directory pair.
// The identifier is a v4 uuid, never wall-clock derived, so concurrent bursts
// cannot collide.
func (s *Store) Allocate(kind string) (*Namespace, error) {
	id := uuid.New().String()

	ns := &Namespace{
		ID:         id,
		Kind:       kind,
		ScratchDir: filepath.Join(s.scratchRoot, id),
		OutputDir:  filepath.Join(s.outputRoot, id),
	}

	if err := os.Mkdir(ns.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch namespace: %w", err)
	}
	if err := os.Mkdir(ns.OutputDir, 0755); err != nil {
		os.RemoveAll(ns.ScratchDir)
		return nil, fmt.Errorf("failed to create output namespace: %w", err)
	}

	return ns, nil
}

// Materialize writes an uploaded byte stream into the namespace's scratch
// directory. The file is fully flushed and closed before the path is handed
// downstream.
func (s *Store) Materialize(ns *Namespace, name string, r io.Reader) (string, error) {
	// filepath.Base strips any client-supplied directory components.
	path := filepath.Join(ns.ScratchDir, filepath.Base(name))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to flush scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close scratch file: %w", err)
	}

	return path, nil
}

// Resolve maps a caller-supplied relative path to an absolute location under
// the output root. Anything that traverses outside the root is rejected with
// ErrPathEscape, never partially resolved.
func (s *Store) Resolve(relative string) (string, error) {
	if relative == "" || filepath.IsAbs(relative) {
		return "", ErrPathEscape
	}

	full := filepath.Join(s.outputRoot, filepath.FromSlash(relative))

	rel, err := filepath.Rel(s.outputRoot, full)
	if err != nil {
		return "", ErrPathEscape
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	return full, nil
}

// Relative converts an absolute output path back into the caller-facing
// handle. The relative path is the sole reference returned to clients.
func (s *Store) Relative(outputPath string) (string, error) {
	rel, err := filepath.Rel(s.outputRoot, outputPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return filepath.ToSlash(rel), nil
}

// Release removes the namespace's scratch directory. It runs on every request
// exit path and is idempotent; output artifacts are left untouched.
func (s *Store) Release(ns *Namespace) {
	if ns == nil {
		return
	}
	if err := os.RemoveAll(ns.ScratchDir); err != nil {
		s.logger.Warn("Failed to release scratch namespace",
			zap.String("request_id", ns.ID), zap.Error(err))
	}
}

// DiscardOutput removes a request's output namespace. Used by the retention
// sweep and when a request fails before producing a fetchable artifact.
func (s *Store) DiscardOutput(id string) error {
	if id == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.outputRoot, id))
}
