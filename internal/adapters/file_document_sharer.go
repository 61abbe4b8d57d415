package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileDocumentSharer shares documents by writing them into a directory.
// The returned location is the absolute file path.
type FileDocumentSharer struct {
	dir    string
	logger *zap.Logger
}

// NewFileDocumentSharer creates dir if needed.
func NewFileDocumentSharer(dir string, logger *zap.Logger) (*FileDocumentSharer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("document sharer: directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("document sharer: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("document sharer: create %s: %w", abs, err)
	}
	return &FileDocumentSharer{dir: abs, logger: logger.Named("sharer")}, nil
}

// Share writes content to dir/name, replacing any existing file. name must
// be a plain file name.
func (s *FileDocumentSharer) Share(ctx context.Context, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("document sharer: invalid document name %q", name)
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("document sharer: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("document sharer: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("document sharer: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("document sharer: publish %s: %w", name, err)
	}
	s.logger.Debug("document written", zap.String("path", path), zap.Int("bytes", len(content)))
	return path, nil
}
