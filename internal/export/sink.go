// Package export writes a finished grouping to an output tree: one folder per bucket,
// sequentially named files, on local disk or in an S3 bucket.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/pawsort/internal/models"
)

// Sink stores exported files under slash-separated keys such as "rex/img_00000.jpg".
type Sink interface {
	Type() string
	Root() string
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
}

// dirMaker is implemented by sinks with real directories, so empty buckets still
// get a folder.
type dirMaker interface {
	MakeDir(ctx context.Context, dir string) error
}

// folderChecker is implemented by sinks that can tell whether a folder already holds
// files.
type folderChecker interface {
	HasFiles(ctx context.Context, dir string) (bool, error)
}

// LocalSink writes into a directory on the local filesystem.
type LocalSink struct {
	dir string
}

// NewLocalSink returns a sink rooted at dir.
func NewLocalSink(dir string) (*LocalSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output folder is required")
	}
	return &LocalSink{dir: dir}, nil
}

func (s *LocalSink) Type() string { return "local" }

func (s *LocalSink) Root() string { return s.dir }

func (s *LocalSink) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid file key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}

// MakeDir creates dir under the root.
func (s *LocalSink) MakeDir(ctx context.Context, dir string) error {
	p, err := s.path(dir)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0o755)
}

// HasFiles reports whether dir under the root exists and is not empty.
func (s *LocalSink) HasFiles(ctx context.Context, dir string) (bool, error) {
	p, err := s.path(dir)
	if err != nil {
		return false, err
	}
	entries, err := os.ReadDir(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// Save copies r to a new file at key. It fails if the file already exists.
func (s *LocalSink) Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	out, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return models.Invalidf("export target %s already exists", p)
		}
		return err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	return out.Close()
}

// NewSink returns the sink for target: "local" writes under dir, "s3" uploads to
// s3cfg.Bucket with dir, when set, replacing the configured prefix.
func NewSink(ctx context.Context, target, dir string, s3cfg S3Config) (Sink, error) {
	switch target {
	case "", "local":
		return NewLocalSink(dir)
	case "s3":
		if dir != "" {
			s3cfg.Prefix = dir
		}
		return NewS3Sink(ctx, s3cfg)
	}
	return nil, fmt.Errorf("unknown export target %q", target)
}
