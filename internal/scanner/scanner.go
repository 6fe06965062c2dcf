// Package scanner enumerates incoming photos and labeled reference folders.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/hyperjump/pawsort/internal/models"
)

// ProgressEvery is how many found photos pass between progress callbacks.
const ProgressEvery = 50

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// decodableTypes are the sniffed content types the request encoder can decode.
var decodableTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
}

// IsImageExt reports whether the file name has a known image extension.
func IsImageExt(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Scanner lists photos on the local filesystem.
type Scanner struct {
	sniff  bool
	logger *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger for skipped entries.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// WithContentSniffing enables detecting images without a known extension by content.
// Only formats the request encoder decodes are accepted.
func WithContentSniffing(enabled bool) Option {
	return func(s *Scanner) {
		s.sniff = enabled
	}
}

// New creates a scanner. Content sniffing is on by default.
func New(opts ...Option) *Scanner {
	s := &Scanner{sniff: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) isImage(path, name string) bool {
	if IsImageExt(name) {
		return true
	}
	if !s.sniff {
		return false
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	for _, t := range decodableTypes {
		if mt.Is(t) {
			return true
		}
	}
	if s.logger != nil && strings.HasPrefix(mt.String(), "image/") {
		s.logger.Warn("skipping undecodable image", zap.String("path", path), zap.String("type", mt.String()))
	}
	return false
}

// ListImages returns every image under root, depth-first in name order, using an explicit
// work stack. onFound (may be nil) gets the running count every ProgressEvery photos and
// once at the end unless that count was just reported.
func (s *Scanner) ListImages(ctx context.Context, root string, onFound func(found int)) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, models.Invalidf("incoming folder %s: %v", root, err)
	}
	if !info.IsDir() {
		return nil, models.Invalidf("incoming folder %s is not a directory", root)
	}

	var out []string
	stack := []string{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, models.Cancellation(ctx)
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root {
				return nil, fmt.Errorf("read %s: %w", dir, err)
			}
			if s.logger != nil {
				s.logger.Warn("skipping unreadable folder", zap.String("path", dir), zap.Error(err))
			}
			continue
		}
		// entries are sorted; push subfolders in reverse so they pop in order
		var subdirs []string
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if e.IsDir() {
				subdirs = append(subdirs, path)
				continue
			}
			if !e.Type().IsRegular() || !s.isImage(path, e.Name()) {
				continue
			}
			out = append(out, path)
			if onFound != nil && len(out)%ProgressEvery == 0 {
				onFound(len(out))
			}
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	if onFound != nil && (len(out) == 0 || len(out)%ProgressEvery != 0) {
		onFound(len(out))
	}
	return out, nil
}

// LoadReferences reads one class per subfolder of root. The class ID is the folder name
// in Unicode NFC; its images are the folder's direct image files. Folders without images
// are skipped. Result is sorted by class ID.
func (s *Scanner) LoadReferences(ctx context.Context, root string) ([]models.ClassReferences, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, models.Invalidf("reference folder %s: %v", root, err)
	}
	byID := make(map[string]int)
	var out []models.ClassReferences
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, models.Cancellation(ctx)
		}
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping unreadable class folder", zap.String("path", dir), zap.Error(err))
			}
			continue
		}
		var refs []string
		for _, f := range files {
			path := filepath.Join(dir, f.Name())
			if f.Type().IsRegular() && s.isImage(path, f.Name()) {
				refs = append(refs, path)
			}
		}
		if len(refs) == 0 {
			continue
		}
		classID := norm.NFC.String(e.Name())
		// NFC can merge folders whose names differ only in normalization form
		if i, ok := byID[classID]; ok {
			out[i].Refs = append(out[i].Refs, refs...)
			continue
		}
		byID[classID] = len(out)
		out = append(out, models.ClassReferences{ClassID: classID, Refs: refs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassID < out[j].ClassID })
	return out, nil
}
