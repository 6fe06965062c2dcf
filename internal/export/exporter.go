package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/grouping"
	"github.com/hyperjump/pawsort/internal/models"
)

const (
	// UnknownFolder is the folder name of the unknown bucket.
	UnknownFolder = "unknown"
	// ProgressEvery is how many exported files pass between progress events.
	ProgressEvery = 25
)

// Recorder persists export history.
type Recorder interface {
	CreateExport(ctx context.Context, rec *models.ExportRecord) error
}

// Exporter copies grouped photos into a sink.
type Exporter struct {
	sink     Sink
	recorder Recorder
	logger   *zap.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(x *Exporter) {
		x.logger = l
	}
}

// WithRecorder stores each finished export.
func WithRecorder(r Recorder) Option {
	return func(x *Exporter) {
		x.recorder = r
	}
}

// New returns an exporter writing to sink.
func New(sink Sink, opts ...Option) *Exporter {
	x := &Exporter{sink: sink}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// FolderName maps a bucket key to an output folder name.
func FolderName(key string) string {
	if key == models.UnknownKey {
		return UnknownFolder
	}
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(key))
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// FolderNames assigns every bucket its own output folder, in bucket order. Keys that map
// to the same FolderName, ignoring case, get a _1, _2, ... suffix, so the unknown bucket
// keeps "unknown" and a class named "unknown" exports to "unknown_1".
func FolderNames(buckets []grouping.Bucket) []string {
	used := make(map[string]bool, len(buckets))
	names := make([]string, len(buckets))
	for i, b := range buckets {
		base := FolderName(b.Key)
		name := base
		for n := 1; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

// FileName returns the sequential file name of the idx-th photo in a bucket, keeping
// the source extension.
func FileName(idx int, sourceRef string) string {
	ext := strings.ToLower(filepath.Ext(sourceRef))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("img_%05d%s", idx, ext)
}

// Export writes every photo of the snapshot, bucket by bucket. onProgress receives an
// Exporting event every ProgressEvery files and once at the end. Existing files are never
// overwritten: when the sink can list folders, an export into a folder that already holds
// files fails with a ValidationError before anything is written.
func (x *Exporter) Export(ctx context.Context, sessionID string, snap *grouping.Result, onProgress models.ProgressFunc) (*models.ExportRecord, error) {
	total := snap.Total()
	rec := &models.ExportRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Target:    x.sink.Type(),
		Root:      x.sink.Root(),
		Total:     total,
		CreatedAt: time.Now().UTC(),
		Files:     make([]*models.ExportedFile, 0, total),
	}
	emit := func(done int) {
		if onProgress != nil {
			onProgress(models.Exporting{Done: done, Total: total})
		}
	}
	folders := FolderNames(snap.Buckets)
	if fc, ok := x.sink.(folderChecker); ok {
		for _, folder := range folders {
			used, err := fc.HasFiles(ctx, folder)
			if err != nil {
				return nil, fmt.Errorf("check folder %s: %w", folder, err)
			}
			if used {
				return nil, models.Invalidf("export folder %s/%s already has files; export into an empty folder", x.sink.Root(), folder)
			}
		}
	}
	emit(0)

	dm, hasDirs := x.sink.(dirMaker)
	done := 0
	for bi, b := range snap.Buckets {
		folder := folders[bi]
		if hasDirs {
			if err := dm.MakeDir(ctx, folder); err != nil {
				return nil, fmt.Errorf("create folder %s: %w", folder, err)
			}
		}
		for idx, item := range b.Items {
			if ctx.Err() != nil {
				return nil, models.Cancellation(ctx)
			}
			key := folder + "/" + FileName(idx, item.SourceRef)
			if err := x.copy(ctx, item.SourceRef, key); err != nil {
				if x.logger != nil {
					x.logger.Error("export failed", zap.String("source", item.SourceRef), zap.String("key", key), zap.Error(err))
				}
				return nil, err
			}
			score := item.Assignment.BestScore
			rec.Files = append(rec.Files, &models.ExportedFile{
				ExportID:  rec.ID,
				Bucket:    b.Key,
				SourceRef: item.SourceRef,
				DestKey:   key,
				Score:     score,
			})
			done++
			if done%ProgressEvery == 0 && done != total {
				emit(done)
			}
		}
	}
	emit(done)

	if x.recorder != nil {
		if err := x.recorder.CreateExport(ctx, rec); err != nil {
			return nil, fmt.Errorf("record export: %w", err)
		}
	}
	if x.logger != nil {
		x.logger.Info("export complete",
			zap.String("export", rec.ID),
			zap.String("target", rec.Target),
			zap.String("root", rec.Root),
			zap.Int("files", done))
	}
	return rec, nil
}

func (x *Exporter) copy(ctx context.Context, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source photo: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat source photo: %w", err)
	}
	return x.sink.Save(ctx, key, f, info.Size())
}
