// Package session runs one classification session: scan, build prototypes, then embed
// and classify incoming photos chunk by chunk.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/classify"
	"github.com/hyperjump/pawsort/internal/codec"
	"github.com/hyperjump/pawsort/internal/embedding"
	"github.com/hyperjump/pawsort/internal/grouping"
	"github.com/hyperjump/pawsort/internal/models"
	"github.com/hyperjump/pawsort/internal/prototype"
	"github.com/hyperjump/pawsort/internal/vector"
)

// ClassifyProgressEvery is how many classified photos pass between progress events.
const ClassifyProgressEvery = 50

// ErrBusy is returned when Run is called while the engine is running a session.
var ErrBusy = errors.New("a session is already running on this engine")

// Scanner enumerates photos for a session.
type Scanner interface {
	ListImages(ctx context.Context, root string, onFound func(found int)) ([]string, error)
	LoadReferences(ctx context.Context, root string) ([]models.ClassReferences, error)
}

// Outcome is the result of a completed session.
type Outcome struct {
	ID           string
	Config       models.SessionConfig
	Groups       *grouping.Store
	Index        vector.Index // nil unless vectors were kept
	Prototypes   []models.Prototype
	ModelVersion string
	Dimension    int
	Total        int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Engine runs sessions one at a time.
type Engine struct {
	embedder embedding.Embedder
	scanner  Scanner
	logger   *zap.Logger

	mu      sync.Mutex
	phase   models.Phase
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for phase transitions.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine using the given embedding service and scanner.
func NewEngine(emb embedding.Embedder, sc Scanner, opts ...Option) *Engine {
	e := &Engine{embedder: emb, scanner: sc, phase: models.PhaseIdle}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase returns the current state of the engine.
func (e *Engine) Phase() models.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p models.Phase) {
	e.mu.Lock()
	prev := e.phase
	e.phase = p
	e.mu.Unlock()
	if e.logger != nil && prev != p {
		e.logger.Debug("session phase", zap.String("from", string(prev)), zap.String("to", string(p)))
	}
}

// run is one session's mutable state; it never escapes unless the session completes.
type run struct {
	cfg        models.SessionConfig
	dtype      codec.DType
	onProgress models.ProgressFunc
}

func (r *run) emit(p models.Progress) {
	if r.onProgress != nil {
		r.onProgress(p)
	}
}

// Run executes a full session. It returns the outcome only on success; on failure or
// cancellation it returns exactly one error and discards everything built so far.
// Cancellation of ctx is observed between chunks; an embed call already in flight is
// allowed to finish.
func (e *Engine) Run(ctx context.Context, cfg models.SessionConfig, onProgress models.ProgressFunc) (*Outcome, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	r := &run{cfg: cfg, onProgress: onProgress}
	out, err := e.run(ctx, r)
	switch {
	case err == nil:
		e.setPhase(models.PhaseDone)
		r.emit(models.Done{})
		if e.logger != nil {
			e.logger.Info("session done",
				zap.String("session", out.ID),
				zap.Int("photos", out.Total),
				zap.Int("classes", len(out.Prototypes)),
				zap.Duration("took", out.FinishedAt.Sub(out.StartedAt)))
		}
		return out, nil
	case models.KindOf(err) == models.KindCancelled:
		e.setPhase(models.PhaseCancelled)
		r.emit(models.Cancelled{})
		if e.logger != nil {
			e.logger.Info("session cancelled")
		}
		return nil, err
	default:
		e.setPhase(models.PhaseFailed)
		if e.logger != nil {
			e.logger.Error("session failed", zap.String("kind", string(models.KindOf(err))), zap.Error(err))
		}
		return nil, err
	}
}

func validateConfig(cfg models.SessionConfig) (codec.DType, error) {
	if cfg.IncomingRoot == "" {
		return 0, models.Invalidf("incoming folder is not set")
	}
	if cfg.ReferenceRoot == "" {
		return 0, models.Invalidf("reference folder is not set")
	}
	if cfg.BatchSize < 1 {
		return 0, models.Invalidf("batch size must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.UnknownThreshold < 0 || cfg.UnknownThreshold > 1 {
		return 0, models.Invalidf("unknown threshold must be within [0,1], got %v", cfg.UnknownThreshold)
	}
	dtype, err := codec.ParseDType(cfg.EmbeddingFormat)
	if err != nil {
		return 0, &models.ValidationError{Reason: err.Error()}
	}
	return dtype, nil
}

func (e *Engine) run(ctx context.Context, r *run) (*Outcome, error) {
	started := time.Now()
	dtype, err := validateConfig(r.cfg)
	if err != nil {
		return nil, err
	}
	r.dtype = dtype

	// scanning
	e.setPhase(models.PhaseScanning)
	r.emit(models.Scanning{Found: 0})
	photos, err := e.scanner.ListImages(ctx, r.cfg.IncomingRoot, func(found int) {
		r.emit(models.Scanning{Found: found})
	})
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, models.Invalidf("no photos found in %s", r.cfg.IncomingRoot)
	}
	if ctx.Err() != nil {
		return nil, models.Cancellation(ctx)
	}
	classes, err := e.scanner.LoadReferences(ctx, r.cfg.ReferenceRoot)
	if err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, models.Invalidf("no reference classes found in %s", r.cfg.ReferenceRoot)
	}

	// prototypes
	if ctx.Err() != nil {
		return nil, models.Cancellation(ctx)
	}
	e.setPhase(models.PhaseBuildingPrototypes)
	r.emit(models.BuildingPrototypes{Done: 0, Total: len(classes)})
	builder := prototype.NewBuilder(e.embedder, r.cfg.BatchSize, dtype, prototype.WithLogger(e.logger))
	built, err := builder.Build(ctx, classes, r.onProgress)
	if err != nil {
		return nil, err
	}
	if e.logger != nil {
		e.logger.Info("prototypes built",
			zap.Int("classes", len(built.Prototypes)),
			zap.Int("dim", built.Dimension),
			zap.String("model", built.ModelVersion))
	}

	// incoming
	out := &Outcome{
		ID:           uuid.NewString(),
		Config:       r.cfg,
		Groups:       grouping.NewStore(),
		Prototypes:   built.Prototypes,
		ModelVersion: built.ModelVersion,
		Dimension:    built.Dimension,
		StartedAt:    started,
	}
	if r.cfg.KeepVectors {
		idx, err := vector.NewMemoryIndex(built.Dimension)
		if err != nil {
			return nil, err
		}
		out.Index = idx
	}
	if err := e.classifyIncoming(ctx, r, photos, out); err != nil {
		return nil, err
	}

	// a cancel that lands during the last chunk still wins over Done
	if ctx.Err() != nil {
		return nil, models.Cancellation(ctx)
	}
	out.Total = out.Groups.Total()
	out.FinishedAt = time.Now()
	return out, nil
}

func (e *Engine) classifyIncoming(ctx context.Context, r *run, photos []string, out *Outcome) error {
	total := len(photos)
	cls := classify.New(r.cfg.TopK, r.cfg.UnknownThreshold)
	done := 0
	classifyStarted := false

	for start := 0; start < total; start += r.cfg.BatchSize {
		if ctx.Err() != nil {
			return models.Cancellation(ctx)
		}
		end := min(start+r.cfg.BatchSize, total)
		chunk := photos[start:end]

		e.setPhase(models.PhaseEmbeddingIncoming)
		r.emit(models.EmbeddingIncoming{Done: done, Total: total})
		res, err := e.embedder.EmbedBatch(context.WithoutCancel(ctx), chunk, r.dtype)
		if err != nil {
			return fmt.Errorf("embed photos %d-%d: %w", start+1, end, err)
		}
		batch := res.Batch
		if batch.N != len(chunk) {
			return models.Formatf("service returned %d rows for %d photos", batch.N, len(chunk))
		}
		if batch.D != out.Dimension {
			return models.Formatf("photo embedding dimension %d does not match prototype dimension %d", batch.D, out.Dimension)
		}
		if res.ModelVersion != "" && out.ModelVersion != "" && res.ModelVersion != out.ModelVersion && e.logger != nil {
			e.logger.Warn("model version changed mid-session",
				zap.String("prototypes", out.ModelVersion),
				zap.String("photos", res.ModelVersion))
		}

		e.setPhase(models.PhaseClassifying)
		if !classifyStarted {
			classifyStarted = true
			r.emit(models.Classifying{Done: done, Total: total})
		}
		for i, ref := range chunk {
			row := batch.Row(i)
			out.Groups.Add(models.PhotoItem{SourceRef: ref, Assignment: cls.Row(row, out.Prototypes)})
			if out.Index != nil {
				if err := out.Index.Add(ctx, []string{ref}, [][]float32{row}); err != nil {
					return err
				}
			}
			done++
			if done%ClassifyProgressEvery == 0 && done != total {
				r.emit(models.Classifying{Done: done, Total: total})
			}
		}
	}
	r.emit(models.Classifying{Done: done, Total: total})
	return nil
}
