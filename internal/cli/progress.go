package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v2"

	"github.com/hyperjump/pawsort/internal/models"
)

var phaseLabels = map[models.Phase]string{
	models.PhaseBuildingPrototypes: "Building prototypes",
	models.PhaseEmbeddingIncoming:  "Embedding photos   ",
	models.PhaseClassifying:        "Classifying        ",
	models.PhaseExporting:          "Exporting          ",
}

// ProgressReporter renders session progress events on a terminal, one bar per phase.
type ProgressReporter struct {
	mu    sync.Mutex
	w     io.Writer
	phase models.Phase
	bar   *progressbar.ProgressBar
	done  int
	found int
}

// NewProgressReporter returns a reporter writing to w.
func NewProgressReporter(w io.Writer) *ProgressReporter {
	return &ProgressReporter{w: w}
}

// Report handles one event. It can be passed as a models.ProgressFunc.
func (r *ProgressReporter) Report(p models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch v := p.(type) {
	case models.Scanning:
		r.found = v.Found
		fmt.Fprintf(r.w, "\rScanning: %d photos found", v.Found)
		r.phase = models.PhaseScanning
		return
	case models.Done, models.Cancelled:
		r.finish()
		if _, ok := v.(models.Cancelled); ok {
			fmt.Fprintln(r.w, "Cancelled.")
		}
		r.phase = p.Phase()
		return
	}

	done, total := models.Counters(p)
	if p.Phase() != r.phase || r.bar == nil {
		r.finish()
		r.phase = p.Phase()
		r.bar = progressbar.NewOptions(max(total, 1),
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetDescription(phaseLabels[r.phase]),
		)
		r.done = 0
	}
	if done > r.done {
		_ = r.bar.Add(done - r.done)
		r.done = done
	}
}

// finish closes the current bar, or the scanning line.
func (r *ProgressReporter) finish() {
	switch {
	case r.bar != nil:
		_ = r.bar.Finish()
		fmt.Fprintln(r.w)
		r.bar = nil
	case r.phase == models.PhaseScanning:
		fmt.Fprintln(r.w)
	}
}

// Phase returns the phase of the last event.
func (r *ProgressReporter) Phase() models.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}
