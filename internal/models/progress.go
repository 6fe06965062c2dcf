package models

// Phase names a session phase.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseScanning           Phase = "scanning"
	PhaseBuildingPrototypes Phase = "building_prototypes"
	PhaseEmbeddingIncoming  Phase = "embedding_incoming"
	PhaseClassifying        Phase = "classifying"
	PhaseExporting          Phase = "exporting"
	PhaseDone               Phase = "done"
	PhaseCancelled          Phase = "cancelled"
	PhaseFailed             Phase = "failed"
)

// Terminal reports whether no further transition can follow the phase.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseCancelled || p == PhaseFailed
}

// Progress is a progress event. Each variant carries only its own phase's counters.
type Progress interface {
	Phase() Phase
}

// ProgressFunc receives progress events in order. It must not block.
type ProgressFunc func(Progress)

// Scanning reports photos found so far in the incoming root.
type Scanning struct {
	Found int `json:"found"`
}

// BuildingPrototypes reports classes whose prototype is complete.
type BuildingPrototypes struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// EmbeddingIncoming is emitted before each incoming chunk is sent for embedding.
type EmbeddingIncoming struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Classifying reports classified photos.
type Classifying struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Exporting reports exported photos.
type Exporting struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Done marks a completed session.
type Done struct{}

// Cancelled marks a session stopped by cancellation.
type Cancelled struct{}

func (Scanning) Phase() Phase           { return PhaseScanning }
func (BuildingPrototypes) Phase() Phase { return PhaseBuildingPrototypes }
func (EmbeddingIncoming) Phase() Phase  { return PhaseEmbeddingIncoming }
func (Classifying) Phase() Phase        { return PhaseClassifying }
func (Exporting) Phase() Phase          { return PhaseExporting }
func (Done) Phase() Phase               { return PhaseDone }
func (Cancelled) Phase() Phase          { return PhaseCancelled }

// Counters returns done and total for a progress event. Scanning reports found as done
// with an unknown (zero) total.
func Counters(p Progress) (done, total int) {
	switch v := p.(type) {
	case Scanning:
		return v.Found, 0
	case BuildingPrototypes:
		return v.Done, v.Total
	case EmbeddingIncoming:
		return v.Done, v.Total
	case Classifying:
		return v.Done, v.Total
	case Exporting:
		return v.Done, v.Total
	default:
		return 0, 0
	}
}
