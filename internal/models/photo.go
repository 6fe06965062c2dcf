// Package models defines core data structures for photos, prototypes, assignments and sessions.
package models

// UnknownKey is the bucket key for photos without a confident class match.
const UnknownKey = "__unknown__"

// NoScore is the BestScore of an assignment made without any prototype.
const NoScore float32 = -1

// ClassReferences lists the reference photos of one labeled class.
type ClassReferences struct {
	ClassID string   `json:"class_id"`
	Refs    []string `json:"refs"`
}

// Prototype is the mean, L2-normalized embedding of one class.
type Prototype struct {
	ClassID string    `json:"class_id"`
	Vector  []float32 `json:"-"`
}

// Candidate is one scored class for a photo. Score is a dot product; it reads as
// cosine similarity only when both operands were normalized.
type Candidate struct {
	ClassID string  `json:"class_id"`
	Score   float32 `json:"score"`
}

// Assignment is the classification outcome of one photo.
// An empty BestClassID means the photo is unknown.
type Assignment struct {
	BestClassID string      `json:"best_class_id,omitempty"`
	BestScore   float32     `json:"best_score"`
	Top         []Candidate `json:"top"`
}

// IsUnknown reports whether the assignment has no class.
func (a Assignment) IsUnknown() bool {
	return a.BestClassID == ""
}

// Key returns the bucket key for the assignment.
func (a Assignment) Key() string {
	if a.IsUnknown() {
		return UnknownKey
	}
	return a.BestClassID
}

// Clone returns a deep copy of the assignment.
func (a Assignment) Clone() Assignment {
	out := a
	if a.Top != nil {
		out.Top = append([]Candidate(nil), a.Top...)
	}
	return out
}

// PhotoItem is one classified photo. SourceRef is unique per photo.
type PhotoItem struct {
	SourceRef  string     `json:"source_ref"`
	Assignment Assignment `json:"assignment"`
}

// ClassKey normalizes a class id given by a caller: empty or UnknownKey both mean unknown.
func ClassKey(classID string) string {
	if classID == "" || classID == UnknownKey {
		return UnknownKey
	}
	return classID
}

// SessionConfig holds the settings of one classification run.
type SessionConfig struct {
	BaseURL          string  `json:"base_url"`
	IncomingRoot     string  `json:"incoming_root"`
	ReferenceRoot    string  `json:"reference_root"`
	OutputRoot       string  `json:"output_root"`
	TopK             int     `json:"top_k"`
	UnknownThreshold float32 `json:"unknown_threshold"`
	BatchSize        int     `json:"batch_size"`
	// EmbeddingFormat is the requested response encoding: "f32" or "f16".
	EmbeddingFormat string `json:"embedding_format"`
	KeepVectors     bool   `json:"keep_vectors"`
}
