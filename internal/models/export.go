package models

import "time"

// ExportRecord describes one export of a grouping to an output tree.
type ExportRecord struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	Target    string          `json:"target" db:"target"`
	Root      string          `json:"root" db:"root"`
	Total     int             `json:"total" db:"total"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	Files     []*ExportedFile `json:"files,omitempty" db:"-"`
}

// ExportedFile maps one source photo to its exported location.
type ExportedFile struct {
	ExportID  string  `json:"export_id" db:"export_id"`
	Bucket    string  `json:"bucket" db:"bucket"`
	SourceRef string  `json:"source_ref" db:"source_ref"`
	DestKey   string  `json:"dest_key" db:"dest_key"`
	Score     float32 `json:"score" db:"score"`
}
