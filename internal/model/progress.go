package model

import "time"

// Outcome is the result kind of ingesting one unit.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeConflict Outcome = "conflict"
	OutcomeError    Outcome = "error"
)

// Stats tallies batch outcomes.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Error   int `json:"error"`
}

// Add increments the counter for o. Conflicts count as skipped.
func (s *Stats) Add(o Outcome) {
	switch o {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped, OutcomeConflict:
		s.Skipped++
	case OutcomeError:
		s.Error++
	}
}

// Total returns the number of tallied units.
func (s Stats) Total() int {
	return s.Created + s.Updated + s.Skipped + s.Error
}

// Progress is the persisted batch checkpoint.
type Progress struct {
	OuterIndex    int       `json:"outerIndex"`
	InnerIndex    int       `json:"innerIndex"`
	ProcessedKeys []string  `json:"processedKeys"`
	Stats         Stats     `json:"stats"`
	StartedAt     time.Time `json:"startedAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// NewProgress returns a zeroed checkpoint.
func NewProgress(now time.Time) *Progress {
	return &Progress{ProcessedKeys: []string{}, StartedAt: now, UpdatedAt: now}
}

// Checkpoint is a raw persisted checkpoint row.
type Checkpoint struct {
	JobName   string    `json:"job_name"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}
