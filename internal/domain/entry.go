package domain

import "time"

// DateLayout is the calendar-date format used everywhere in the planner.
// Dates carry no time component.
const DateLayout = "2006-01-02"

// Kind classifies an entry.
type Kind string

const (
	KindTask         Kind = "task"
	KindNote         Kind = "note"
	KindExam         Kind = "exam"
	KindStudySession Kind = "study_session"
)

// Entry is a single scheduled item: homework, a note, an exam, or a
// generated study session.
type Entry struct {
	// ID is assigned fresh on every creation and never derived from content,
	// except for study sessions whose ID is derived from (parent ID, offset)
	// so regeneration is idempotent.
	ID string `json:"id"`

	// Fingerprint is the content hash of the originally imported
	// (date, subject, task). Empty for manually created entries. Used only
	// for import-time deduplication; the entry keeps it even after the user
	// moves or edits the entry.
	Fingerprint string `json:"fingerprint,omitempty"`

	Kind    Kind   `json:"kind"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
	Task    string `json:"task"`

	Completed bool `json:"completed"`

	// Position orders entries sharing the same date. Not globally unique
	// and not necessarily contiguous.
	Position int `json:"position"`

	// ParentID links a study session to the exam that generated it. Empty
	// once the parent is deleted without cascade.
	ParentID string `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGenerated reports whether the entry was produced by the schedule
// generator and still points at its parent.
func (e Entry) IsGenerated() bool {
	return e.ParentID != ""
}

// IsOrphaned reports whether the entry is a study session whose parent exam
// was deleted without cascading.
func (e Entry) IsOrphaned() bool {
	return e.Kind == KindStudySession && e.ParentID == ""
}
