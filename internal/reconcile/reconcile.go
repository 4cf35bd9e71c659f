// Package reconcile merges freshly parsed export candidates into the store.
// The merge is idempotent: a candidate whose content fingerprint is already
// present is skipped, no matter where the matching entry has been moved or
// how it has been edited since.
package reconcile

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gmarchetti/diario/internal/domain"
	"github.com/gmarchetti/diario/internal/fingerprint"
	"github.com/gmarchetti/diario/internal/storage"
	"github.com/gmarchetti/diario/internal/studyplan"
)

// Candidate is a parsed record before fingerprinting and id assignment.
type Candidate struct {
	Kind    domain.Kind
	Date    string
	Subject string
	Task    string
}

// Result summarizes one merge run.
type Result struct {
	Inserted int
	Skipped  int
	Sessions int
	Errors   []error
}

// Engine merges candidate batches and hands exam-like inserts to the
// schedule generator.
type Engine struct {
	db  *storage.DB
	gen *studyplan.Generator
}

// NewEngine creates a reconciliation engine.
func NewEngine(db *storage.DB, gen *studyplan.Generator) *Engine {
	return &Engine{db: db, gen: gen}
}

// Merge reconciles a batch of candidates into the store. A failure on one
// candidate is recorded and the batch continues; the merge is not atomic
// across candidates, but each candidate's dedup check and insert is.
func (e *Engine) Merge(candidates []Candidate) Result {
	var res Result
	for _, c := range candidates {
		entry := domain.Entry{
			ID:          uuid.NewString(),
			Fingerprint: fingerprint.Sum(c.Date, c.Subject, c.Task),
			Kind:        c.Kind,
			Date:        c.Date,
			Subject:     c.Subject,
			Task:        c.Task,
		}
		now := time.Now().UTC()
		entry.CreatedAt = now
		entry.UpdatedAt = now

		inserted, err := e.db.InsertImported(entry)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("merging %s: %w", entry.Fingerprint, err))
			continue
		}
		if !inserted {
			res.Skipped++
			continue
		}
		res.Inserted++
		slog.Debug("new entry imported", "id", entry.ID, "date", entry.Date, "subject", entry.Subject)

		if studyplan.IsExam(entry.Task) {
			res.Sessions += e.generateSessions(entry, &res)
		}
	}
	return res
}

func (e *Engine) generateSessions(exam domain.Entry, res *Result) int {
	created := 0
	for _, session := range e.gen.Sessions(exam) {
		inserted, err := e.db.InsertGenerated(session)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("generating session %s: %w", session.ID, err))
			continue
		}
		if inserted {
			created++
		}
	}
	if created > 0 {
		slog.Debug("study sessions generated", "exam", exam.ID, "count", created)
	}
	return created
}
