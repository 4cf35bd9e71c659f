// Package studyplan detects exam-like entries and generates the study
// sessions that precede them.
package studyplan

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/gmarchetti/diario/internal/domain"
)

// examKeywords mark an entry as a test or exam when they appear anywhere in
// the task text. Plain substring match: a keyword inside a longer unrelated
// word also matches.
var examKeywords = []string{"verifica", "prova", "test", "interrogazione"}

// taskTemplate is the description given to generated study sessions.
const taskTemplate = "Study for: %s"

// maxSessions caps how many days before an exam get a study session.
const maxSessions = 4

// taskLimit is where the exam's task text gets cut in the session
// description. Counted in characters, not bytes.
const taskLimit = 100

// IsExam reports whether the task text contains any exam keyword,
// case-insensitively.
func IsExam(task string) bool {
	lower := strings.ToLower(task)
	for _, kw := range examKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Generator produces study sessions relative to an injectable "today", so
// generation is deterministic under test.
type Generator struct {
	Now func() time.Time
}

// NewGenerator returns a generator pinned to the wall clock.
func NewGenerator() *Generator {
	return &Generator{Now: time.Now}
}

// Sessions generates study session entries for an exam. Sessions land on the
// days before the exam date, at most maxSessions of them, never on or after
// the exam and never on a day that has already passed. An exam today, in the
// past, or with an unparseable date yields none.
//
// Session ids derive from (exam id, offset), so generating twice yields the
// same ids and the store's id-guarded insert keeps regeneration idempotent.
func (g *Generator) Sessions(exam domain.Entry) []domain.Entry {
	examDate, err := time.Parse(domain.DateLayout, exam.Date)
	if err != nil {
		return nil
	}
	today := g.Now()
	todayDate := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	daysUntil := int(examDate.Sub(todayDate).Hours() / 24)
	if daysUntil < 1 {
		return nil
	}

	count := daysUntil - 1
	if count > maxSessions {
		count = maxSessions
	}

	task := fmt.Sprintf(taskTemplate, truncate(exam.Task, taskLimit))
	now := g.Now().UTC()

	sessions := make([]domain.Entry, 0, count)
	for offset := 1; offset <= count; offset++ {
		date := examDate.AddDate(0, 0, -offset).Format(domain.DateLayout)
		sessions = append(sessions, domain.Entry{
			ID:        SessionID(exam.ID, offset),
			Kind:      domain.KindStudySession,
			Date:      date,
			Subject:   exam.Subject,
			Task:      task,
			Completed: false,
			Position:  0,
			ParentID:  exam.ID,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return sessions
}

// SessionID derives the deterministic id of the study session scheduled
// offset days before its parent exam.
func SessionID(parentID string, offset int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "study:%s:%d", parentID, offset))
	return fmt.Sprintf("study_%x", sum[:8])
}

// truncate cuts s to at most limit characters, appending "..." when
// something was cut. Operates on runes so multi-byte characters never split.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
