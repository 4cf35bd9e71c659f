package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gmarchetti/diario/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeEntry(id string, kind domain.Kind, date, subject, task string) domain.Entry {
	now := time.Now().UTC()
	return domain.Entry{
		ID:        id,
		Kind:      kind,
		Date:      date,
		Subject:   subject,
		Task:      task,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db1, err := Open(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	db1.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer db2.Close()

	count, err := db2.CountEntries()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty store, got %d entries", count)
	}
}

func TestInsertAndGet(t *testing.T) {
	db := openTestDB(t)
	entry := makeEntry("id1", domain.KindTask, "2025-01-15", "Matematica", "Pag. 100 es. 1-5")
	entry.Fingerprint = "fp1"

	if err := db.InsertEntry(entry); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := db.GetEntry("id1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry, got nil")
	}
	if got.Kind != domain.KindTask || got.Date != "2025-01-15" || got.Fingerprint != "fp1" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	missing, err := db.GetEntry("nope")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for a missing id")
	}
}

func TestInsertImported(t *testing.T) {
	db := openTestDB(t)

	entry := makeEntry("id1", domain.KindTask, "2025-01-15", "Matematica", "Task 1")
	entry.Fingerprint = "fp1"

	t.Run("inserts when fingerprint is new", func(t *testing.T) {
		inserted, err := db.InsertImported(entry)
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if !inserted {
			t.Error("expected insert")
		}
	})

	t.Run("skips an existing fingerprint", func(t *testing.T) {
		dup := entry
		dup.ID = "id2"
		inserted, err := db.InsertImported(dup)
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if inserted {
			t.Error("expected skip")
		}
		count, _ := db.CountEntries()
		if count != 1 {
			t.Errorf("expected 1 entry, got %d", count)
		}
	})

	t.Run("skips even after the entry moved and completed", func(t *testing.T) {
		date := "2025-02-01"
		completed := true
		if err := db.UpdateEntry("id1", EntryUpdate{Date: &date, Completed: &completed}); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		dup := entry
		dup.ID = "id3"
		inserted, err := db.InsertImported(dup)
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if inserted {
			t.Error("moved entry should still match by fingerprint")
		}

		got, _ := db.GetEntry("id1")
		if got.Date != "2025-02-01" || !got.Completed {
			t.Errorf("user edits must survive a re-import: %+v", got)
		}
	})

	t.Run("appends to the end of the day", func(t *testing.T) {
		first := makeEntry("d1", domain.KindTask, "2025-03-10", "Storia", "A")
		first.Fingerprint = "fpA"
		second := makeEntry("d2", domain.KindTask, "2025-03-10", "Storia", "B")
		second.Fingerprint = "fpB"

		db.InsertImported(first)
		db.InsertImported(second)

		a, _ := db.GetEntry("d1")
		b, _ := db.GetEntry("d2")
		if b.Position != a.Position+1 {
			t.Errorf("expected consecutive positions, got %d then %d", a.Position, b.Position)
		}
	})
}

func TestInsertGenerated(t *testing.T) {
	db := openTestDB(t)
	session := makeEntry("study_1", domain.KindStudySession, "2025-01-18", "Matematica", "Study for: Verifica")
	session.ParentID = ""

	inserted, err := db.InsertGenerated(session)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Error("expected insert")
	}

	inserted, err = db.InsertGenerated(session)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if inserted {
		t.Error("expected skip on the second run with the same id")
	}
}

func TestGetAllEntriesOrder(t *testing.T) {
	db := openTestDB(t)

	e1 := makeEntry("a", domain.KindTask, "2025-01-20", "Matematica", "Task 3")
	e1.Position = 0
	e2 := makeEntry("b", domain.KindNote, "2025-01-10", "Italiano", "Task 1")
	e2.Position = 1
	e3 := makeEntry("c", domain.KindTask, "2025-01-10", "Storia", "Task 2")
	e3.Position = 0

	for _, e := range []domain.Entry{e1, e2, e3} {
		if err := db.InsertEntry(e); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	entries, err := db.GetAllEntries()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	gotIDs := []string{entries[0].ID, entries[1].ID, entries[2].ID}
	wantIDs := []string{"c", "b", "a"}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("order = %v, want %v", gotIDs, wantIDs)
		}
	}
}

func TestUpdateEntry(t *testing.T) {
	db := openTestDB(t)
	entry := makeEntry("id1", domain.KindTask, "2025-01-15", "Matematica", "Task 1")
	db.InsertEntry(entry)

	completed := true
	position := 5
	if err := db.UpdateEntry("id1", EntryUpdate{Completed: &completed, Position: &position}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, _ := db.GetEntry("id1")
	if !got.Completed || got.Position != 5 {
		t.Errorf("update not applied: %+v", got)
	}

	if err := db.UpdateEntry("nope", EntryUpdate{Completed: &completed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func insertExamWithSessions(t *testing.T, db *DB, examID string, sessionIDs ...string) {
	t.Helper()
	exam := makeEntry(examID, domain.KindExam, "2025-01-20", "Matematica", "Verifica")
	if err := db.InsertEntry(exam); err != nil {
		t.Fatalf("insert exam failed: %v", err)
	}
	for i, id := range sessionIDs {
		s := makeEntry(id, domain.KindStudySession, fmt.Sprintf("2025-01-%d", 15+i), "Matematica", "Study for: Verifica")
		s.ParentID = examID
		if err := db.InsertEntry(s); err != nil {
			t.Fatalf("insert session failed: %v", err)
		}
	}
}

func TestDeleteOrphansChildren(t *testing.T) {
	db := openTestDB(t)
	insertExamWithSessions(t, db, "exam1", "s1", "s2", "s3")

	res, err := db.DeleteEntry("exam1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !res.HadChildren || res.Orphaned != 3 {
		t.Errorf("result = %+v, want 3 orphans", res)
	}

	for _, id := range []string{"s1", "s2", "s3"} {
		got, _ := db.GetEntry(id)
		if got == nil {
			t.Fatalf("session %s should survive the parent delete", id)
		}
		if got.ParentID != "" {
			t.Errorf("session %s should have its parent link cleared", id)
		}
		if got.Kind != domain.KindStudySession {
			t.Errorf("session %s kind changed to %s", id, got.Kind)
		}
		if !got.IsOrphaned() {
			t.Errorf("session %s should report as orphaned", id)
		}
	}
}

func TestDeleteWithChildren(t *testing.T) {
	db := openTestDB(t)
	insertExamWithSessions(t, db, "exam1", "s1", "s2", "s3")

	count, err := db.DeleteWithChildren("exam1")
	if err != nil {
		t.Fatalf("cascade delete failed: %v", err)
	}
	if count != 4 {
		t.Errorf("deleted %d, want 4", count)
	}

	left, _ := db.CountEntries()
	if left != 0 {
		t.Errorf("expected empty store, %d entries left", left)
	}
}

func TestDeleteNotFound(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.DeleteEntry("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := db.DeleteWithChildren("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMaxPosition(t *testing.T) {
	db := openTestDB(t)

	max, err := db.MaxPosition("2025-01-15")
	if err != nil {
		t.Fatalf("max position failed: %v", err)
	}
	if max != -1 {
		t.Errorf("empty day max = %d, want -1", max)
	}

	e := makeEntry("id1", domain.KindTask, "2025-01-15", "Matematica", "Task 1")
	e.Position = 5
	db.InsertEntry(e)

	max, _ = db.MaxPosition("2025-01-15")
	if max != 5 {
		t.Errorf("max = %d, want 5", max)
	}
}

func TestReorderDay(t *testing.T) {
	db := openTestDB(t)
	for i, id := range []string{"a", "b", "c"} {
		e := makeEntry(id, domain.KindTask, "2025-01-15", "Matematica", "Task "+id)
		e.Position = i
		db.InsertEntry(e)
	}
	other := makeEntry("x", domain.KindTask, "2025-01-16", "Storia", "Elsewhere")
	other.Position = 0
	db.InsertEntry(other)

	t.Run("rewrites positions in list order", func(t *testing.T) {
		if err := db.ReorderDay("2025-01-15", []string{"c", "a", "b"}); err != nil {
			t.Fatalf("reorder failed: %v", err)
		}
		c, _ := db.GetEntry("c")
		a, _ := db.GetEntry("a")
		b, _ := db.GetEntry("b")
		if c.Position != 0 || a.Position != 1 || b.Position != 2 {
			t.Errorf("positions = %d/%d/%d, want 0/1/2", c.Position, a.Position, b.Position)
		}
	})

	t.Run("rejects ids from another day without side effects", func(t *testing.T) {
		err := db.ReorderDay("2025-01-15", []string{"a", "x", "b"})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		a, _ := db.GetEntry("a")
		b, _ := db.GetEntry("b")
		c, _ := db.GetEntry("c")
		if c.Position != 0 || a.Position != 1 || b.Position != 2 {
			t.Error("a failed reorder must leave every position unchanged")
		}
	})

	t.Run("rejects unknown ids", func(t *testing.T) {
		if err := db.ReorderDay("2025-01-15", []string{"a", "ghost"}); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}

func TestMoveEntry(t *testing.T) {
	db := openTestDB(t)
	for i, id := range []string{"a", "b"} {
		e := makeEntry(id, domain.KindTask, "2025-01-15", "Matematica", "Task "+id)
		e.Position = i
		db.InsertEntry(e)
	}
	mover := makeEntry("m", domain.KindTask, "2025-01-10", "Storia", "Moving task")
	db.InsertEntry(mover)

	t.Run("bottom placement appends", func(t *testing.T) {
		moved, err := db.MoveEntry("m", "2025-01-15", PlaceBottom)
		if err != nil {
			t.Fatalf("move failed: %v", err)
		}
		if moved.Date != "2025-01-15" || moved.Position != 2 {
			t.Errorf("moved to %s position %d, want 2025-01-15 position 2", moved.Date, moved.Position)
		}
	})

	t.Run("top placement sorts before all siblings", func(t *testing.T) {
		moved, err := db.MoveEntry("m", "2025-01-15", PlaceTop)
		if err != nil {
			t.Fatalf("move failed: %v", err)
		}
		a, _ := db.GetEntry("a")
		if moved.Position >= a.Position {
			t.Errorf("moved position %d should sort before the day minimum %d", moved.Position, a.Position)
		}
	})

	t.Run("moving to an empty day starts at zero", func(t *testing.T) {
		moved, err := db.MoveEntry("m", "2025-04-01", PlaceTop)
		if err != nil {
			t.Fatalf("move failed: %v", err)
		}
		if moved.Position != 0 {
			t.Errorf("position = %d, want 0", moved.Position)
		}
	})

	t.Run("missing entry reports not found", func(t *testing.T) {
		if _, err := db.MoveEntry("nope", "2025-01-15", PlaceBottom); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestGetChildren(t *testing.T) {
	db := openTestDB(t)
	insertExamWithSessions(t, db, "exam1", "s1", "s2")

	children, err := db.GetChildren("exam1")
	if err != nil {
		t.Fatalf("get children failed: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].Date > children[1].Date {
		t.Error("children should come back ordered by date")
	}
}
