package fingerprint

import "testing"

func TestSum(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		a := Sum("2025-01-15", "Matematica", "Pag. 100 es. 1-5")
		b := Sum("2025-01-15", "Matematica", "Pag. 100 es. 1-5")
		if a != b {
			t.Errorf("expected identical inputs to hash the same, got %s and %s", a, b)
		}
	})

	t.Run("is hex encoded sha-256", func(t *testing.T) {
		sum := Sum("2025-01-15", "Matematica", "Esercizi")
		if len(sum) != 64 {
			t.Errorf("expected 64 hex characters, got %d", len(sum))
		}
	})

	t.Run("different content hashes differently", func(t *testing.T) {
		a := Sum("2025-01-15", "Matematica", "Task A")
		b := Sum("2025-01-15", "Matematica", "Task B")
		if a == b {
			t.Error("expected different tasks to produce different fingerprints")
		}
	})

	t.Run("field boundaries do not collide", func(t *testing.T) {
		a := Sum("2025-01-15", "ab", "c")
		b := Sum("2025-01-15", "a", "bc")
		if a == b {
			t.Error("expected shifted field boundaries to produce different fingerprints")
		}
	})

	t.Run("empty fields are distinct", func(t *testing.T) {
		a := Sum("", "", "x")
		b := Sum("", "x", "")
		if a == b {
			t.Error("expected the field carrying the content to matter")
		}
	})
}
