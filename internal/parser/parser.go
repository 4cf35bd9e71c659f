// Package parser reads SpreadsheetML exports (the Excel 2003 XML dialect the
// school registry produces) into reconciliation candidates.
package parser

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gmarchetti/diario/internal/domain"
	"github.com/gmarchetti/diario/internal/reconcile"
	"github.com/gmarchetti/diario/internal/studyplan"
)

type workbook struct {
	Worksheets []worksheet `xml:"Worksheet"`
}

type worksheet struct {
	Rows []row `xml:"Table>Row"`
}

type row struct {
	Cells []cell `xml:"Cell"`
}

type cell struct {
	Data string `xml:"Data"`
}

// ParseFile reads an export file and extracts all candidates.
func ParseFile(path string) ([]reconcile.Candidate, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads a SpreadsheetML document. The first row of the first worksheet
// is the header row; rows carrying neither subject nor task are skipped.
func Parse(r io.Reader) ([]reconcile.Candidate, error) {
	var wb workbook
	if err := xml.NewDecoder(r).Decode(&wb); err != nil {
		return nil, fmt.Errorf("failed to decode spreadsheet: %w", err)
	}
	if len(wb.Worksheets) == 0 || len(wb.Worksheets[0].Rows) == 0 {
		return nil, nil
	}

	rows := wb.Worksheets[0].Rows
	columns := mapColumns(rows[0])

	var candidates []reconcile.Candidate
	for _, r := range rows[1:] {
		if c, ok := parseRow(r, columns); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// mapColumns maps header names to cell indices. The exports name columns in
// Italian (tipo, data_inizio, materia, nota) but English variants show up in
// older files; first match per field wins.
func mapColumns(header row) map[string]int {
	columns := make(map[string]int)
	set := func(key string, i int) {
		if _, ok := columns[key]; !ok {
			columns[key] = i
		}
	}

	for i, c := range header.Cells {
		lower := strings.ToLower(strings.TrimSpace(c.Data))

		if strings.Contains(lower, "data") || strings.Contains(lower, "inizio") || strings.Contains(lower, "date") {
			set("date", i)
		}
		if strings.Contains(lower, "materia") || strings.Contains(lower, "subject") || strings.Contains(lower, "corso") {
			set("subject", i)
		}
		if strings.Contains(lower, "nota") || strings.Contains(lower, "descrizione") ||
			strings.Contains(lower, "task") || strings.Contains(lower, "compito") {
			set("task", i)
		}
		// "tipo evento" is a different column in some exports
		if strings.Contains(lower, "tipo") && !strings.Contains(lower, "evento") {
			set("kind", i)
		}
	}
	return columns
}

func parseRow(r row, columns map[string]int) (reconcile.Candidate, bool) {
	get := func(key string) string {
		i, ok := columns[key]
		if !ok || i >= len(r.Cells) {
			return ""
		}
		return strings.TrimSpace(r.Cells[i].Data)
	}

	date := normalizeDate(get("date"))
	subject := get("subject")
	task := get("task")

	if task == "" && subject == "" {
		return reconcile.Candidate{}, false
	}

	if subject == "" {
		subject = extractSubject(task)
	} else {
		subject = normalizeSubject(subject)
	}

	return reconcile.Candidate{
		Kind:    detectKind(task, get("kind")),
		Date:    date,
		Subject: subject,
		Task:    task,
	}, true
}

// detectKind classifies a row. Exam keywords in the task win over the tipo
// column; otherwise homework rows stay tasks and everything else is a note.
func detectKind(task, rawKind string) domain.Kind {
	if studyplan.IsExam(task) {
		return domain.KindExam
	}
	switch strings.ToLower(rawKind) {
	case "compiti", "compito", "task":
		return domain.KindTask
	default:
		return domain.KindNote
	}
}

// normalizeDate strips the time component from datetime cells. Dates already
// in YYYY-MM-DD form pass through unchanged.
func normalizeDate(date string) string {
	if fields := strings.Fields(date); len(fields) > 0 {
		return fields[0]
	}
	return date
}

// subjectOverrides maps administrative subject names to the ones a student
// actually uses, applied after title-casing.
var subjectOverrides = map[string]string{
	"Seconda Lingua Comunitaria": "Tedesco",
	"Seconda Lingua Straniera":   "Tedesco",
}

func normalizeSubject(subject string) string {
	titled := toTitleCase(subject)
	for from, to := range subjectOverrides {
		if strings.EqualFold(titled, from) {
			return to
		}
	}
	return titled
}

// toTitleCase uppercases the first letter of each word and lowercases the
// rest ("MATEMATICA" -> "Matematica").
func toTitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// knownSubjects maps keywords found in task text to canonical subject names.
var knownSubjects = []struct{ keyword, canonical string }{
	{"matematica", "Matematica"},
	{"aritmetica", "Matematica"},
	{"geometria", "Matematica"},
	{"italiano", "Italiano"},
	{"antologia", "Italiano"},
	{"storia", "Storia"},
	{"geografia", "Geografia"},
	{"inglese", "Lingua Inglese"},
	{"english", "Lingua Inglese"},
	{"verbi irregolari", "Lingua Inglese"},
	{"tedesco", "Tedesco"},
	{"deutsch", "Tedesco"},
	{"arte", "Arte e Immagine"},
	{"disegno", "Arte e Immagine"},
	{"tecnologia", "Tecnologia"},
	{"proiezioni ortogonali", "Tecnologia"},
	{"scienze", "Scienze"},
	{"musica", "Musica"},
	{"ed. fisica", "Educazione Fisica"},
	{"educazione fisica", "Educazione Fisica"},
	{"religione", "Religione"},
	{"ed. civica", "Educazione Civica"},
	{"educazione civica", "Educazione Civica"},
}

var subjectPrefixes = []string{
	"verifica di ", "verifica su ",
	"test di ", "test su ",
	"interrogazione di ", "interrogazione su ",
	"prova di ", "prova su ",
	"esame di ", "esame su ",
}

// extractSubject guesses the subject from the task text when the export left
// the subject column empty: "verifica di SUBJECT ...", a "Subject: ..."
// prefix, or a known subject mentioned in an assignment-like sentence.
func extractSubject(task string) string {
	lower := strings.ToLower(task)

	for _, prefix := range subjectPrefixes {
		pos := strings.Index(lower, prefix)
		if pos < 0 {
			continue
		}
		rest := lower[pos+len(prefix):]
		for _, s := range knownSubjects {
			if strings.HasPrefix(rest, s.keyword) {
				return s.canonical
			}
		}
	}

	for _, s := range knownSubjects {
		rest, ok := strings.CutPrefix(lower, s.keyword)
		if ok && (strings.HasPrefix(rest, ":") || strings.HasPrefix(rest, " ")) {
			return s.canonical
		}
	}

	assignmentContext := studyplan.IsExam(lower) ||
		strings.Contains(lower, "portare") ||
		strings.Contains(lower, "libro di") ||
		strings.Contains(lower, "quaderno") ||
		strings.Contains(lower, "scritto")
	if assignmentContext {
		for _, s := range knownSubjects {
			if strings.Contains(lower, s.keyword) {
				return s.canonical
			}
		}
	}

	return ""
}
