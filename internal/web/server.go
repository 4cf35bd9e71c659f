package web

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gmarchetti/diario/internal/domain"
	"github.com/gmarchetti/diario/internal/storage"
	"github.com/gmarchetti/diario/internal/studyplan"
	"github.com/gmarchetti/diario/internal/sync"
)

//go:embed all:templates
var templateFiles embed.FS

// Server holds the dependencies for the HTTP server.
type Server struct {
	db        *storage.DB
	gen       *studyplan.Generator
	refresher *sync.Refresher
	router    *http.ServeMux
	templates *template.Template
	validate  *validator.Validate
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, gen *studyplan.Generator, refresher *sync.Refresher) *Server {
	tpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		log.Fatalf("Failed to parse templates: %v", err)
	}

	s := &Server{
		db:        db,
		gen:       gen,
		refresher: refresher,
		router:    http.NewServeMux(),
		templates: tpl,
		validate:  validator.New(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /{$}", s.handleIndex)

	s.router.HandleFunc("GET /api/entries", s.handleListEntries)
	s.router.HandleFunc("POST /api/entries", s.handleCreateEntry)
	s.router.HandleFunc("GET /api/entries/{id}", s.handleGetEntry)
	s.router.HandleFunc("PATCH /api/entries/{id}", s.handleUpdateEntry)
	s.router.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)
	s.router.HandleFunc("GET /api/entries/{id}/children", s.handleGetChildren)
	s.router.HandleFunc("DELETE /api/entries/{id}/cascade", s.handleCascadeDelete)
	s.router.HandleFunc("POST /api/entries/{id}/move", s.handleMoveEntry)
	s.router.HandleFunc("POST /api/days/{date}/reorder", s.handleReorderDay)
	s.router.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "entry not found"})
	case errors.Is(err, storage.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		slog.Error("storage failure", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage failure"})
	}
}

func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

// dayGroup is one date's worth of entries for the rendered page.
type dayGroup struct {
	Date    string
	Entries []domain.Entry
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.GetAllEntries()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Entries arrive ordered by date then position; fold into day groups.
	var days []dayGroup
	for _, e := range entries {
		if len(days) == 0 || days[len(days)-1].Date != e.Date {
			days = append(days, dayGroup{Date: e.Date})
		}
		days[len(days)-1].Entries = append(days[len(days)-1].Entries, e)
	}

	if err := s.templates.ExecuteTemplate(w, "index", map[string]any{"Days": days}); err != nil {
		slog.Error("failed to render page", "error", err)
	}
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.GetAllEntries()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.db.GetEntry(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entry == nil {
		writeStoreError(w, storage.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type createEntryRequest struct {
	Kind     string `json:"kind" validate:"omitempty,oneof=task note exam study_session"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Subject  string `json:"subject"`
	Task     string `json:"task" validate:"required"`
	Position *int   `json:"position"`
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	kind := domain.Kind(req.Kind)
	if kind == "" {
		if studyplan.IsExam(req.Task) {
			kind = domain.KindExam
		} else {
			kind = domain.KindTask
		}
	}

	now := time.Now().UTC()
	entry := domain.Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Date:      req.Date,
		Subject:   req.Subject,
		Task:      req.Task,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Position != nil {
		entry.Position = *req.Position
	} else {
		max, err := s.db.MaxPosition(entry.Date)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		entry.Position = max + 1
	}

	if err := s.db.InsertEntry(entry); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Debug("entry created", "id", entry.ID, "subject", entry.Subject)

	if studyplan.IsExam(entry.Task) {
		for _, session := range s.gen.Sessions(entry) {
			if _, err := s.db.InsertGenerated(session); err != nil {
				slog.Warn("failed to insert study session", "id", session.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusCreated, entry)
}

type updateEntryRequest struct {
	Date      *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Completed *bool   `json:"completed"`
	Position  *int    `json:"position"`
	Task      *string `json:"task" validate:"omitempty,min=1"`
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateEntryRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	update := storage.EntryUpdate{
		Date:      req.Date,
		Completed: req.Completed,
		Position:  req.Position,
		Task:      req.Task,
	}
	if err := s.db.UpdateEntry(id, update); err != nil {
		writeStoreError(w, err)
		return
	}

	entry, err := s.db.GetEntry(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type deleteResponse struct {
	Success          bool `json:"success"`
	HadChildren      bool `json:"had_children"`
	ChildrenOrphaned int  `json:"children_orphaned"`
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.db.DeleteEntry(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Debug("entry deleted", "id", id, "orphaned", res.Orphaned)
	writeJSON(w, http.StatusOK, deleteResponse{
		Success:          true,
		HadChildren:      res.HadChildren,
		ChildrenOrphaned: res.Orphaned,
	})
}

func (s *Server) handleGetChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.db.GetChildren(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if children == nil {
		children = []domain.Entry{}
	}
	writeJSON(w, http.StatusOK, children)
}

type cascadeDeleteResponse struct {
	Success      bool `json:"success"`
	DeletedCount int  `json:"deleted_count"`
}

func (s *Server) handleCascadeDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	count, err := s.db.DeleteWithChildren(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Debug("cascade delete completed", "id", id, "deleted", count)
	writeJSON(w, http.StatusOK, cascadeDeleteResponse{Success: true, DeletedCount: count})
}

type moveEntryRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Placement string `json:"placement" validate:"required,oneof=top bottom"`
}

func (s *Server) handleMoveEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req moveEntryRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	entry, err := s.db.MoveEntry(id, req.Date, storage.Placement(req.Placement))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type reorderRequest struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

func (s *Server) handleReorderDay(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed date"})
		return
	}

	var req reorderRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	if err := s.db.ReorderDay(date, req.IDs); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refreshResponse struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Sessions int `json:"sessions"`
	Errors   int `json:"errors"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	slog.Info("manual refresh triggered")
	res := s.refresher.Run()
	writeJSON(w, http.StatusOK, refreshResponse{
		Inserted: res.Inserted,
		Skipped:  res.Skipped,
		Sessions: res.Sessions,
		Errors:   len(res.Errors),
	})
}
