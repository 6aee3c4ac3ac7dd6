package control

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

type personRequest struct {
	ID         string `json:"id" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	Code       string `json:"code" validate:"max=64"`
	Department string `json:"department" validate:"max=100"`
	Email      string `json:"email" validate:"omitempty,email"`
	Active     *bool  `json:"active"`
}

// manualRequest carries times either as RFC 3339 timestamps or as HH:MM on Date
type manualRequest struct {
	Date     string  `json:"date" validate:"required"`
	CheckIn  string  `json:"check_in"`
	CheckOut string  `json:"check_out"`
	Notes    *string `json:"notes" validate:"omitempty,max=1000"`
}

func (s *Server) handleListPersons(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	persons, err := s.engine.Persons(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, persons)
}

func (s *Server) handleRegisterPerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if !s.decode(w, r, &req) {
		return
	}
	p := attendance.Person{
		ID:         strings.TrimSpace(req.ID),
		Name:       strings.TrimSpace(req.Name),
		Code:       req.Code,
		Department: req.Department,
		Email:      req.Email,
		Active:     req.Active == nil || *req.Active,
	}
	if err := s.engine.RegisterPerson(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if !s.decode(w, r, &req) {
		return
	}

	date, err := s.parseDate(req.Date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry := attendance.ManualEntry{
		PersonID: chi.URLParam(r, "personID"),
		Date:     date,
		Notes:    req.Notes,
	}
	if entry.CheckIn, err = s.parseTime(date, req.CheckIn); err != nil {
		s.writeError(w, r, err)
		return
	}
	if entry.CheckOut, err = s.parseTime(date, req.CheckOut); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.engine.MarkManual(r.Context(), entry)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(chi.URLParam(r, "date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.engine.Summarize(r.Context(), date, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.engine.History(r.Context(), chi.URLParam(r, "personID"), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"person_id": chi.URLParam(r, "personID"),
		"from":      from,
		"to":        to,
		"records":   records,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.engine.Report(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleRecord returns one record with its detection log
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")
	date, err := s.parseDate(chi.URLParam(r, "date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.engine.Record(r.Context(), personID, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.engine.Log(r.Context(), personID, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec, "log": entries})
}

// parseDate accepts YYYY-MM-DD and "today"
func (s *Server) parseDate(v string) (attendance.Date, error) {
	if strings.EqualFold(v, "today") {
		return s.engine.Today(), nil
	}
	return attendance.ParseDate(v)
}

// parseRange reads from/to query parameters; to defaults to today and from to
// seven days before to.
func (s *Server) parseRange(r *http.Request) (from, to attendance.Date, err error) {
	q := r.URL.Query()
	to = s.engine.Today()
	if v := q.Get("to"); v != "" {
		if to, err = s.parseDate(v); err != nil {
			return from, to, err
		}
	}
	from = to.AddDays(-6)
	if v := q.Get("from"); v != "" {
		if from, err = s.parseDate(v); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

// parseTime resolves v on date in the engine location; empty yields nil
func (s *Server) parseTime(date attendance.Date, v string) (*time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	t, err := date.At(v, s.engine.Location())
	if err != nil {
		return nil, err
	}
	return &t, nil
}
