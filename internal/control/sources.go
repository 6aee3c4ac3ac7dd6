package control

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Rishiwins/attendance-tracker/internal/registry"
	"github.com/Rishiwins/attendance-tracker/internal/snapshot"
)

type addSourceRequest struct {
	ID      string `json:"id" validate:"required,max=64,excludesall=/ "`
	Address string `json:"address" validate:"required,max=2048"`
}

type sourceView struct {
	ID string `json:"id"`
	registry.SourceStatus
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	status := s.sources.Status()
	out := make([]sourceView, 0, len(status))
	for id, st := range status {
		out = append(out, sourceView{ID: id, SourceStatus: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sources.Add(r.Context(), req.ID, req.Address); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("control: source added", "source_id", req.ID, "address", req.Address)
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID, "status": "started"})
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sources.Remove(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("control: source removed", "source_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestartSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sources.Restart(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("control: source restarted", "source_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "restarted"})
}

// handleFrame serves the latest frame of a source as JPEG or WebP.
// Query: format=jpeg|webp, width=N (downscale), quality=1..100.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	format, err := snapshot.ParseFormat(q.Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	width, err := intParam(q.Get("width"), 0, 1<<14)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: width: %v", errBadRequest, err))
		return
	}
	quality, err := intParam(q.Get("quality"), 0, 100)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: quality: %v", errBadRequest, err))
		return
	}

	frame, ok, err := s.sources.Frame(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no frame captured yet", Code: "unavailable"})
		return
	}

	img, err := snapshot.Encode(frame, snapshot.Options{Format: format, Quality: quality, MaxWidth: width})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// intParam parses an optional integer in [lo, hi]; empty yields lo
func intParam(v string, lo, hi int) (int, error) {
	if v == "" {
		return lo, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}
