package control

import (
	"context"
	"net/http"
	"time"
)

// Health states reported by /readiness
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

const probeTimeout = 2 * time.Second

type probeResult struct {
	OK       bool   `json:"ok"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status        string                 `json:"status"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Sources       int                    `json:"sources"`
	SourcesAlive  int                    `json:"sources_alive"`
	Probes        map[string]probeResult `json:"probes"`
	Stats         map[string]any         `json:"stats,omitempty"`
}

// handleHealth answers liveness: the process is up and serving
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness runs every probe and reports the aggregate state. Any dead
// camera loop degrades the service; a failing critical probe makes it
// unhealthy and answers 503.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := readinessResponse{
		Status:        StateHealthy,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Probes:        make(map[string]probeResult, len(s.probes)),
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	for _, p := range s.probes {
		res := probeResult{OK: true, Critical: p.Critical}
		if err := p.Check(ctx); err != nil {
			res.OK = false
			res.Error = err.Error()
			if p.Critical {
				resp.Status = StateUnhealthy
			} else if resp.Status == StateHealthy {
				resp.Status = StateDegraded
			}
		}
		resp.Probes[p.Name] = res
	}

	if s.sources != nil {
		status := s.sources.Status()
		resp.Sources = len(status)
		for _, st := range status {
			if st.Alive {
				resp.SourcesAlive++
			}
		}
		if resp.SourcesAlive < resp.Sources && resp.Status == StateHealthy {
			resp.Status = StateDegraded
		}
	}

	if s.stats != nil {
		resp.Stats = s.stats()
	}

	code := http.StatusOK
	if resp.Status == StateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
