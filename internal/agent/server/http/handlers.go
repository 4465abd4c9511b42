package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/vandash/internal/logbuffer"
	"github.com/autopeer-io/vandash/internal/supervisor"
)

const defaultTailLines = 50

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyz fails while the aggregate status is FAULTY.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Supervisor.Snapshot()
	if snap.Status == supervisor.StatusFaulty {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(string(snap.Status)))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Supervisor.Snapshot().Document())
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{"mode": s.deps.Mode}
	if s.deps.System != nil {
		st := s.deps.System.Stats()
		status["cpu_temp"] = st.CPUTemp
		status["cpu_usage"] = st.CPUUsage
		status["ram_usage"] = st.RAMUsage
		status["disk_usage"] = st.DiskUsage
		status["uptime"] = st.Uptime
		status["host_uptime"] = st.HostUptime
	}
	if s.deps.Simulation != nil {
		status["telemetry"] = string(s.deps.Simulation.Mode())
		status["simulation"] = s.deps.Simulation.ForcedSimulation()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) resetSubsystem(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["subsystem"]
	if err := s.deps.Supervisor.Reset(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset_triggered", "subsystem": name})
}

func (s *Server) toggleSimulation(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Simulation == nil {
		writeError(w, errors.New("telemetry pipeline not configured"))
		return
	}
	active := s.deps.Simulation.ToggleSimulation()
	s.deps.Logger.WithName("system").Info(fmt.Sprintf("Simulation mode %s", enabledWord(active)),
		"action", "toggling global simulation state")
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

type reportRequest struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// reportSubsystem accepts outcomes from probes running outside the agent.
func (s *Server) reportSubsystem(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["subsystem"]
	if _, ok := s.deps.Supervisor.Snapshot().Get(name); !ok {
		writeError(w, &supervisor.NotFoundError{Name: name})
		return
	}

	var req reportRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, badRequest("invalid report body: "+err.Error()))
		return
	}
	outcome, err := supervisor.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}

	var cause error
	if req.Error != "" {
		cause = errors.New(req.Error)
	}
	s.deps.Supervisor.Report(name, outcome, cause)

	rec, _ := s.deps.Supervisor.Snapshot().Get(name)
	writeJSON(w, http.StatusAccepted, map[string]string{"subsystem": name, "state": string(rec.State)})
}

func (s *Server) logSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Logs.Sources())
}

func (s *Server) tailLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lines := defaultTailLines
	if v := q.Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, badRequest(fmt.Sprintf("lines must be a positive integer, got %q", v)))
			return
		}
		lines = n
	}

	writeJSON(w, http.StatusOK, s.deps.Logs.Tail(logbuffer.Query{
		Source: q.Get("source"),
		Level:  logbuffer.Level(q.Get("level")),
		Limit:  lines,
	}))
}

func (s *Server) latestReading(w http.ResponseWriter, _ *http.Request) {
	r, ok := s.deps.Stream.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, r)
}

// injectFailure forces a subsystem into FAULTY. Maintenance mode only.
func (s *Server) injectFailure(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mode != ModeMaintenance {
		writeError(w, &APIError{Status: http.StatusForbidden, Code: CodeForbidden, Message: "fault injection requires maintenance mode"})
		return
	}

	name := r.URL.Query().Get("subsystem")
	if name == "" {
		name = "obd"
	}
	if err := s.deps.Supervisor.Fail(name, "simulated hardware failure"); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Simulated failure in " + name})
}

func enabledWord(on bool) string {
	if on {
		return "ENABLED"
	}
	return "DISABLED"
}
