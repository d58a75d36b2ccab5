package server

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/aristath/trading-core/internal/domain"
)

// adminStreams lists every stream this module publishes to or consumes
// from, for the introspection endpoint. Kept as a literal rather than
// derived from the bus, since the bus itself has no stream registry —
// streams come into existence on first publish/subscribe.
var adminStreams = []string{
	domain.StreamMarketTick,
	domain.StreamMarketVolSurface,
	domain.StreamMarketMacroState,
	domain.StreamStrategyForecastVol,
	domain.StreamStrategySignal,
	domain.StreamStrategyIntent,
	domain.StreamExecutionCommand,
	domain.StreamOrderCommand,
	domain.StreamOrderFill,
	domain.StreamPositionUpdate,
	domain.StreamPortfolioRisk,
	domain.StreamRiskAlert,
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "trading-core",
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "running",
		"memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"num_gc":         m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	})
}

// handleStreamIntrospection reports the number of retained messages on
// every known stream (bus.StreamLength), for operator visibility.
func (s *Server) handleStreamIntrospection(w http.ResponseWriter, r *http.Request) {
	depths := make(map[string]int, len(adminStreams))
	for _, name := range adminStreams {
		depths[name] = s.bus.StreamLength(name)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"streams": depths})
}

// handleTriggerCycle runs the one triggerable job named by the request
// body's "job" field immediately, outside its cron schedule, and answers
// 400 when the name is missing or unknown — useful for operators verifying
// the pipeline after a config change.
func (s *Server) handleTriggerCycle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Job string `json:"job"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	job, ok := s.triggerableJobs[body.Job]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown or unspecified job name")
		return
	}

	if err := s.sched.RunNow(job); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"triggered": job.Name()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
