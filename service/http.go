package service

import (
	"encoding/json"
	"net/http"

	"github.com/Eterna-Community/Deterna-Bot/health"
)

// RegisterHTTPHandlers attaches the manager's status endpoints to mux. The
// caller owns the server; see cmd/deterna-bot for the ops server wiring.
func (m *Manager) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/healthz", m.handleLiveness)
	mux.HandleFunc("/readyz", m.handleReadiness)
	mux.HandleFunc("/services", m.handleServices)
}

// handleHealth aggregates every service's health report. Unhealthy
// aggregates answer 503 so load balancers and probes can act on the code
// alone.
func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	infos := m.Infos()

	subStatuses := make([]health.Status, 0, len(infos))
	for _, info := range infos {
		svc, ok := m.Service(info.Name)
		if !ok {
			continue
		}
		subStatuses = append(subStatuses, svc.Health())
	}

	system := health.Aggregate("system", subStatuses)

	w.Header().Set("Content-Type", "application/json")
	if system.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(system); err != nil {
		m.logger.Error("encode health response", "error", err)
	}
}

func (m *Manager) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReadiness answers 200 only when every registered service is
// enabled and healthy and no shutdown is in progress.
func (m *Manager) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := !m.ShuttingDown()
	if ready {
		for _, svc := range m.snapshot() {
			if !svc.IsHealthy() {
				ready = false
				break
			}
		}
	}

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

func (m *Manager) handleServices(w http.ResponseWriter, r *http.Request) {
	infos := m.Infos()

	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{
		"services": infos,
		"count":    len(infos),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		m.logger.Error("encode services response", "error", err)
	}
}
