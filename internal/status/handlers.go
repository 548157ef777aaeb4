package status

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"qaorchestrator/internal/bus"
	"qaorchestrator/internal/logger"
	"qaorchestrator/internal/storage"
	"qaorchestrator/internal/supervisor"
)

// Handler serves the read-only operator view onto case, GPU, worker
// process, and dead-letter state. Every route here reads; none mutate
// orchestrator state, so there is no retry/pause/purge surface here
// the way the teacher's admin API has for tasks.
type Handler struct {
	store      *storage.Store
	supervisor *supervisor.Supervisor
	deadLetter *bus.RedisBus
	queues     []string
}

// NewHandler builds a Handler. deadLetter may be nil if no broker is
// wired (DLQ routes then report an empty list rather than erroring).
func NewHandler(store *storage.Store, sup *supervisor.Supervisor, deadLetter *bus.RedisBus, queues []string) *Handler {
	return &Handler{store: store, supervisor: sup, deadLetter: deadLetter, queues: queues}
}

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.store.ListCases(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("status: list cases failed")
		respondError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"cases": cases, "count": len(cases)})
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	cse, err := h.store.GetCase(r.Context(), caseID)
	if err != nil {
		if err == storage.ErrCaseNotFound {
			respondError(w, http.StatusNotFound, "case not found")
			return
		}
		logger.Error().Err(err).Str("case_id", caseID).Msg("status: get case failed")
		respondError(w, http.StatusInternalServerError, "failed to get case")
		return
	}
	respondJSON(w, http.StatusOK, cse)
}

func (h *Handler) CaseHistory(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	history, err := h.store.CaseHistoryFor(r.Context(), caseID)
	if err != nil {
		logger.Error().Err(err).Str("case_id", caseID).Msg("status: case history failed")
		respondError(w, http.StatusInternalServerError, "failed to get case history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (h *Handler) ListGPUs(w http.ResponseWriter, r *http.Request) {
	gpus, err := h.store.ListGPUs(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("status: list gpus failed")
		respondError(w, http.StatusInternalServerError, "failed to list gpus")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"gpus": gpus, "count": len(gpus)})
}

func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"processes": h.supervisor.Snapshot()})
}

func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	if h.deadLetter == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"queues": map[string]int64{}})
		return
	}
	depths := make(map[string]int64, len(h.queues))
	for _, q := range h.queues {
		depth, err := h.deadLetter.QueueDepth(r.Context(), q)
		if err != nil {
			logger.Error().Err(err).Str("queue", q).Msg("status: queue depth failed")
			continue
		}
		depths[q] = depth
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"queues": depths})
}

func (h *Handler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if h.deadLetter == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"entries": []bus.DeadLetterEntry{}})
		return
	}
	entries, err := h.deadLetter.ListDeadLettered(r.Context(), queue, 100)
	if err != nil {
		logger.Error().Err(err).Str("queue", queue).Msg("status: list dlq failed")
		respondError(w, http.StatusInternalServerError, "failed to list dead letter queue")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DB().PingContext(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy", "store": "disconnected"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("status: failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"error": http.StatusText(status), "message": message})
}
