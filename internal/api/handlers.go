package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"panwatch/pkg/panwatch"
)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{
		"status":    "ok",
		"schedules": len(h.engine.Schedules()),
		"time":      h.core.Now().Format(time.RFC3339),
	})
}

func (h *handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.core.ListAgents(r.Context())
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, agents)
}

func (h *handler) updateAgent(w http.ResponseWriter, r *http.Request) {
	var upd panwatch.AgentUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	agent, err := h.engine.UpdateAgent(r.Context(), chi.URLParam(r, "name"), upd)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, agent)
}

func (h *handler) triggerAgent(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Trigger(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccessWithMessage(w, summary, map[string]bool{"ok": true})
}

func (h *handler) triggerForStock(w http.ResponseWriter, r *http.Request) {
	stockID, err := strconv.ParseInt(chi.URLParam(r, "stockID"), 10, 64)
	if err != nil || stockID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid stock id")
		return
	}
	q := r.URL.Query()
	var associationID int64
	if v := q.Get("association_id"); v != "" {
		associationID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid association_id")
			return
		}
	}
	bypass, _ := strconv.ParseBool(q.Get("bypass_throttle"))
	annotate(w, "stock_id", stockID, "association_id", associationID, "bypass_throttle", bypass)

	res, err := h.engine.TriggerForStock(r.Context(), chi.URLParam(r, "name"), stockID, associationID, bypass)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	annotate(w, "should_alert", res.ShouldAlert, "notified", res.Notified)
	writeSuccess(w, res)
}

func (h *handler) agentHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := h.core.ListAgentRuns(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, runs)
}

func (h *handler) scanIntraday(w http.ResponseWriter, r *http.Request) {
	analyze, _ := strconv.ParseBool(r.URL.Query().Get("analyze"))
	annotate(w, "analyze", analyze)
	res, err := h.engine.ScanIntraday(r.Context(), analyze)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	annotate(w, "scanned", res.ScannedCount, "alerts", res.AlertCount)
	writeSuccess(w, res)
}

func (h *handler) schedules(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.engine.Schedules())
}

func (h *handler) logs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorResponse(w, r, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	entries, err := h.core.ListLogEntries(r.Context(), limit)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, entries)
}
