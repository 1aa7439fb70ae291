package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daryls-hrplus/intellihrm-sub073/actions"
	"github.com/daryls-hrplus/intellihrm-sub073/internal/logger"
	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"targets":  s.registry.Modules(),
		"executor": s.executor.PoolStats(),
		"errors":   logger.TotalErrors.Load(),
		"warnings": logger.TotalWarnings.Load(),
	})
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var event rules.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	records, err := s.orch.SubmitTriggerEvent(r.Context(), event)
	if err != nil {
		if rules.IsValidation(err) {
			respondError(w, http.StatusBadRequest, "invalid trigger event", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "event submission failed", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"executions": executionSummaries(records),
	})
}

type rulePayload struct {
	Code             string              `json:"code"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	ConditionType    rules.ConditionType `json:"conditionType"`
	ConditionSection rules.Section       `json:"conditionSection"`
	TriggerValues    rules.TriggerValues `json:"triggerValues"`
	ActionType       rules.ActionType    `json:"actionType"`
	TargetModule     string              `json:"targetModule"`
	ActionConfig     rules.ActionConfig  `json:"actionConfig"`
	Mandatory        bool                `json:"mandatory"`
	Priority         int                 `json:"priority"`
	Guard            string              `json:"guard"`
	Active           bool                `json:"active"`
}

func (p rulePayload) toRule(companyID, id string) *rules.Rule {
	return &rules.Rule{
		ID:               id,
		CompanyID:        companyID,
		Code:             p.Code,
		Name:             p.Name,
		Description:      p.Description,
		ConditionType:    p.ConditionType,
		ConditionSection: p.ConditionSection,
		TriggerValues:    p.TriggerValues,
		ActionType:       p.ActionType,
		TargetModule:     p.TargetModule,
		ActionConfig:     p.ActionConfig,
		Mandatory:        p.Mandatory,
		Priority:         p.Priority,
		Guard:            p.Guard,
		Active:           p.Active,
	}
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := payload.toRule(companyID, uuid.NewString())
	rule.RequiresApproval = s.policy.RequiresApproval(rule)

	if err := s.guards.Compile(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid guard expression", err)
		return
	}
	if err := s.ruleStore.Upsert(r.Context(), rule); err != nil {
		// The rule never landed; its compiled guard must not stay cached.
		s.guards.Remove(rule.ID)
		s.respondStoreError(w, err, "failed to create rule")
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	ruleID := chi.URLParam(r, "ruleId")

	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := payload.toRule(companyID, ruleID)
	rule.RequiresApproval = s.policy.RequiresApproval(rule)

	if err := s.guards.Compile(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid guard expression", err)
		return
	}
	if err := s.ruleStore.Upsert(r.Context(), rule); err != nil {
		// Rolled-back update: drop the freshly compiled program so
		// evaluation recompiles from the guard that is actually stored.
		s.guards.Remove(rule.ID)
		s.respondStoreError(w, err, "failed to update rule")
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	list, err := s.ruleStore.List(r.Context(), companyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": list})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.ruleStore.Get(r.Context(), companyID, ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.ruleStore.Deactivate(r.Context(), companyID, ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	s.guards.Remove(ruleID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	var draft rules.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	draft.CompanyID = companyID

	if err := s.drafts.Add(r.Context(), &draft); err != nil {
		s.respondStoreError(w, err, "failed to record draft")
		return
	}
	respondJSON(w, http.StatusCreated, draft)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	list, err := s.drafts.List(r.Context(), companyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list drafts", err)
		return
	}
	if list == nil {
		list = []*rules.Draft{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"drafts": list})
}

func (s *Server) handlePromoteDraft(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	draftID := chi.URLParam(r, "draftId")

	rule, err := s.drafts.Promote(r.Context(), companyID, draftID, s.ruleStore, s.guards)
	if err != nil {
		s.respondStoreError(w, err, "failed to promote draft")
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	draftID := chi.URLParam(r, "draftId")

	if err := s.drafts.Discard(r.Context(), companyID, draftID); err != nil {
		respondError(w, http.StatusNotFound, "draft not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filter", err)
		return
	}

	list, err := s.log.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	if list == nil {
		list = []*actions.Execution{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"executions": list})
}

func (s *Server) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs        []string `json:"ids"`
		ApprovedBy string   `json:"approvedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.IDs) == 0 || req.ApprovedBy == "" {
		respondError(w, http.StatusBadRequest, "ids and approvedBy are required", nil)
		return
	}

	count, err := s.gateway.BulkApprove(r.Context(), req.IDs, req.ApprovedBy)
	if err != nil {
		logger.Error("bulk approve completed with errors", "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"requested": len(req.IDs),
		"approved":  count,
	})
}

func (s *Server) handleBulkReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs        []string `json:"ids"`
		RejectedBy string   `json:"rejectedBy"`
		Reason     string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.IDs) == 0 || req.RejectedBy == "" {
		respondError(w, http.StatusBadRequest, "ids and rejectedBy are required", nil)
		return
	}

	count, err := s.gateway.BulkReject(r.Context(), req.IDs, req.RejectedBy, req.Reason)
	if err != nil {
		logger.Error("bulk reject completed with errors", "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"requested": len(req.IDs),
		"rejected":  count,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionId")

	err := s.executor.Retry(r.Context(), executionID)
	if errors.Is(err, actions.ErrNotRetryable) {
		respondError(w, http.StatusConflict, "execution is not in a retryable state", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "retry failed", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"id": executionID, "state": actions.StateQueued})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filter", err)
		return
	}

	stats, err := s.aggregator.ComputeStats(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func parseFilter(r *http.Request) (actions.Filter, error) {
	q := r.URL.Query()
	filter := actions.Filter{
		CompanyID:    q.Get("company"),
		TargetModule: q.Get("module"),
	}
	if state := q.Get("state"); state != "" {
		if !actions.KnownState(actions.State(state)) {
			return actions.Filter{}, rules.Validationf("unknown state %q", state)
		}
		filter.State = actions.State(state)
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return actions.Filter{}, err
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return actions.Filter{}, err
		}
		filter.To = t
	}
	return filter, nil
}

func executionSummaries(records []*actions.Execution) []map[string]any {
	summaries := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, map[string]any{
			"id":           rec.ID,
			"ruleCode":     rec.RuleCode,
			"actionType":   rec.ActionType,
			"targetModule": rec.TargetModule,
			"state":        rec.State,
			"suppressedBy": rec.SuppressedBy,
		})
	}
	return summaries
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error, msg string) {
	if rules.IsValidation(err) {
		respondError(w, http.StatusBadRequest, msg, err)
		return
	}
	respondError(w, http.StatusInternalServerError, msg, err)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	if status >= 500 {
		logger.Error(message, "status", status, "error", err)
	}
	respondJSON(w, status, response)
}
