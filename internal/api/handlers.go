package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mohamedkhairy/diting/internal/engine"
	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/mohamedkhairy/diting/internal/rules"
	"github.com/mohamedkhairy/diting/internal/storage"
	"github.com/mohamedkhairy/diting/pkg/logger"
)

const maxTriggerLimit = 1000

// ruleRequest is the body of rule create, update and validate calls.
// Enabled defaults to true on create.
type ruleRequest struct {
	Name       string                `json:"name"`
	Symbol     string                `json:"symbol"`
	Brokers    []string              `json:"brokers"`
	Condition  *models.ConditionNode `json:"condition"`
	WebhookURL string                `json:"webhook_url"`
	Tag        string                `json:"tag"`
	Enabled    *bool                 `json:"enabled"`
}

func (req *ruleRequest) toRule(defaultEnabled bool) *models.Rule {
	enabled := defaultEnabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	brokers := req.Brokers
	if brokers == nil {
		brokers = []string{}
	}
	return &models.Rule{
		Name:       strings.TrimSpace(req.Name),
		Symbol:     strings.TrimSpace(req.Symbol),
		Brokers:    brokers,
		Condition:  req.Condition,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		Tag:        req.Tag,
		Enabled:    enabled,
	}
}

// RuleHandler handles rule management endpoints
type RuleHandler struct {
	ruleStore rules.RuleStore
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(ruleStore rules.RuleStore) *RuleHandler {
	return &RuleHandler{ruleStore: ruleStore}
}

// ListRules handles GET /api/v1/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	allRules, err := h.ruleStore.GetAllRules(r.Context())
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to retrieve rules")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"rules": allRules,
		"count": len(allRules),
	})
}

// ListRulesBySymbol handles GET /api/v1/rules/symbol/{symbol}?only_valid=
func (h *RuleHandler) ListRulesBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	onlyEnabled := true
	if raw := r.URL.Query().Get("only_valid"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid only_valid parameter")
			return
		}
		onlyEnabled = parsed
	}

	found, err := h.ruleStore.GetRulesBySymbol(r.Context(), symbol, onlyEnabled)
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to retrieve rules")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"rules":  found,
		"count":  len(found),
	})
}

// GetRule handles GET /api/v1/rules/{id}
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rule, err := h.ruleStore.GetRule(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to retrieve rule")
		return
	}

	respondWithJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /api/v1/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule := req.toRule(true)
	if err := rules.ValidateRule(rule); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ruleStore.AddRule(r.Context(), rule); err != nil {
		respondWithStoreError(w, r, err, "Failed to create rule")
		return
	}

	logger.WithContext(r.Context()).Info("Rule created",
		logger.Int64("rule_id", rule.ID),
		logger.String("rule_name", rule.Name),
		logger.String("symbol", rule.Symbol),
	)

	respondWithJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /api/v1/rules/{id}
func (h *RuleHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	existing, err := h.ruleStore.GetRule(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to retrieve rule")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule := req.toRule(existing.Enabled)
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt
	if err := rules.ValidateRule(rule); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ruleStore.UpdateRule(r.Context(), rule); err != nil {
		respondWithStoreError(w, r, err, "Failed to update rule")
		return
	}

	logger.WithContext(r.Context()).Info("Rule updated",
		logger.Int64("rule_id", rule.ID),
		logger.String("rule_name", rule.Name),
	)

	updated, err := h.ruleStore.GetRule(r.Context(), id)
	if err != nil {
		respondWithJSON(w, http.StatusOK, rule)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

// DeleteRule handles DELETE /api/v1/rules/{id}. The rule is disabled, not
// removed; engines drop it at their next reconciliation.
func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

// EnableRule handles POST /api/v1/rules/{id}/enable
func (h *RuleHandler) EnableRule(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *RuleHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var err error
	if enabled {
		err = h.ruleStore.EnableRule(r.Context(), id)
	} else {
		err = h.ruleStore.DisableRule(r.Context(), id)
	}
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to update rule")
		return
	}

	message := "Rule disabled"
	if enabled {
		message = "Rule enabled"
	}
	logger.WithContext(r.Context()).Info(message, logger.Int64("rule_id", id))
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"message": message, "id": id})
}

// PurgeRule handles DELETE /api/v1/rules/{id}/purge
func (h *RuleHandler) PurgeRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.ruleStore.PurgeRule(r.Context(), id); err != nil {
		respondWithStoreError(w, r, err, "Failed to purge rule")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"message": "Rule purged", "id": id})
}

// ValidateRule handles POST /api/v1/rules/validate. Nothing is persisted.
func (h *RuleHandler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := rules.ValidateRule(req.toRule(true)); err != nil {
		resp := map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		}
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			resp["path"] = verr.Path
			resp["reason"] = verr.Reason
		}
		respondWithJSON(w, http.StatusOK, resp)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

// TriggerHandler handles trigger history endpoints
type TriggerHandler struct {
	triggers storage.TriggerStorage
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(triggers storage.TriggerStorage) *TriggerHandler {
	return &TriggerHandler{triggers: triggers}
}

// ListTriggers handles GET /api/v1/triggers?limit=
func (h *TriggerHandler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	found, err := h.triggers.GetTriggers(r.Context(), limit)
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to retrieve triggers")
		return
	}
	respondWithTriggers(w, found, limit)
}

// ListTriggersBySymbol handles GET /api/v1/triggers/symbol/{symbol}
func (h *TriggerHandler) ListTriggersBySymbol(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	found, err := h.triggers.GetTriggersBySymbol(r.Context(), mux.Vars(r)["symbol"], limit)
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to retrieve triggers")
		return
	}
	respondWithTriggers(w, found, limit)
}

// ListTriggersByRule handles GET /api/v1/triggers/rule/{id}
func (h *TriggerHandler) ListTriggersByRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r)
	found, err := h.triggers.GetTriggersByRule(r.Context(), id, limit)
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to retrieve triggers")
		return
	}
	respondWithTriggers(w, found, limit)
}

// DeleteTrigger handles DELETE /api/v1/triggers/{id}
func (h *TriggerHandler) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.triggers.DeleteTrigger(r.Context(), id); err != nil {
		respondWithStoreError(w, r, err, "Failed to delete trigger")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"message": "Trigger deleted", "id": id})
}

// ClearTriggers handles DELETE /api/v1/triggers
func (h *TriggerHandler) ClearTriggers(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.triggers.ClearTriggers(r.Context())
	if err != nil {
		respondWithStoreError(w, r, err, "Failed to clear triggers")
		return
	}
	logger.WithContext(r.Context()).Info("Trigger history cleared",
		logger.Int64("deleted", deleted),
		logger.String("subject", SubjectFromContext(r.Context())),
	)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// EngineHandler exposes engine status and control
type EngineHandler struct {
	manager *engine.Manager
	baseCtx context.Context
}

// NewEngineHandler creates an engine handler. Engines started through it
// run under baseCtx, not the request context.
func NewEngineHandler(manager *engine.Manager, baseCtx context.Context) *EngineHandler {
	return &EngineHandler{manager: manager, baseCtx: baseCtx}
}

// ListEngines handles GET /api/v1/engines
func (h *EngineHandler) ListEngines(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":  h.manager.Status(),
		"engines": h.manager.Details(),
	})
}

// StartAll handles POST /api/v1/engines/start
func (h *EngineHandler) StartAll(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.StartAll(h.baseCtx); err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"status": h.manager.Status()})
}

// StopAll handles POST /api/v1/engines/stop
func (h *EngineHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	h.manager.StopAll()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"status": h.manager.Status()})
}

// StartEngine handles POST /api/v1/engines/{name}/start
func (h *EngineHandler) StartEngine(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.manager.StartEngine(h.baseCtx, name); err != nil {
		respondWithEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"name": name, "running": h.manager.Status()[name]})
}

// StopEngine handles POST /api/v1/engines/{name}/stop
func (h *EngineHandler) StopEngine(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.manager.StopEngine(name); err != nil {
		respondWithEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"name": name, "running": false})
}

func respondWithEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrEngineNotFound) {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	respondWithError(w, http.StatusInternalServerError, err.Error())
}

// Pinger is satisfied by the database handle
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the probe endpoints
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler creates a health handler
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			logger.Warn("Readiness check failed", logger.ErrorField(err))
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live handles GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Helper functions

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, models.ErrInvalidID.Error())
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	limit := storage.DefaultTriggerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxTriggerLimit {
			limit = n
		}
	}
	return limit
}

func respondWithTriggers(w http.ResponseWriter, found []*models.Trigger, limit int) {
	if found == nil {
		found = []*models.Trigger{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"triggers": found,
		"count":    len(found),
		"limit":    limit,
	})
}

func respondWithStoreError(w http.ResponseWriter, r *http.Request, err error, message string) {
	code := statusForError(err)
	if code == http.StatusInternalServerError {
		logger.CountError("api", "store")
		logger.WithContext(r.Context()).Error(message, logger.ErrorField(err))
		respondWithError(w, code, message)
		return
	}
	respondWithError(w, code, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrRuleNotFound), errors.Is(err, models.ErrTriggerNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateRule):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidID),
		errors.Is(err, models.ErrInvalidCondition),
		errors.Is(err, models.ErrInvalidRuleName),
		errors.Is(err, models.ErrInvalidSymbol),
		errors.Is(err, models.ErrMissingCondition),
		errors.Is(err, models.ErrInvalidWebhook):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
