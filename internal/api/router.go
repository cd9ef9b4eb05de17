package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/diting/internal/engine"
	"github.com/mohamedkhairy/diting/internal/rules"
	"github.com/mohamedkhairy/diting/internal/storage"
)

// RouterConfig wires the HTTP surface to the stores and engines
type RouterConfig struct {
	Rules        rules.RuleStore
	Triggers     storage.TriggerStorage
	Engines      *engine.Manager
	DB           Pinger
	EngineCtx    context.Context
	JWTSecret    string
	RateLimitRPS int
}

// NewRouter builds the full HTTP handler with middleware applied
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.EngineCtx == nil {
		cfg.EngineCtx = context.Background()
	}

	ruleHandler := NewRuleHandler(cfg.Rules)
	triggerHandler := NewTriggerHandler(cfg.Triggers)
	engineHandler := NewEngineHandler(cfg.Engines, cfg.EngineCtx)
	healthHandler := NewHealthHandler(cfg.DB)

	router := mux.NewRouter()

	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Rule management endpoints
	v1.HandleFunc("/rules", ruleHandler.ListRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules", ruleHandler.CreateRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/validate", ruleHandler.ValidateRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/symbol/{symbol}", ruleHandler.ListRulesBySymbol).Methods(http.MethodGet)
	v1.HandleFunc("/rules/{id:[0-9]+}", ruleHandler.GetRule).Methods(http.MethodGet)
	v1.HandleFunc("/rules/{id:[0-9]+}", ruleHandler.UpdateRule).Methods(http.MethodPut)
	v1.HandleFunc("/rules/{id:[0-9]+}", ruleHandler.DeleteRule).Methods(http.MethodDelete)
	v1.HandleFunc("/rules/{id:[0-9]+}/enable", ruleHandler.EnableRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/{id:[0-9]+}/purge", ruleHandler.PurgeRule).Methods(http.MethodDelete)

	// Trigger history endpoints
	v1.HandleFunc("/triggers", triggerHandler.ListTriggers).Methods(http.MethodGet)
	v1.HandleFunc("/triggers", triggerHandler.ClearTriggers).Methods(http.MethodDelete)
	v1.HandleFunc("/triggers/symbol/{symbol}", triggerHandler.ListTriggersBySymbol).Methods(http.MethodGet)
	v1.HandleFunc("/triggers/rule/{id:[0-9]+}", triggerHandler.ListTriggersByRule).Methods(http.MethodGet)
	v1.HandleFunc("/triggers/{id:[0-9]+}", triggerHandler.DeleteTrigger).Methods(http.MethodDelete)

	// Engine endpoints
	v1.HandleFunc("/engines", engineHandler.ListEngines).Methods(http.MethodGet)
	v1.HandleFunc("/engines/start", engineHandler.StartAll).Methods(http.MethodPost)
	v1.HandleFunc("/engines/stop", engineHandler.StopAll).Methods(http.MethodPost)
	v1.HandleFunc("/engines/{name}/start", engineHandler.StartEngine).Methods(http.MethodPost)
	v1.HandleFunc("/engines/{name}/stop", engineHandler.StopEngine).Methods(http.MethodPost)

	// Probes and metrics
	router.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", healthHandler.Ready).Methods(http.MethodGet)
	router.HandleFunc("/live", healthHandler.Live).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())

	// route-aware middleware runs after mux has matched
	for _, m := range []Middleware{
		TraceMiddleware(),
		LoggingMiddleware(),
		AuthMiddleware(NewAuthenticator(cfg.JWTSecret)),
		RateLimitMiddleware(cfg.RateLimitRPS),
	} {
		router.Use(mux.MiddlewareFunc(m))
	}

	return ChainMiddleware(
		CORSMiddleware(),
		ErrorHandlingMiddleware(),
	)(router)
}
