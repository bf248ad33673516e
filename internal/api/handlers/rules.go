package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"notifyroute/internal/core"
	"notifyroute/internal/routing"
	"notifyroute/internal/types"
)

// RuleSource is the read side of the routing engine.
type RuleSource interface {
	Rules() []routing.Rule
	Stats() routing.Stats
	RouteEvent(ev types.Event) []types.NotificationRequest
}

// RulesHandler exposes the installed rule set and a dry-run router.
type RulesHandler struct {
	rules RuleSource
	clock types.Clock
}

// NewRulesHandler creates a RulesHandler.
func NewRulesHandler(rules RuleSource, clock types.Clock) *RulesHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RulesHandler{rules: rules, clock: clock}
}

// RegisterRoutes mounts the rule routes.
func (h *RulesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/preview", h.Preview)
	})
}

// RuleView is the wire form of a Rule. Conditions are code and are not
// serialized.
type RuleView struct {
	Name            string          `json:"name"`
	Priority        int             `json:"priority"`
	Channels        []types.Channel `json:"channels"`
	SubjectTemplate string          `json:"subjectTemplate,omitempty"`
	MessageTemplate string          `json:"messageTemplate"`
}

// RulesResponse is the GET /v1/rules response.
type RulesResponse struct {
	routing.Stats
	Rules []RuleView `json:"rules"`
}

// PreviewResponse is the POST /v1/rules/preview response.
type PreviewResponse struct {
	Event    types.Event                 `json:"event"`
	Requests []types.NotificationRequest `json:"requests"`
}

// List handles GET /v1/rules. Rules are listed in evaluation order.
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	rules := h.rules.Rules()
	resp := RulesResponse{Stats: h.rules.Stats(), Rules: make([]RuleView, 0, len(rules))}
	for _, rule := range rules {
		resp.Rules = append(resp.Rules, RuleView{
			Name:            rule.Name,
			Priority:        rule.Priority,
			Channels:        rule.Channels,
			SubjectTemplate: rule.SubjectTemplate,
			MessageTemplate: rule.MessageTemplate,
		})
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// Preview handles POST /v1/rules/preview. It routes the event without
// storing or delivering anything.
func (h *RulesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	ev := req.ToEvent().Normalize(h.clock)
	if err := types.ValidateEvent(ev); err != nil {
		core.Error(w, r, err)
		return
	}

	reqs := h.rules.RouteEvent(ev)
	if reqs == nil {
		reqs = []types.NotificationRequest{}
	}
	core.JSON(w, r, http.StatusOK, PreviewResponse{Event: ev, Requests: reqs})
}
