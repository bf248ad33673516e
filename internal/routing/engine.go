package routing

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"notifyroute/internal/types"
)

// snapshot is an immutable, fully sorted view of the rule set. A new
// snapshot is published on every AddRule; readers never see a partial one.
type snapshot struct {
	// byPriority is sorted by descending Priority, ties in insertion order.
	byPriority []Rule
	// inserted keeps the order rules were added in.
	inserted []Rule
}

// Stats summarizes the installed rule set.
type Stats struct {
	TotalRules      int             `json:"totalRules"`
	RuleNames       []string        `json:"ruleNames"`
	ChannelCoverage []types.Channel `json:"channelCoverage"`
}

// Engine matches events against the rule set and renders requests.
// RouteEvent is safe for concurrent use and never blocks on AddRule.
type Engine struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes writers

	clock  types.Clock
	logger types.Logger
}

// NewEngine returns an Engine with the given rules installed.
func NewEngine(logger types.Logger, clock types.Clock, rules ...Rule) (*Engine, error) {
	if logger == nil {
		logger = types.NopLogger()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	e := &Engine{clock: clock, logger: logger}
	e.current.Store(&snapshot{})

	for _, r := range rules {
		if err := e.AddRule(r); err != nil {
			return nil, fmt.Errorf("NewEngine: %w", err)
		}
	}
	return e, nil
}

// AddRule validates r and publishes a new sorted snapshot containing it.
func (e *Engine) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidRule, err.Error(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	inserted := make([]Rule, len(old.inserted), len(old.inserted)+1)
	copy(inserted, old.inserted)
	inserted = append(inserted, r.clone())

	sorted := slices.Clone(inserted)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	e.current.Store(&snapshot{byPriority: sorted, inserted: inserted})
	e.logger.Info("routing rule added", "rule", r.Name, "priority", r.Priority, "total_rules", len(inserted))
	return nil
}

// RouteEvent returns one PENDING request per selected channel. Every rule
// that matches contributes its channels; only the highest priority match
// supplies the templates. An event no rule matches yields an empty slice.
func (e *Engine) RouteEvent(ev types.Event) []types.NotificationRequest {
	snap := e.current.Load()

	var (
		channels []types.Channel
		seen     = make(map[types.Channel]struct{})
		template *Rule
	)
	for i := range snap.byPriority {
		rule := &snap.byPriority[i]
		if !rule.Condition(ev) {
			continue
		}
		if template == nil {
			template = rule
		}
		for _, ch := range rule.Channels {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			channels = append(channels, ch)
		}
	}

	if template == nil {
		return []types.NotificationRequest{}
	}

	subject := Render(template.SubjectTemplate, ev)
	message := Render(template.MessageTemplate, ev)
	now := e.clock.Now()

	out := make([]types.NotificationRequest, 0, len(channels))
	for _, ch := range channels {
		out = append(out, types.NewNotificationRequest(ev, ch, subject, message, now))
	}
	return out
}

// Rules returns a copy of the rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	snap := e.current.Load()
	out := make([]Rule, len(snap.byPriority))
	for i, r := range snap.byPriority {
		out[i] = r.clone()
	}
	return out
}

// RuleCount returns the number of installed rules.
func (e *Engine) RuleCount() int {
	return len(e.current.Load().inserted)
}

// Stats reports the rule count, rule names in insertion order, and every
// channel referenced by at least one rule.
func (e *Engine) Stats() Stats {
	snap := e.current.Load()
	st := Stats{
		TotalRules:      len(snap.inserted),
		RuleNames:       make([]string, 0, len(snap.inserted)),
		ChannelCoverage: []types.Channel{},
	}
	seen := make(map[types.Channel]struct{})
	for _, r := range snap.inserted {
		st.RuleNames = append(st.RuleNames, r.Name)
		for _, ch := range r.Channels {
			if _, ok := seen[ch]; !ok {
				seen[ch] = struct{}{}
				st.ChannelCoverage = append(st.ChannelCoverage, ch)
			}
		}
	}
	return st
}
