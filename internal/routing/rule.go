// Package routing decides which channels an Event is delivered on and renders
// the notification text for it.
package routing

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"notifyroute/internal/types"
)

// DefaultRulePriority is the priority given to rules built with ForEventType.
const DefaultRulePriority = 1

// HighPriorityRulePriority is the priority of the rule built by ForHighPriority.
const HighPriorityRulePriority = 10

// Condition is a pure, deterministic predicate over an Event.
type Condition func(types.Event) bool

// Rule maps a Condition to a set of channels and the templates used to
// render the notification. Higher Priority wins the template tie-break.
type Rule struct {
	Name            string
	Condition       Condition
	Channels        []types.Channel
	MessageTemplate string
	SubjectTemplate string
	Priority        int
}

// NewRule builds a rule from its parts.
func NewRule(name string, cond Condition, channels []types.Channel, messageTmpl, subjectTmpl string, priority int) Rule {
	return Rule{
		Name:            name,
		Condition:       cond,
		Channels:        slices.Clone(channels),
		MessageTemplate: messageTmpl,
		SubjectTemplate: subjectTmpl,
		Priority:        priority,
	}
}

// ForEventType matches events whose type equals eventType exactly.
func ForEventType(eventType, name string, channels []types.Channel, messageTmpl, subjectTmpl string) Rule {
	return NewRule(name, func(e types.Event) bool { return e.EventType == eventType },
		channels, messageTmpl, subjectTmpl, DefaultRulePriority)
}

// ForPriority matches events carrying the given event priority.
func ForPriority(p types.Priority, name string, channels []types.Channel, messageTmpl, subjectTmpl string, rulePriority int) Rule {
	return NewRule(name, func(e types.Event) bool { return e.Priority == p },
		channels, messageTmpl, subjectTmpl, rulePriority)
}

// ForHighPriority matches HIGH and CRITICAL events.
func ForHighPriority(channels []types.Channel, messageTmpl, subjectTmpl string) Rule {
	return NewRule("High Priority Events", func(e types.Event) bool {
		return e.Priority == types.PriorityHigh || e.Priority == types.PriorityCritical
	}, channels, messageTmpl, subjectTmpl, HighPriorityRulePriority)
}

// Validate reports whether the rule can be installed.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("rule name is required")
	}
	if r.Condition == nil {
		return fmt.Errorf("rule %q: condition is required", r.Name)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("rule %q: at least one channel is required", r.Name)
	}
	for _, ch := range r.Channels {
		if !ch.Valid() {
			return fmt.Errorf("rule %q: unknown channel %q", r.Name, ch)
		}
	}
	return nil
}

func (r Rule) clone() Rule {
	r.Channels = slices.Clone(r.Channels)
	return r
}
