package routing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"notifyroute/internal/types"
)

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Name     string    `yaml:"name"`
	Priority *int      `yaml:"priority"`
	Channels []string  `yaml:"channels"`
	Match    matchSpec `yaml:"match"`
	Subject  string    `yaml:"subject"`
	Message  string    `yaml:"message"`
}

type matchSpec struct {
	EventType     string            `yaml:"event_type"`
	Priorities    []string          `yaml:"priorities"`
	PayloadEquals map[string]string `yaml:"payload_equals"`
}

// LoadRulesFile reads rule definitions from a YAML file.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRulesFile: %w", err)
	}
	rules, err := LoadRules(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("LoadRulesFile %s: %w", path, err)
	}
	return rules, nil
}

// LoadRules decodes a YAML rule document. Unknown fields are rejected and
// every rule must declare at least one matcher.
func LoadRules(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc ruleFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []Rule{}, nil
		}
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	out := make([]Rule, 0, len(doc.Rules))
	for i, spec := range doc.Rules {
		rule, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s ruleSpec) build() (Rule, error) {
	channels := make([]types.Channel, 0, len(s.Channels))
	for _, raw := range s.Channels {
		ch, ok := types.ParseChannel(raw)
		if !ok {
			return Rule{}, fmt.Errorf("%q: unknown channel %q", s.Name, raw)
		}
		channels = append(channels, ch)
	}

	cond, err := s.Match.condition()
	if err != nil {
		return Rule{}, fmt.Errorf("%q: %w", s.Name, err)
	}

	priority := DefaultRulePriority
	if s.Priority != nil {
		priority = *s.Priority
	}

	rule := NewRule(s.Name, cond, channels, s.Message, s.Subject, priority)
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// condition combines the configured matchers with AND.
func (m matchSpec) condition() (Condition, error) {
	var preds []Condition

	if et := strings.TrimSpace(m.EventType); et != "" {
		preds = append(preds, func(e types.Event) bool { return e.EventType == et })
	}

	if len(m.Priorities) > 0 {
		allowed := make(map[types.Priority]struct{}, len(m.Priorities))
		for _, raw := range m.Priorities {
			p, ok := types.ParsePriority(raw)
			if !ok {
				return nil, fmt.Errorf("unknown priority %q", raw)
			}
			allowed[p] = struct{}{}
		}
		preds = append(preds, func(e types.Event) bool {
			_, ok := allowed[e.Priority]
			return ok
		})
	}

	if len(m.PayloadEquals) > 0 {
		want := make(map[string]string, len(m.PayloadEquals))
		for k, v := range m.PayloadEquals {
			want[k] = v
		}
		preds = append(preds, func(e types.Event) bool {
			for k, v := range want {
				got, ok := e.Payload[k]
				if !ok || stringify(got) != v {
					return false
				}
			}
			return true
		})
	}

	if len(preds) == 0 {
		return nil, errors.New("match requires at least one of event_type, priorities, payload_equals")
	}

	return func(e types.Event) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}, nil
}
