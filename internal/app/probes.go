package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notifyroute/internal/core"
	"notifyroute/internal/types"
)

// HealthProbes returns the probes served on GET /health: the rule set and
// one probe per registered channel. A channel whose status reports an open
// circuit is unhealthy.
func (a *App) HealthProbes() []core.HealthProbe {
	probes := []core.HealthProbe{
		core.ProbeFunc{ProbeName: "routing", Fn: func(context.Context) error {
			if a.Engine.RuleCount() == 0 {
				return errors.New("no routing rules installed")
			}
			return nil
		}},
		core.ProbeFunc{ProbeName: "store", Fn: func(context.Context) error {
			_ = a.Store.Stats()
			return nil
		}},
	}
	for _, ch := range a.Senders.Channels() {
		probes = append(probes, channelProbe(a, ch))
	}
	return probes
}

func channelProbe(a *App, ch types.Channel) core.HealthProbe {
	return core.ProbeFunc{
		ProbeName: "channel_" + strings.ToLower(string(ch)),
		Fn: func(context.Context) error {
			status, ok := a.Senders.Statuses()[ch]
			if !ok {
				return fmt.Errorf("%s sender not registered", ch)
			}
			if strings.Contains(status, "circuit open") {
				return errors.New(status)
			}
			return nil
		},
	}
}
