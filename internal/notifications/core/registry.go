package core

import (
	"fmt"
	"slices"

	"notifyroute/internal/types"
)

// SenderRegistry maps each channel to the single sender that serves it. It
// is built once at startup and read-only afterwards.
type SenderRegistry struct {
	senders map[types.Channel]types.ChannelSender
}

// NewSenderRegistry registers senders by their Channel(). Two senders for the
// same channel, an unknown channel, or a nil sender is an error.
func NewSenderRegistry(senders ...types.ChannelSender) (*SenderRegistry, error) {
	r := &SenderRegistry{senders: make(map[types.Channel]types.ChannelSender, len(senders))}
	for _, s := range senders {
		if s == nil {
			return nil, fmt.Errorf("NewSenderRegistry: nil sender")
		}
		ch := s.Channel()
		if !ch.Valid() {
			return nil, fmt.Errorf("NewSenderRegistry: unknown channel %q", ch)
		}
		if _, dup := r.senders[ch]; dup {
			return nil, fmt.Errorf("NewSenderRegistry: duplicate sender for channel %s", ch)
		}
		r.senders[ch] = s
	}
	return r, nil
}

// Get returns the sender for ch.
func (r *SenderRegistry) Get(ch types.Channel) (types.ChannelSender, bool) {
	s, ok := r.senders[ch]
	return s, ok
}

// Channels lists the registered channels in sorted order.
func (r *SenderRegistry) Channels() []types.Channel {
	out := make([]types.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// Statuses returns each sender's readiness string keyed by channel.
func (r *SenderRegistry) Statuses() map[types.Channel]string {
	out := make(map[types.Channel]string, len(r.senders))
	for ch, s := range r.senders {
		out[ch] = s.Status()
	}
	return out
}
