package routing

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"notifyroute/internal/types"
)

// TimestampLayout is how {timestamp} is rendered.
const TimestampLayout = time.RFC3339

// Render substitutes {key} placeholders in tmpl. Payload keys are applied
// first, in sorted key order, then the fixed event fields {eventType},
// {recipient}, {timestamp} and {eventId}. Placeholders with no value are
// left as they are.
func Render(tmpl string, ev types.Event) string {
	if tmpl == "" || !strings.Contains(tmpl, "{") {
		return tmpl
	}

	out := tmpl
	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = strings.ReplaceAll(out, "{"+k+"}", stringify(ev.Payload[k]))
	}

	return strings.NewReplacer(
		"{eventType}", ev.EventType,
		"{recipient}", ev.Recipient,
		"{timestamp}", ev.Timestamp.Format(TimestampLayout),
		"{eventId}", ev.ID,
	).Replace(out)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
