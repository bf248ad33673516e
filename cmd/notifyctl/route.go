package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"notifyroute/internal/api/handlers"
	"notifyroute/internal/types"
)

// EventFlags describe one event, either as a JSON file or field by field.
type EventFlags struct {
	File      string
	EventType string
	Recipient string
	Priority  string
	Payload   string
}

// NewRouteCommand creates the route command.
func NewRouteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventFlags{}

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show the notifications an event would produce",
		Long: `Route an event against the configured rules and print the rendered
notification requests. Nothing is stored or delivered.

The event is read from --file (API event JSON, "-" for stdin) or built
from --type, --recipient, --priority and --payload.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(rootOpts, opts, cmd)
		},
	}

	opts.bind(cmd)

	return cmd
}

func (o *EventFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.File, "file", "f", "", "event JSON file")
	cmd.Flags().StringVar(&o.EventType, "type", "", "event type")
	cmd.Flags().StringVar(&o.Recipient, "recipient", "", "recipient address")
	cmd.Flags().StringVar(&o.Priority, "priority", "", "LOW, MEDIUM, HIGH or CRITICAL")
	cmd.Flags().StringVar(&o.Payload, "payload", "{}", "payload as a JSON object")
	cmd.MarkFlagsMutuallyExclusive("file", "type")
}

// event reads and validates the described event.
func (o *EventFlags) event(cmd *cobra.Command) (types.Event, error) {
	req, err := o.request(cmd)
	if err != nil {
		return types.Event{}, err
	}
	ev := req.ToEvent().Normalize(types.RealClock{})
	if err := types.ValidateEvent(ev); err != nil {
		return types.Event{}, err
	}
	return ev, nil
}

func (o *EventFlags) request(cmd *cobra.Command) (handlers.CreateEventRequest, error) {
	var req handlers.CreateEventRequest
	if o.File != "" {
		if o.File == "-" {
			return req, wrapDecode(json.NewDecoder(cmd.InOrStdin()).Decode(&req))
		}
		data, err := os.ReadFile(o.File)
		if err != nil {
			return req, err
		}
		return req, wrapDecode(json.Unmarshal(data, &req))
	}

	req.EventType = o.EventType
	req.Recipient = o.Recipient
	req.Priority = o.Priority
	if err := json.Unmarshal([]byte(o.Payload), &req.Payload); err != nil {
		return req, fmt.Errorf("invalid --payload: %w", err)
	}
	return req, nil
}

func wrapDecode(err error) error {
	if err != nil {
		return fmt.Errorf("invalid event JSON: %w", err)
	}
	return nil
}

func runRoute(rootOpts *RootOptions, opts *EventFlags, cmd *cobra.Command) error {
	ev, err := opts.event(cmd)
	if err != nil {
		return err
	}

	engine, err := rootOpts.engine(cmd)
	if err != nil {
		return err
	}
	reqs := engine.RouteEvent(ev)
	if reqs == nil {
		reqs = []types.NotificationRequest{}
	}

	out := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		return writeJSON(out, handlers.PreviewResponse{Event: ev, Requests: reqs})
	}

	fmt.Fprintf(out, "event %s (%s, %s) -> %s\n", ev.ID, ev.EventType, ev.Priority, ev.Recipient)
	if len(reqs) == 0 {
		fmt.Fprintln(out, "no rules matched; the event would be stored but not delivered")
		return nil
	}
	for _, r := range reqs {
		fmt.Fprintf(out, "\n[%s]\n", r.Channel)
		if r.Subject != "" {
			fmt.Fprintf(out, "  subject: %s\n", r.Subject)
		}
		fmt.Fprintf(out, "  message: %s\n", r.Message)
	}
	return nil
}
