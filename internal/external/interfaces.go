package external

import "context"

// EmailMessage is a rendered email ready for a provider.
type EmailMessage struct {
	From     string
	To       string
	Subject  string
	TextBody string
	// Tag groups messages in the provider's dashboard, e.g. the event type.
	Tag string
	// ReferenceID correlates provider logs with the notification request.
	ReferenceID string
}

// EmailProvider transmits a rendered email and returns the provider's
// message ID.
type EmailProvider interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}
