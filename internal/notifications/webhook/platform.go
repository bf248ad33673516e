package webhook

import (
	"strings"
)

// Platform identifies a webhook destination's payload dialect.
type Platform string

const (
	PlatformGeneric    Platform = "generic"
	PlatformSlack      Platform = "slack"
	PlatformDiscord    Platform = "discord"
	PlatformTeams      Platform = "teams"
	PlatformGoogleChat Platform = "google_chat"
)

// Formatter renders an Envelope for one platform.
type Formatter interface {
	Platform() Platform
	Format(env Envelope) ([]byte, error)
	// ValidateResponse catches soft failures, e.g. Slack answering 200 with
	// an error body. It is only called for 2xx responses.
	ValidateResponse(status int, body []byte) error
}

// Formatters maps each platform to its formatter.
type Formatters map[Platform]Formatter

// DefaultFormatters returns every built-in formatter.
func DefaultFormatters() Formatters {
	return Formatters{
		PlatformGeneric:    genericFormatter{},
		PlatformSlack:      slackFormatter{},
		PlatformDiscord:    discordFormatter{},
		PlatformTeams:      teamsFormatter{},
		PlatformGoogleChat: googleChatFormatter{},
	}
}

// Detect picks the platform for url. A known override wins; otherwise the
// host decides, falling back to generic.
func (f Formatters) Detect(url, override string) Platform {
	if p := Platform(strings.ToLower(strings.TrimSpace(override))); p != "" {
		if _, ok := f[p]; ok {
			return p
		}
	}

	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "hooks.slack.com"):
		return PlatformSlack
	case strings.Contains(u, "discord.com/api/webhooks"):
		return PlatformDiscord
	case strings.Contains(u, ".webhook.office.com"), strings.Contains(u, ".logic.azure.com"):
		return PlatformTeams
	case strings.Contains(u, "chat.googleapis.com"):
		return PlatformGoogleChat
	default:
		return PlatformGeneric
	}
}

// Get returns the formatter for p, or the generic one.
func (f Formatters) Get(p Platform) Formatter {
	if fm, ok := f[p]; ok {
		return fm
	}
	return f[PlatformGeneric]
}

// DeprecationWarning reports known platform retirements for url.
func DeprecationWarning(url string) (string, bool) {
	if strings.Contains(strings.ToLower(url), ".webhook.office.com") {
		return "Teams Connectors are retiring. Migrate to Power Automate Workflows.", true
	}
	return "", false
}
