package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"notifyroute/internal/types"
)

const maxErrorBody = 200

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

// title prefers the rendered subject, falling back to the channel name.
func title(env Envelope) string {
	if env.Subject != "" {
		return env.Subject
	}
	return "Notification"
}

// genericFormatter sends the Envelope as-is.
type genericFormatter struct{}

func (genericFormatter) Platform() Platform { return PlatformGeneric }

func (genericFormatter) Format(env Envelope) ([]byte, error) { return json.Marshal(env) }

func (genericFormatter) ValidateResponse(int, []byte) error { return nil }

// slackFormatter renders Block Kit.
type slackFormatter struct{}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string       `json:"type"`
	Text     *slackText   `json:"text,omitempty"`
	Elements []*slackText `json:"elements,omitempty"`
}

func (slackFormatter) Platform() Platform { return PlatformSlack }

func (slackFormatter) Format(env Envelope) ([]byte, error) {
	return json.Marshal(struct {
		Text   string       `json:"text"`
		Blocks []slackBlock `json:"blocks"`
	}{
		Text: fmt.Sprintf("[%s] %s", env.Priority, title(env)),
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: title(env)}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: env.Message}},
			{Type: "context", Elements: []*slackText{{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Priority*: %s | *Recipient*: %s | *Event*: %s", env.Priority, env.Recipient, env.EventID),
			}}},
		},
	})
}

// ValidateResponse handles Slack's plain-text and {"ok":false} errors.
func (slackFormatter) ValidateResponse(_ int, body []byte) error {
	s := strings.TrimSpace(string(body))
	if s == "" || s == "ok" {
		return nil
	}
	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.OK != nil && !*resp.OK {
			if resp.Error == "" {
				resp.Error = "unknown error"
			}
			return fmt.Errorf("slack: API error: %s", resp.Error)
		}
		return nil
	}
	switch s {
	case "no_text", "invalid_payload", "channel_not_found", "channel_is_archived", "too_many_attachments":
		return fmt.Errorf("slack: API error: %s", s)
	}
	return nil
}

// discordFormatter renders an embed coloured by priority.
type discordFormatter struct{}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
}

func (discordFormatter) Platform() Platform { return PlatformDiscord }

func (discordFormatter) Format(env Envelope) ([]byte, error) {
	return json.Marshal(struct {
		Username string         `json:"username"`
		Content  string         `json:"content"`
		Embeds   []discordEmbed `json:"embeds"`
	}{
		Username: "NotifyRoute",
		Content:  title(env),
		Embeds: []discordEmbed{{
			Title:       title(env),
			Description: env.Message,
			Color:       priorityColor(env.Priority),
			Fields: []discordField{
				{Name: "Priority", Value: string(env.Priority), Inline: true},
				{Name: "Recipient", Value: env.Recipient, Inline: true},
			},
		}},
	})
}

func (discordFormatter) ValidateResponse(int, []byte) error { return nil }

func priorityColor(p types.Priority) int {
	switch p {
	case types.PriorityCritical:
		return 0xE01E5A
	case types.PriorityHigh:
		return 0xF2A900
	case types.PriorityLow:
		return 0x95A5A6
	default:
		return 0x3498DB
	}
}

// teamsFormatter renders an Adaptive Card for Power Automate workflows.
type teamsFormatter struct{}

type teamsFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type adaptiveItem struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Size   string      `json:"size,omitempty"`
	Weight string      `json:"weight,omitempty"`
	Wrap   bool        `json:"wrap,omitempty"`
	Facts  []teamsFact `json:"facts,omitempty"`
}

func (teamsFormatter) Platform() Platform { return PlatformTeams }

func (teamsFormatter) Format(env Envelope) ([]byte, error) {
	type card struct {
		Type    string         `json:"type"`
		Version string         `json:"version"`
		Body    []adaptiveItem `json:"body"`
	}
	type attachment struct {
		ContentType string `json:"contentType"`
		Content     card   `json:"content"`
	}
	return json.Marshal(struct {
		Type        string       `json:"type"`
		Attachments []attachment `json:"attachments"`
	}{
		Type: "message",
		Attachments: []attachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: card{
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body: []adaptiveItem{
					{Type: "TextBlock", Text: title(env), Size: "Large", Weight: "Bolder", Wrap: true},
					{Type: "TextBlock", Text: env.Message, Wrap: true},
					{Type: "FactSet", Facts: []teamsFact{
						{Title: "Priority", Value: string(env.Priority)},
						{Title: "Recipient", Value: env.Recipient},
					}},
				},
			},
		}},
	})
}

func (teamsFormatter) ValidateResponse(int, []byte) error { return nil }

// googleChatFormatter renders a cards v1 message.
type googleChatFormatter struct{}

func (googleChatFormatter) Platform() Platform { return PlatformGoogleChat }

func (googleChatFormatter) Format(env Envelope) ([]byte, error) {
	type keyValue struct {
		TopLabel string `json:"topLabel"`
		Content  string `json:"content"`
	}
	type paragraph struct {
		Text string `json:"text"`
	}
	type widget struct {
		KeyValue      *keyValue  `json:"keyValue,omitempty"`
		TextParagraph *paragraph `json:"textParagraph,omitempty"`
	}
	type section struct {
		Widgets []widget `json:"widgets"`
	}
	type header struct {
		Title    string `json:"title"`
		Subtitle string `json:"subtitle,omitempty"`
	}
	type card struct {
		Header   header    `json:"header"`
		Sections []section `json:"sections"`
	}
	return json.Marshal(struct {
		Cards []card `json:"cards"`
	}{
		Cards: []card{{
			Header: header{Title: title(env), Subtitle: string(env.Priority)},
			Sections: []section{{Widgets: []widget{
				{TextParagraph: &paragraph{Text: env.Message}},
				{KeyValue: &keyValue{TopLabel: "Recipient", Content: env.Recipient}},
			}}},
		}},
	})
}

func (googleChatFormatter) ValidateResponse(int, []byte) error { return nil }
