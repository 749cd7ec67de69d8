package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
)

// Hook is one configured chat webhook.
type Hook struct {
	Name string
	URL  string
}

func hookNames(hooks []Hook) []string {
	names := make([]string, 0, len(hooks))
	for _, h := range hooks {
		names = append(names, h.Name)
	}
	return names
}

func findHook(hooks []Hook, name string) (Hook, error) {
	for _, h := range hooks {
		if h.Name == name {
			return h, nil
		}
	}
	return Hook{}, fmt.Errorf("no webhook named %q", name)
}

// severityColor maps a severity to a card accent colour.
func severityColor(severity string) int {
	switch strings.ToLower(severity) {
	case "critical":
		return 0xD32F2F
	case "info":
		return 0x1976D2
	}
	return 0xF9A825
}

// SlackWebhook posts alerts to Slack incoming webhooks.
type SlackWebhook struct {
	hooks  []Hook
	client *http.Client
}

// NewSlackWebhook creates a Slack webhook channel.
func NewSlackWebhook(hooks []Hook, client *http.Client) *SlackWebhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackWebhook{hooks: hooks, client: client}
}

// Name implements Channel.
func (s *SlackWebhook) Name() string { return "slack" }

// Targets implements Channel.
func (s *SlackWebhook) Targets() []string { return hookNames(s.hooks) }

// Deliver implements Channel.
func (s *SlackWebhook) Deliver(ctx context.Context, target string, n Notification) error {
	hook, err := findHook(s.hooks, target)
	if err != nil {
		return err
	}
	fields := []slackapi.AttachmentField{
		{Title: "Current", Value: formatValue(n.CurrentValue), Short: true},
		{Title: "Threshold", Value: formatValue(n.Threshold), Short: true},
	}
	if n.QueueNumber != "" {
		fields = append(fields, slackapi.AttachmentField{Title: "Queue", Value: queueText(n), Short: true})
	}
	msg := &slackapi.WebhookMessage{
		Text: n.Subject(),
		Attachments: []slackapi.Attachment{{
			Color:  fmt.Sprintf("#%06X", severityColor(n.Severity)),
			Text:   n.Message,
			Fields: fields,
			Footer: n.TriggeredAt.Format("2006-01-02 15:04:05 MST"),
		}},
	}
	return slackapi.PostWebhookCustomHTTPContext(ctx, hook.URL, s.client, msg)
}

// discordExecutor abstracts the discordgo.Session method we use, enabling
// test mocks.
type discordExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordWebhook posts alerts to Discord webhooks.
type DiscordWebhook struct {
	hooks []Hook
	exec  discordExecutor
}

// NewDiscordWebhook creates a Discord webhook channel. A nil exec uses an
// unauthenticated discordgo session; webhook URLs carry their own token.
func NewDiscordWebhook(hooks []Hook, exec discordExecutor) (*DiscordWebhook, error) {
	if exec == nil {
		s, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		exec = s
	}
	return &DiscordWebhook{hooks: hooks, exec: exec}, nil
}

// Name implements Channel.
func (d *DiscordWebhook) Name() string { return "discord" }

// Targets implements Channel.
func (d *DiscordWebhook) Targets() []string { return hookNames(d.hooks) }

// Deliver implements Channel.
func (d *DiscordWebhook) Deliver(ctx context.Context, target string, n Notification) error {
	hook, err := findHook(d.hooks, target)
	if err != nil {
		return err
	}
	id, token, err := parseDiscordWebhook(hook.URL)
	if err != nil {
		return err
	}
	embed := &discordgo.MessageEmbed{
		Title:       n.Subject(),
		Description: n.Message,
		Color:       severityColor(n.Severity),
		Timestamp:   n.TriggeredAt.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Current", Value: formatValue(n.CurrentValue), Inline: true},
			{Name: "Threshold", Value: formatValue(n.Threshold), Inline: true},
		},
	}
	if n.QueueNumber != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Queue", Value: queueText(n), Inline: true})
	}
	params := &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}}
	_, err = d.exec.WebhookExecute(id, token, false, params, discordgo.WithContext(ctx))
	return err
}

// parseDiscordWebhook extracts the id and token from
// https://discord.com/api/webhooks/<id>/<token>.
func parseDiscordWebhook(raw string) (id, token string, err error) {
	i := strings.Index(raw, "/webhooks/")
	if i < 0 {
		return "", "", fmt.Errorf("not a discord webhook url")
	}
	parts := strings.Split(strings.Trim(raw[i+len("/webhooks/"):], "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("discord webhook url is missing id or token")
	}
	return parts[0], strings.SplitN(parts[1], "?", 2)[0], nil
}

// TeamsWebhook posts alerts to Microsoft Teams connectors as MessageCards.
type TeamsWebhook struct {
	hooks  []Hook
	client *http.Client
}

// NewTeamsWebhook creates a Teams webhook channel.
func NewTeamsWebhook(hooks []Hook, client *http.Client) *TeamsWebhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &TeamsWebhook{hooks: hooks, client: client}
}

// Name implements Channel.
func (t *TeamsWebhook) Name() string { return "teams" }

// Targets implements Channel.
func (t *TeamsWebhook) Targets() []string { return hookNames(t.hooks) }

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Text          string      `json:"text"`
	Facts         []teamsFact `json:"facts"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Sections   []teamsSection `json:"sections"`
}

// Deliver implements Channel.
func (t *TeamsWebhook) Deliver(ctx context.Context, target string, n Notification) error {
	hook, err := findHook(t.hooks, target)
	if err != nil {
		return err
	}
	facts := []teamsFact{
		{Name: "Current", Value: formatValue(n.CurrentValue)},
		{Name: "Threshold", Value: formatValue(n.Threshold)},
		{Name: "Triggered", Value: n.TriggeredAt.Format("2006-01-02 15:04:05 MST")},
	}
	if n.QueueNumber != "" {
		facts = append(facts, teamsFact{Name: "Queue", Value: queueText(n)})
	}
	card := teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: fmt.Sprintf("%06X", severityColor(n.Severity)),
		Summary:    n.Subject(),
		Sections:   []teamsSection{{ActivityTitle: n.Subject(), Text: n.Message, Facts: facts}},
	}
	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(t.client, req)
}

func queueText(n Notification) string {
	if n.QueueName == "" || n.QueueName == n.QueueNumber {
		return n.QueueNumber
	}
	return fmt.Sprintf("%s (%s)", n.QueueName, n.QueueNumber)
}
