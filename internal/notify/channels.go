package notify

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/config"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/snapshot"
)

// FromSnapshot builds the channel set for the current recipients, webhooks
// and mail server. SMTP settings in cfg take precedence over the stored
// smtp_config row.
func FromSnapshot(snap *snapshot.Snapshot, cfg config.NotifyConfig, client *http.Client, logger zerolog.Logger) []Channel {
	var (
		emails, phones []string
		channels       []Channel
	)
	for _, r := range snap.Recipients {
		if r.ReceivesEmail && r.Email != "" {
			emails = append(emails, r.Email)
		}
		if r.ReceivesSMS && r.Phone != "" {
			phones = append(phones, r.Phone)
		}
	}
	if server, ok := smtpSettings(snap.SMTP, cfg.SMTP); ok && len(emails) > 0 {
		channels = append(channels, NewEmail(server, emails, nil))
	}
	if cfg.SMS.URL != "" && len(phones) > 0 {
		channels = append(channels, NewSMS(SMSGateway{URL: cfg.SMS.URL, Token: cfg.SMS.Token, From: cfg.SMS.From}, phones, client))
	}

	byType := map[string][]Hook{}
	for _, w := range snap.Webhooks {
		if w.WebhookURL == "" {
			continue
		}
		name := w.WebhookName
		if name == "" {
			name = w.ChannelName
		}
		if name == "" {
			name = w.WebhookType
		}
		t := strings.ToLower(w.WebhookType)
		byType[t] = append(byType[t], Hook{Name: name, URL: w.WebhookURL})
	}
	if hooks := byType[models.WebhookSlack]; len(hooks) > 0 {
		channels = append(channels, NewSlackWebhook(hooks, client))
	}
	if hooks := byType[models.WebhookDiscord]; len(hooks) > 0 {
		d, err := NewDiscordWebhook(hooks, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("discord webhooks disabled")
		} else {
			channels = append(channels, d)
		}
	}
	if hooks := byType[models.WebhookTeams]; len(hooks) > 0 {
		channels = append(channels, NewTeamsWebhook(hooks, client))
	}
	return channels
}

func smtpSettings(row *models.SMTPConfig, override config.SMTPConfig) (SMTPSettings, bool) {
	if override.Host != "" {
		return SMTPSettings{
			Host:     override.Host,
			Port:     override.Port,
			Username: override.Username,
			Password: override.Password,
			From:     override.From,
		}, override.From != ""
	}
	if row == nil || row.SMTPHost == "" || row.FromAddress == "" {
		return SMTPSettings{}, false
	}
	port := row.SMTPPort
	if port == 0 {
		port = 587
	}
	return SMTPSettings{
		Host:     row.SMTPHost,
		Port:     port,
		Username: row.SMTPUsername,
		Password: row.SMTPPassword,
		From:     row.FromAddress,
		FromName: row.FromName,
	}, true
}
