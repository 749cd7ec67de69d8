package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// maxSMSLength keeps alerts inside a single SMS segment, counted in characters.
const maxSMSLength = 160

// SMSGateway is an HTTP gateway that accepts form posts.
type SMSGateway struct {
	URL   string
	Token string
	From  string
}

// SMS sends alerts to recipients that opted in to text messages.
type SMS struct {
	gateway SMSGateway
	phones  []string
	client  *http.Client
}

// NewSMS creates an SMS channel.
func NewSMS(gateway SMSGateway, phones []string, client *http.Client) *SMS {
	if client == nil {
		client = http.DefaultClient
	}
	return &SMS{gateway: gateway, phones: phones, client: client}
}

// Name implements Channel.
func (s *SMS) Name() string { return "sms" }

// Targets implements Channel.
func (s *SMS) Targets() []string {
	if s.gateway.URL == "" {
		return nil
	}
	return s.phones
}

// Deliver implements Channel.
func (s *SMS) Deliver(ctx context.Context, phone string, n Notification) error {
	body := fmt.Sprintf("%s: %s", n.companyName(), n.Message)
	if utf8.RuneCountInString(body) > maxSMSLength {
		body = string([]rune(body)[:maxSMSLength-3]) + "..."
	}
	form := url.Values{
		"to":      {phone},
		"from":    {s.gateway.From},
		"message": {body},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gateway.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.gateway.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.gateway.Token)
	}
	return doRequest(s.client, req)
}

// doRequest sends req and turns a non-2xx status into an error carrying the
// start of the response body.
func doRequest(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
