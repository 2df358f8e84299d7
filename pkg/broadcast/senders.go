package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Channel name constants. These match the names used in the YAML config.
const (
	ChannelSMSTwilio     = "sms_twilio"
	ChannelSMSClickatell = "sms_clickatell"
	ChannelWhatsApp      = "whatsapp"
	ChannelCallCenter    = "call_center"
	ChannelTwitter       = "twitter"
	ChannelFacebook      = "facebook"
	ChannelInstagram     = "instagram"
	ChannelEmail         = "email"
)

// Sender pushes one alert out over one channel
type Sender interface {
	Name() string
	Send(ctx context.Context, alert *Alert, recipients []Recipient) ChannelResult
}

const senderTimeout = 15 * time.Second

func alertMessage(alert *Alert) string {
	msg := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	if alert.Location != "" {
		msg += " @ " + alert.Location
	}
	if alert.Description != "" {
		msg += " - " + alert.Description
	}
	return msg
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}

// TwilioSender delivers SMS (and WhatsApp, with a prefix) through the
// Twilio messages API, one request per recipient.
type TwilioSender struct {
	name       string
	baseURL    string
	accountSID string
	authToken  string
	from       string
	toPrefix   string // "whatsapp:" for the WhatsApp channel
	client     *http.Client
	log        *logrus.Logger
}

// NewTwilioSMSSender creates the sms_twilio channel sender
func NewTwilioSMSSender(settings map[string]string, log *logrus.Logger) *TwilioSender {
	return newTwilioSender(ChannelSMSTwilio, "", settings, log)
}

// NewWhatsAppSender creates the whatsapp channel sender, which rides on
// Twilio's WhatsApp messaging endpoint.
func NewWhatsAppSender(settings map[string]string, log *logrus.Logger) *TwilioSender {
	return newTwilioSender(ChannelWhatsApp, "whatsapp:", settings, log)
}

func newTwilioSender(name, toPrefix string, settings map[string]string, log *logrus.Logger) *TwilioSender {
	if log == nil {
		log = logrus.New()
	}
	baseURL := settings["base_url"]
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &TwilioSender{
		name:       name,
		baseURL:    baseURL,
		accountSID: settings["account_sid"],
		authToken:  settings["auth_token"],
		from:       settings["from"],
		toPrefix:   toPrefix,
		client:     &http.Client{Timeout: senderTimeout},
		log:        log,
	}
}

func (s *TwilioSender) Name() string { return s.name }

// Send delivers the alert to each recipient. Per-recipient failures are
// counted, not fatal to the channel.
func (s *TwilioSender) Send(ctx context.Context, alert *Alert, recipients []Recipient) ChannelResult {
	start := time.Now()
	result := ChannelResult{Channel: s.name}
	message := alertMessage(alert)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	for _, recipient := range recipients {
		if recipient.Phone == "" {
			continue
		}
		result.Recipients++

		form := url.Values{}
		form.Set("From", s.toPrefix+s.from)
		form.Set("To", s.toPrefix+recipient.Phone)
		form.Set("Body", message)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			result.Failed++
			continue
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Warnf("Failed to send %s message to %s: %v", s.name, recipient.Name, err)
			result.Failed++
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			s.log.Warnf("%s gateway returned %d for %s", s.name, resp.StatusCode, recipient.Name)
			result.Failed++
		}
		drainAndClose(resp.Body)
	}

	result.Duration = time.Since(start)
	return result
}

// ClickatellSender delivers SMS through the Clickatell REST API
type ClickatellSender struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logrus.Logger
}

// NewClickatellSender creates the sms_clickatell channel sender
func NewClickatellSender(settings map[string]string, log *logrus.Logger) *ClickatellSender {
	if log == nil {
		log = logrus.New()
	}
	baseURL := settings["base_url"]
	if baseURL == "" {
		baseURL = "https://platform.clickatell.com"
	}
	return &ClickatellSender{
		baseURL: baseURL,
		apiKey:  settings["api_key"],
		client:  &http.Client{Timeout: senderTimeout},
		log:     log,
	}
}

func (s *ClickatellSender) Name() string { return ChannelSMSClickatell }

func (s *ClickatellSender) Send(ctx context.Context, alert *Alert, recipients []Recipient) ChannelResult {
	start := time.Now()
	result := ChannelResult{Channel: ChannelSMSClickatell}
	message := alertMessage(alert)

	for _, recipient := range recipients {
		if recipient.Phone == "" {
			continue
		}
		result.Recipients++

		payload, err := json.Marshal(map[string]interface{}{
			"content": message,
			"to":      []string{recipient.Phone},
		})
		if err != nil {
			result.Failed++
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			result.Failed++
			continue
		}
		req.Header.Set("Authorization", s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Warnf("Failed to send clickatell SMS to %s: %v", recipient.Name, err)
			result.Failed++
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			s.log.Warnf("Clickatell returned %d for %s", resp.StatusCode, recipient.Name)
			result.Failed++
		}
		drainAndClose(resp.Body)
	}

	result.Duration = time.Since(start)
	return result
}

// CallCenterSender notifies the call center roster so operators can place
// voice calls. One JSON POST per recipient.
type CallCenterSender struct {
	endpoint string
	token    string
	client   *http.Client
	log      *logrus.Logger
}

// NewCallCenterSender creates the call_center channel sender
func NewCallCenterSender(settings map[string]string, log *logrus.Logger) *CallCenterSender {
	if log == nil {
		log = logrus.New()
	}
	return &CallCenterSender{
		endpoint: settings["endpoint"],
		token:    settings["token"],
		client:   &http.Client{Timeout: senderTimeout},
		log:      log,
	}
}

func (s *CallCenterSender) Name() string { return ChannelCallCenter }

func (s *CallCenterSender) Send(ctx context.Context, alert *Alert, recipients []Recipient) ChannelResult {
	start := time.Now()
	result := ChannelResult{Channel: ChannelCallCenter}

	for _, recipient := range recipients {
		if recipient.Phone == "" {
			continue
		}
		result.Recipients++

		payload, err := json.Marshal(map[string]interface{}{
			"alert_id": alert.ID,
			"severity": alert.Severity,
			"message":  alertMessage(alert),
			"callee":   recipient.Phone,
			"name":     recipient.Name,
		})
		if err != nil {
			result.Failed++
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
		if err != nil {
			result.Failed++
			continue
		}
		req.Header.Set("Authorization", "Bearer "+s.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Warnf("Failed to queue call for %s: %v", recipient.Name, err)
			result.Failed++
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			s.log.Warnf("Call center returned %d for %s", resp.StatusCode, recipient.Name)
			result.Failed++
		}
		drainAndClose(resp.Body)
	}

	result.Duration = time.Since(start)
	return result
}

// SocialSender posts a single public status to a social platform. Unlike
// the per-recipient channels there is exactly one send per broadcast.
type SocialSender struct {
	channel  string
	endpoint string
	token    string
	client   *http.Client
	log      *logrus.Logger
}

// NewSocialSender creates a single-post social channel sender. channel
// should be one of ChannelTwitter, ChannelFacebook, ChannelInstagram.
func NewSocialSender(channel string, settings map[string]string, log *logrus.Logger) *SocialSender {
	if log == nil {
		log = logrus.New()
	}
	return &SocialSender{
		channel:  channel,
		endpoint: settings["endpoint"],
		token:    settings["token"],
		client:   &http.Client{Timeout: senderTimeout},
		log:      log,
	}
}

func (s *SocialSender) Name() string { return s.channel }

func (s *SocialSender) Send(ctx context.Context, alert *Alert, _ []Recipient) ChannelResult {
	start := time.Now()
	result := ChannelResult{Channel: s.channel, Recipients: 1}

	payload, err := json.Marshal(map[string]string{
		"status": alertMessage(alert),
	})
	if err != nil {
		result.Failed = 1
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		result.Failed = 1
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warnf("Failed to post to %s: %v", s.channel, err)
		result.Failed = 1
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Warnf("%s returned %d", s.channel, resp.StatusCode)
		result.Failed = 1
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	result.Duration = time.Since(start)
	return result
}

// EmailSender is a stub pending an SMTP relay decision. It logs the alert
// and reports success so email can be enabled in config ahead of time.
type EmailSender struct {
	log *logrus.Logger
}

// NewEmailSender creates the email channel stub
func NewEmailSender(log *logrus.Logger) *EmailSender {
	if log == nil {
		log = logrus.New()
	}
	return &EmailSender{log: log}
}

func (s *EmailSender) Name() string { return ChannelEmail }

func (s *EmailSender) Send(_ context.Context, alert *Alert, recipients []Recipient) ChannelResult {
	start := time.Now()
	n := 0
	for _, r := range recipients {
		if r.Email != "" {
			n++
		}
	}
	s.log.Infof("Email channel stub: would deliver alert %s to %d recipients", alert.ID, n)
	return ChannelResult{Channel: ChannelEmail, Recipients: n, Duration: time.Since(start)}
}

// BuildSenders constructs the senders for every enabled channel in config
func BuildSenders(cfg *Config, log *logrus.Logger) ([]Sender, error) {
	var senders []Sender
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch ch.Name {
		case ChannelSMSTwilio:
			senders = append(senders, NewTwilioSMSSender(ch.Settings, log))
		case ChannelWhatsApp:
			senders = append(senders, NewWhatsAppSender(ch.Settings, log))
		case ChannelSMSClickatell:
			senders = append(senders, NewClickatellSender(ch.Settings, log))
		case ChannelCallCenter:
			senders = append(senders, NewCallCenterSender(ch.Settings, log))
		case ChannelTwitter, ChannelFacebook, ChannelInstagram:
			senders = append(senders, NewSocialSender(ch.Name, ch.Settings, log))
		case ChannelEmail:
			senders = append(senders, NewEmailSender(log))
		default:
			return nil, fmt.Errorf("unknown broadcast channel: %s", ch.Name)
		}
	}
	return senders, nil
}
