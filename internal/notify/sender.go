package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"
)

// Sender is one channel type's delivery primitive.
type Sender interface {
	Deliver(ctx context.Context, ch *Channel, msg *Message) error
}

// NewSenderRegistry wires the default sender for every channel type.
func NewSenderRegistry() map[ChannelType]Sender {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	return map[ChannelType]Sender{
		ChannelConsole: &ConsoleSender{Out: os.Stdout},
		ChannelFile:    &FileSender{},
		ChannelEmail:   &EmailSender{},
		ChannelSlack:   &SlackSender{Client: httpClient},
		ChannelWebhook: &WebhookSender{Client: httpClient},
		ChannelSMS:     &SMSSender{Client: httpClient},
	}
}

// ConsoleSender prints the notification to a writer (stdout by default).
type ConsoleSender struct {
	Out io.Writer
}

func (s *ConsoleSender) Deliver(ctx context.Context, ch *Channel, msg *Message) error {
	_, err := fmt.Fprintf(s.Out, "[%s] %s %s: %s (%s)\n",
		msg.CreatedAt.Format(time.RFC3339),
		strings.ToUpper(string(msg.Severity)),
		msg.UnitID,
		msg.Title,
		msg.AlertID,
	)
	return err
}

// FileSender appends one JSON line per notification to the configured path.
type FileSender struct{}

func (s *FileSender) Deliver(ctx context.Context, ch *Channel, msg *Message) error {
	path := ch.Config["path"]
	if path == "" {
		return fmt.Errorf("file channel %s has no path configured", ch.ID)
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notification log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// WebhookSender posts the message as JSON to the configured URL, signing the
// payload when a secret is present.
type WebhookSender struct {
	Client *http.Client
}

func (s *WebhookSender) Deliver(ctx context.Context, ch *Channel, msg *Message) error {
	url := ch.Config["url"]
	if url == "" {
		return fmt.Errorf("webhook channel %s has no url configured", ch.ID)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Sentinela-Notify/1.0")
	if secret := ch.Config["secret"]; secret != "" {
		req.Header.Set("X-Sentinela-Signature", signPayload(secret, payload))
	}

	return doPost(s.Client, req)
}

// signPayload computes the HMAC-SHA256 signature receivers use to
// authenticate webhook deliveries.
func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// SlackSender posts a Slack-shaped payload to an incoming-webhook URL.
type SlackSender struct {
	Client *http.Client
}

func (s *SlackSender) Deliver(ctx context.Context, ch *Channel, msg *Message) error {
	url := ch.Config["webhook_url"]
	if url == "" {
		return fmt.Errorf("slack channel %s has no webhook_url configured", ch.ID)
	}

	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* [%s] %s — %s", msg.Title, msg.Severity, msg.UnitID, msg.Body),
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doPost(s.Client, req)
}

// SMSSender posts to an HTTP SMS gateway. The gateway contract is a plain
// JSON body with "to" and "text".
type SMSSender struct {
	Client *http.Client
}

func (s *SMSSender) Deliver(ctx context.Context, ch *Channel, msg *Message) error {
	url := ch.Config["gateway_url"]
	to := ch.Config["to"]
	if url == "" || to == "" {
		return fmt.Errorf("sms channel %s needs gateway_url and to configured", ch.ID)
	}

	payload, err := json.Marshal(map[string]string{
		"to":   to,
		"text": fmt.Sprintf("[%s] %s: %s", msg.Severity, msg.UnitID, msg.Title),
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := ch.Config["api_key"]; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	return doPost(s.Client, req)
}

// EmailSender delivers through a plain SMTP relay.
type EmailSender struct{}

func (s *EmailSender) Deliver(ctx context.Context, ch *Channel, msg *Message) error {
	host := ch.Config["smtp_host"]
	from := ch.Config["from"]
	to := ch.Config["to"]
	if host == "" || from == "" || to == "" {
		return fmt.Errorf("email channel %s needs smtp_host, from and to configured", ch.ID)
	}

	var auth smtp.Auth
	if user := ch.Config["smtp_user"]; user != "" {
		auth = smtp.PlainAuth("", user, ch.Config["smtp_password"], strings.Split(host, ":")[0])
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [%s] %s\r\n\r\n%s\r\n\r\nunit: %s\nalert: %s\n",
		from, to, strings.ToUpper(string(msg.Severity)), msg.Title, msg.Body, msg.UnitID, msg.AlertID)

	if err := smtp.SendMail(host, auth, from, strings.Split(to, ","), []byte(body)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func doPost(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("delivery returned HTTP %d", resp.StatusCode)
	}
	return nil
}
