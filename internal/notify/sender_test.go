package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

func testMessage() *Message {
	return &Message{
		AlertID:   uuid.New(),
		UnitID:    "auth",
		Severity:  domain.SeverityHigh,
		Title:     "Error rate elevated",
		Body:      "error rate above threshold",
		CreatedAt: time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSender_SignsPayloadWhenSecretConfigured(t *testing.T) {
	const secret = "topsecret"

	var gotSignature string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Sentinela-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := &Channel{
		ID:     "hook",
		Type:   ChannelWebhook,
		Config: map[string]string{"url": srv.URL, "secret": secret},
	}
	sender := &WebhookSender{Client: srv.Client()}

	require.NoError(t, sender.Deliver(context.Background(), ch, testMessage()))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, gotSignature)
}

func TestWebhookSender_NoSignatureWithoutSecret(t *testing.T) {
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Sentinela-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := &Channel{
		ID:     "hook",
		Type:   ChannelWebhook,
		Config: map[string]string{"url": srv.URL},
	}
	sender := &WebhookSender{Client: srv.Client()}

	require.NoError(t, sender.Deliver(context.Background(), ch, testMessage()))
	assert.Empty(t, gotSignature)
}

func TestWebhookSender_ErrorStatusFailsDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := &Channel{
		ID:     "hook",
		Type:   ChannelWebhook,
		Config: map[string]string{"url": srv.URL},
	}
	sender := &WebhookSender{Client: srv.Client()}

	err := sender.Deliver(context.Background(), ch, testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestConsoleSender_WritesSummaryLine(t *testing.T) {
	var buf bytes.Buffer
	sender := &ConsoleSender{Out: &buf}
	msg := testMessage()

	require.NoError(t, sender.Deliver(context.Background(), &Channel{ID: "console"}, msg))

	line := buf.String()
	assert.True(t, strings.Contains(line, "HIGH"), "severity missing: %q", line)
	assert.True(t, strings.Contains(line, "auth"), "unit missing: %q", line)
	assert.True(t, strings.Contains(line, msg.Title), "title missing: %q", line)
}

func TestFileSender_RequiresPath(t *testing.T) {
	sender := &FileSender{}
	err := sender.Deliver(context.Background(), &Channel{ID: "file"}, testMessage())
	require.Error(t, err)
}
