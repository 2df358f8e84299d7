package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioSenderPostsPerRecipient(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		bodies = append(bodies, r.PostForm.Encode())
		user, _, _ := r.BasicAuth()
		auths = append(auths, user)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender := NewTwilioSMSSender(map[string]string{
		"base_url":    srv.URL,
		"account_sid": "AC123",
		"auth_token":  "tok",
		"from":        "+15550000",
	}, quietLog())

	recipients := []Recipient{
		{Name: "A", Phone: "+15550100"},
		{Name: "B", Phone: "+15550101"},
		{Name: "No phone", Email: "x@example.org"},
	}
	result := sender.Send(context.Background(), testAlert(t), recipients)

	assert.True(t, result.Succeeded())
	assert.Equal(t, 2, result.Recipients)
	assert.Equal(t, 0, result.Failed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], "To=%2B15550100")
	assert.Contains(t, bodies[0], "CRITICAL")
	assert.Contains(t, bodies[0], "flood+warning")
	assert.Equal(t, "AC123", auths[0])
}

func TestWhatsAppSenderPrefixesNumbers(t *testing.T) {
	var form string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm.Encode()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender := NewWhatsAppSender(map[string]string{
		"base_url":    srv.URL,
		"account_sid": "AC123",
		"auth_token":  "tok",
		"from":        "+15550000",
	}, quietLog())

	result := sender.Send(context.Background(), testAlert(t), []Recipient{{Name: "A", Phone: "+15550100"}})
	assert.True(t, result.Succeeded())
	assert.Contains(t, form, "whatsapp%3A%2B15550100")
	assert.Contains(t, form, "From=whatsapp%3A%2B15550000")
}

func TestTwilioSenderCountsGatewayErrors(t *testing.T) {
	var n int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		n++
		current := n
		mu.Unlock()
		if current == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender := NewTwilioSMSSender(map[string]string{
		"base_url":    srv.URL,
		"account_sid": "AC123",
		"auth_token":  "tok",
		"from":        "+15550000",
	}, quietLog())

	result := sender.Send(context.Background(), testAlert(t), []Recipient{
		{Name: "A", Phone: "+15550100"},
		{Name: "B", Phone: "+15550101"},
	})
	assert.False(t, result.Succeeded())
	assert.Equal(t, 2, result.Recipients)
	assert.Equal(t, 1, result.Failed)
}

func TestClickatellSenderPayload(t *testing.T) {
	var payload map[string]interface{}
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		authHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewClickatellSender(map[string]string{
		"base_url": srv.URL,
		"api_key":  "ck-key",
	}, quietLog())

	result := sender.Send(context.Background(), testAlert(t), []Recipient{{Name: "A", Phone: "+15550100"}})
	assert.True(t, result.Succeeded())
	assert.Equal(t, "ck-key", authHeader)
	assert.Equal(t, []interface{}{"+15550100"}, payload["to"])
	assert.Contains(t, payload["content"], "flood warning")
}

func TestCallCenterSenderPayload(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewCallCenterSender(map[string]string{
		"endpoint": srv.URL,
		"token":    "cc-token",
	}, quietLog())

	alert := testAlert(t)
	result := sender.Send(context.Background(), alert, []Recipient{{Name: "Operator", Phone: "+15550100"}})
	assert.True(t, result.Succeeded())
	assert.Equal(t, alert.ID, payload["alert_id"])
	assert.Equal(t, "+15550100", payload["callee"])
}

func TestSocialSenderSinglePost(t *testing.T) {
	var mu sync.Mutex
	posts := 0
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		posts++
		mu.Unlock()
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSocialSender(ChannelTwitter, map[string]string{
		"endpoint": srv.URL,
		"token":    "tw-token",
	}, quietLog())

	// Recipients are irrelevant for social channels: one post regardless
	result := sender.Send(context.Background(), testAlert(t), []Recipient{
		{Name: "A", Phone: "+15550100"},
		{Name: "B", Phone: "+15550101"},
	})
	assert.True(t, result.Succeeded())
	assert.Equal(t, 1, result.Recipients)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, posts)
	assert.Contains(t, payload["status"], "[CRITICAL] flood warning @ district 4")
}

func TestSocialSenderUnreachableEndpoint(t *testing.T) {
	sender := NewSocialSender(ChannelFacebook, map[string]string{
		"endpoint": "http://127.0.0.1:1/post",
		"token":    "fb-token",
	}, quietLog())

	result := sender.Send(context.Background(), testAlert(t), nil)
	assert.False(t, result.Succeeded())
	assert.NotEmpty(t, result.Error)
}

func TestEmailSenderStub(t *testing.T) {
	sender := NewEmailSender(quietLog())
	result := sender.Send(context.Background(), testAlert(t), []Recipient{
		{Name: "A", Email: "a@example.org"},
		{Name: "B", Phone: "+15550100"},
	})
	assert.True(t, result.Succeeded())
	assert.Equal(t, 1, result.Recipients)
}
