package broadcast

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	result ChannelResult
	mu     sync.Mutex
	calls  int
	got    []Recipient
	panics bool
}

func (s *fakeSender) Name() string { return s.name }

func (s *fakeSender) Send(_ context.Context, _ *Alert, recipients []Recipient) ChannelResult {
	s.mu.Lock()
	s.calls++
	s.got = recipients
	s.mu.Unlock()
	if s.panics {
		panic("sender exploded")
	}
	r := s.result
	r.Channel = s.name
	r.Recipients = len(recipients)
	return r
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSender) received() []Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testAlert(t *testing.T) *Alert {
	t.Helper()
	alert, err := NewAlert("user-1", "flood warning", "river rising fast", SeverityCritical, "district 4")
	require.NoError(t, err)
	return alert
}

func TestBroadcastAllChannelsSucceed(t *testing.T) {
	a := &fakeSender{name: ChannelSMSTwilio}
	b := &fakeSender{name: ChannelTwitter}
	cfg := &Config{Recipients: []Recipient{{Name: "Ops", Phone: "+15550100"}}}
	c := NewCoordinator([]Sender{a, b}, cfg, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t), nil, Recipients{})
	assert.True(t, result.Success)
	assert.Len(t, result.Channels, 2)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestBroadcastOneChannelFailureFailsAggregate(t *testing.T) {
	ok := &fakeSender{name: ChannelSMSTwilio}
	bad := &fakeSender{name: ChannelTwitter, result: ChannelResult{Failed: 1, Error: "api down"}}
	other := &fakeSender{name: ChannelCallCenter}
	cfg := &Config{}
	c := NewCoordinator([]Sender{ok, bad, other}, cfg, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t), nil, Recipients{})

	// Aggregate fails, but every channel was still attempted
	assert.False(t, result.Success)
	assert.Equal(t, 1, ok.callCount())
	assert.Equal(t, 1, other.callCount())
	require.Len(t, result.Channels, 3)

	byName := map[string]ChannelResult{}
	for _, cr := range result.Channels {
		byName[cr.Channel] = cr
	}
	assert.True(t, byName[ChannelSMSTwilio].Succeeded())
	assert.False(t, byName[ChannelTwitter].Succeeded())
	assert.Equal(t, "api down", byName[ChannelTwitter].Error)
}

func TestBroadcastPartialRecipientFailureFailsChannel(t *testing.T) {
	partial := &fakeSender{name: ChannelSMSTwilio, result: ChannelResult{Failed: 1}}
	c := NewCoordinator([]Sender{partial}, &Config{}, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t), nil, Recipients{})
	assert.False(t, result.Success)
}

func TestBroadcastRecoversPanickingChannel(t *testing.T) {
	ok := &fakeSender{name: ChannelSMSTwilio}
	boom := &fakeSender{name: ChannelFacebook, panics: true}
	c := NewCoordinator([]Sender{ok, boom}, &Config{}, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t), nil, Recipients{})
	assert.False(t, result.Success)
	assert.Equal(t, 1, ok.callCount())

	byName := map[string]ChannelResult{}
	for _, cr := range result.Channels {
		byName[cr.Channel] = cr
	}
	assert.Equal(t, "channel panicked", byName[ChannelFacebook].Error)
	assert.True(t, byName[ChannelSMSTwilio].Succeeded())
}

func TestBroadcastNoChannelsIsVacuousSuccess(t *testing.T) {
	c := NewCoordinator(nil, &Config{}, quietLog(), nil)
	result := c.Broadcast(context.Background(), testAlert(t), nil, Recipients{})
	assert.True(t, result.Success)
	assert.Empty(t, result.Channels)
}

func TestBroadcastRoutesRecipientsPerChannel(t *testing.T) {
	sms := &fakeSender{name: ChannelSMSTwilio}
	cfg := &Config{Recipients: []Recipient{
		{Name: "Everyone", Phone: "+15550100"},
		{Name: "SMS only", Phone: "+15550101", Channel: ChannelSMSTwilio},
		{Name: "Callers", Phone: "+15550102", Channel: ChannelCallCenter},
	}}
	c := NewCoordinator([]Sender{sms}, cfg, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t), nil, Recipients{})
	require.Len(t, result.Channels, 1)
	// The unrouted recipient plus the sms-routed one
	assert.Equal(t, 2, result.Channels[0].Recipients)
}

func TestBroadcastRequestedChannelSubset(t *testing.T) {
	sms := &fakeSender{name: ChannelSMSTwilio}
	email := &fakeSender{name: ChannelEmail}
	twitter := &fakeSender{name: ChannelTwitter}
	c := NewCoordinator([]Sender{sms, email, twitter}, &Config{}, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t),
		[]string{ChannelSMSTwilio, ChannelEmail}, Recipients{})

	assert.True(t, result.Success)
	assert.Len(t, result.Channels, 2)
	assert.Equal(t, 1, sms.callCount())
	assert.Equal(t, 1, email.callCount())
	assert.Equal(t, 0, twitter.callCount())
}

func TestBroadcastUnknownChannelFailsAggregate(t *testing.T) {
	sms := &fakeSender{name: ChannelSMSTwilio}
	c := NewCoordinator([]Sender{sms}, &Config{}, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t),
		[]string{ChannelSMSTwilio, "carrier_pigeon"}, Recipients{})

	// The known channel is still attempted
	assert.False(t, result.Success)
	assert.Equal(t, 1, sms.callCount())
	require.Len(t, result.Channels, 2)

	byName := map[string]ChannelResult{}
	for _, cr := range result.Channels {
		byName[cr.Channel] = cr
	}
	assert.True(t, byName[ChannelSMSTwilio].Succeeded())
	assert.Equal(t, "unknown channel", byName["carrier_pigeon"].Error)
	assert.Equal(t, 1, byName["carrier_pigeon"].Failed)
}

func TestBroadcastCallerRecipientsReplaceRoster(t *testing.T) {
	sms := &fakeSender{name: ChannelSMSTwilio}
	cfg := &Config{Recipients: []Recipient{{Name: "Ops", Phone: "+15550100"}}}
	c := NewCoordinator([]Sender{sms}, cfg, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t), nil, Recipients{
		PhoneNumbers: []string{"+15550200", "+15550201"},
		Emails:       []string{"watch@example.org"},
	})

	assert.True(t, result.Success)
	got := sms.received()
	require.Len(t, got, 3)
	assert.Equal(t, "+15550200", got[0].Phone)
	assert.Equal(t, "watch@example.org", got[2].Email)
}

func TestBroadcastEmptyRecipientsFallBackToRoster(t *testing.T) {
	sms := &fakeSender{name: ChannelSMSTwilio}
	cfg := &Config{Recipients: []Recipient{{Name: "Ops", Phone: "+15550100"}}}
	c := NewCoordinator([]Sender{sms}, cfg, quietLog(), nil)

	result := c.Broadcast(context.Background(), testAlert(t),
		[]string{ChannelSMSTwilio}, Recipients{Roles: []string{"duty_officer"}})

	assert.True(t, result.Success)
	got := sms.received()
	require.Len(t, got, 1)
	assert.Equal(t, "+15550100", got[0].Phone)
}
