package broadcast

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ewers-io/ewers/pkg/observability"
)

// Coordinator fans one alert out to the requested channels. Channels run
// concurrently and are isolated from one another; each channel's outcome is
// kept separately and the aggregate succeeds only when every channel did.
type Coordinator struct {
	senders []Sender
	config  *Config
	log     *logrus.Logger
	metrics *observability.Metrics
}

// NewCoordinator creates a coordinator over the given senders and roster
func NewCoordinator(senders []Sender, config *Config, log *logrus.Logger, metrics *observability.Metrics) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	return &Coordinator{
		senders: senders,
		config:  config,
		log:     log,
		metrics: metrics,
	}
}

// Broadcast dispatches the alert on the requested channels and returns the
// per-channel outcomes. An empty channel set selects every configured
// channel. An unknown channel tag produces a failed result for that tag and
// fails the aggregate, but the known channels are still attempted. When the
// caller supplies recipients they replace the configured roster; an empty
// roster falls back to the per-channel configuration. Channel failures are
// reported in the result, never as an error.
func (c *Coordinator) Broadcast(ctx context.Context, alert *Alert, channels []string, recipients Recipients) BroadcastResult {
	result := BroadcastResult{AlertID: alert.ID, Success: true}

	selected, unknown := c.selectSenders(channels)
	for _, tag := range unknown {
		c.log.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"channel":  tag,
		}).Warn("Unknown broadcast channel requested")
		result.Channels = append(result.Channels, ChannelResult{
			Channel: tag,
			Failed:  1,
			Error:   "unknown channel",
		})
		result.Success = false
	}
	if len(recipients.UserIDs) > 0 || len(recipients.Roles) > 0 {
		// No user directory is attached, so these cannot be resolved to
		// contact points. The direct contact fields still apply.
		c.log.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"user_ids": len(recipients.UserIDs),
			"roles":    len(recipients.Roles),
		}).Warn("Recipient user IDs and roles are not resolvable without a directory")
	}
	if len(selected) == 0 {
		if len(unknown) == 0 {
			c.log.Warnf("No broadcast channels configured; alert %s not dispatched", alert.ID)
		}
		return result
	}

	roster := recipients.roster()
	results := make([]ChannelResult, len(selected))
	var wg sync.WaitGroup
	for i, sender := range selected {
		wg.Add(1)
		go func(i int, sender Sender) {
			defer wg.Done()
			defer func() {
				// A panicking sender must not take down the broadcast
				if r := recover(); r != nil {
					c.log.Errorf("Channel %s panicked during broadcast of %s: %v", sender.Name(), alert.ID, r)
					results[i] = ChannelResult{
						Channel: sender.Name(),
						Failed:  1,
						Error:   "channel panicked",
					}
				}
			}()
			recs := roster
			if len(recs) == 0 {
				recs = c.config.RecipientsFor(sender.Name())
			}
			results[i] = sender.Send(ctx, alert, recs)
		}(i, sender)
	}
	wg.Wait()

	for _, cr := range results {
		result.Channels = append(result.Channels, cr)
		if c.metrics != nil {
			c.metrics.ObserveChannelSend(cr.Channel, cr.Succeeded(), cr.Duration)
		}
		if !cr.Succeeded() {
			// One failed channel fails the aggregate, but the other
			// channels' sends already happened.
			result.Success = false
			c.log.WithFields(logrus.Fields{
				"alert_id": alert.ID,
				"channel":  cr.Channel,
				"failed":   cr.Failed,
				"error":    cr.Error,
			}).Warn("Broadcast channel failed")
		}
	}

	c.log.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"channels": len(result.Channels),
		"success":  result.Success,
	}).Info("Broadcast complete")
	return result
}

// selectSenders resolves the requested channel tags against the configured
// senders. An empty request selects every sender; duplicate tags collapse.
func (c *Coordinator) selectSenders(channels []string) ([]Sender, []string) {
	if len(channels) == 0 {
		return c.senders, nil
	}
	byName := make(map[string]Sender, len(c.senders))
	for _, s := range c.senders {
		byName[s.Name()] = s
	}
	seen := make(map[string]bool, len(channels))
	var selected []Sender
	var unknown []string
	for _, tag := range channels {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if s, ok := byName[tag]; ok {
			selected = append(selected, s)
		} else {
			unknown = append(unknown, tag)
		}
	}
	return selected, unknown
}
