package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ewers-io/ewers/pkg/async"
	"github.com/ewers-io/ewers/pkg/observability"
	"github.com/ewers-io/ewers/pkg/secrets"
)

// SubscriptionStore is the storage surface the dispatcher needs. It is
// deliberately narrow so the dispatcher does not depend on the full store.
type SubscriptionStore interface {
	// FindActiveWebhooksForEvent returns active webhooks subscribed to event.
	FindActiveWebhooksForEvent(ctx context.Context, event EventType) ([]*Webhook, error)
	// MarkWebhookTriggered records a delivery attempt timestamp. Called on
	// every attempt, successful or not.
	MarkWebhookTriggered(ctx context.Context, webhookID string, at time.Time) error
}

// Result summarizes one fan-out
type Result struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

const (
	defaultDeliveryTimeout = 10 * time.Second
	defaultMaxConcurrency  = 10
)

// Dispatcher delivers events to subscribed webhooks. Each delivery is a
// single POST with no retries; a failing subscriber never blocks or aborts
// delivery to the others.
type Dispatcher struct {
	store       SubscriptionStore
	logs        *DeliveryLogStore
	client      *http.Client
	logger      *observability.Logger
	metrics     *observability.Metrics
	concurrency int
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithHTTPClient overrides the delivery client. The client's timeout bounds
// each delivery attempt.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = client }
}

// WithConcurrency bounds the number of in-flight deliveries per fan-out
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithMetrics attaches delivery metrics
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher over the given subscription store
func NewDispatcher(store SubscriptionStore, logs *DeliveryLogStore, logger *observability.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		logs:        logs,
		client:      &http.Client{Timeout: defaultDeliveryTimeout},
		logger:      logger,
		concurrency: defaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger delivers an event to every active webhook subscribed to it and
// returns the per-subscriber outcome counts. The envelope is serialized once;
// each subscriber gets its own HMAC signature over the same body. An error is
// returned only when the subscriber lookup itself fails.
func (d *Dispatcher) Trigger(ctx context.Context, event EventType, data map[string]interface{}) (Result, error) {
	hooks, err := d.store.FindActiveWebhooksForEvent(ctx, event)
	if err != nil {
		return Result{}, fmt.Errorf("failed to find webhooks for event %s: %w", event, err)
	}
	if len(hooks) == 0 {
		return Result{}, nil
	}

	envelope := Event{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return Result{}, fmt.Errorf("failed to serialize event %s: %w", event, err)
	}
	timestamp := strconv.FormatInt(envelope.Timestamp.UnixMilli(), 10)

	if d.metrics != nil {
		d.metrics.ObserveFanoutSize(len(hooks))
	}

	perDelivery := defaultDeliveryTimeout
	if d.client.Timeout > 0 {
		perDelivery = d.client.Timeout
	}
	// Batch collects failures instead of propagating them, so one bad
	// subscriber never cancels the sibling deliveries.
	errs := async.Batch(ctx, hooks, d.concurrency, perDelivery, func(ctx context.Context, hook *Webhook) error {
		if !d.deliver(ctx, hook, event, body, timestamp) {
			return fmt.Errorf("delivery to webhook %s failed", hook.ID)
		}
		return nil
	})

	result := Result{
		Succeeded: len(hooks) - len(errs),
		Failed:    len(errs),
	}
	d.logger.WithFields(map[string]interface{}{
		"event":     string(event),
		"targets":   len(hooks),
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("webhook fan-out complete")
	return result, nil
}

// deliver performs a single delivery attempt and records its outcome
func (d *Dispatcher) deliver(ctx context.Context, hook *Webhook, event EventType, body []byte, timestamp string) bool {
	start := time.Now()

	// Attempted, not delivered: the timestamp moves even when the target
	// rejects or times out.
	if err := d.store.MarkWebhookTriggered(ctx, hook.ID, start.UTC()); err != nil {
		d.logger.WithError(err).WithField("webhook_id", hook.ID).Warn("failed to mark webhook triggered")
	}

	statusCode, err := d.post(ctx, hook, event, body, timestamp)
	success := err == nil && statusCode >= 200 && statusCode < 300
	duration := time.Since(start)

	log := &DeliveryLog{
		WebhookID:  hook.ID,
		Event:      event,
		StatusCode: statusCode,
		Success:    success,
		Duration:   duration,
		Timestamp:  start.UTC(),
	}
	if err != nil {
		log.Error = err.Error()
	} else if !success {
		log.Error = fmt.Sprintf("unexpected status %d", statusCode)
	}
	if d.logs != nil {
		d.logs.Record(log)
	}

	if !success {
		d.logger.WithFields(map[string]interface{}{
			"webhook_id": hook.ID,
			"event":      string(event),
			"status":     statusCode,
			"error":      log.Error,
		}).Warn("webhook delivery failed")
	}
	if d.metrics != nil {
		d.metrics.ObserveDelivery(string(event), success, duration)
	}
	return success
}

func (d *Dispatcher) post(ctx context.Context, hook *Webhook, event EventType, body []byte, timestamp string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event))
	req.Header.Set(HeaderSignature, secrets.Sign(hook.SecretValue, body))
	req.Header.Set(HeaderTimestamp, timestamp)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// Drain so the transport can reuse the connection
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
