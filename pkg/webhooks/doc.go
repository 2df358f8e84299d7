// Package webhooks provides event-driven webhook fan-out for alert and
// incident events.
//
// # Overview
//
// This package manages webhook registration and signed delivery: subscribers
// register a target URL with a set of event tags, and the dispatcher fans
// each event out to all active matching subscribers with per-target HMAC
// signatures and partial-failure isolation.
//
// # Event tags
//
// alert.created, alert.updated, alert.resolved
// incident.reported, incident.updated
// api.accessed
//
// # Usage
//
// Fire an event:
//
//	result, err := dispatcher.Trigger(ctx, webhooks.EventAlertCreated, map[string]interface{}{
//		"id":    alert.ID,
//		"title": alert.Title,
//	})
//
// Verify a delivery (receiver side):
//
//	sig := r.Header.Get(webhooks.HeaderSignature)
//	if !secrets.Verify(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Delivery semantics
//
// One POST per event per subscriber, 10s timeout, no sender-side retries.
// A failing subscriber never blocks delivery to the others; outcomes are
// aggregated into success/failure counts and recorded in the delivery log.
//
// # Related Packages
//
//   - pkg/secrets: HMAC signing
//   - pkg/broadcast: direct-recipient channel fan-out
package webhooks
