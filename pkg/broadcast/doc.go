// Package broadcast pushes alerts out over the configured notification
// channels: per-recipient channels such as SMS gateways, WhatsApp, and the
// call center roster, and single-post social channels. Channels are isolated
// from one another; a broadcast succeeds only when every attempted channel
// succeeds.
package broadcast
