// Package notifier is the async operator notification pipeline.
//
// Runners emit small events (bumps sent, security toggled, run failed).
// Notify never blocks on delivery: events are queued and worker goroutines
// fan each one out to every configured transport.Channel, with a shared
// rate limit, retry with jittered backoff, and optional dedup windows that
// can persist across restarts through storage.
//
// Delivery failures are reported on the event bus and logged; they never
// propagate back to the caller.
package notifier
