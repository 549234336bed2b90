// Package events is dobbyd's in-process pub/sub bus.
//
// The container manager (and the daemon's startup code) publish lifecycle
// events (container started/stopped/paused, hook failures) to a single
// Broker. The IPC dispatcher subscribes and turns EventReady, EventStarted
// and EventStopped into the daemon's Ready/Started/Stopped signals. The
// metrics collector does not subscribe; it polls container counts on its
// own ticker.
//
// Delivery to subscribers is best-effort: a subscriber with a full buffer
// simply misses events rather than stalling the broker. Publish itself
// blocks only while the broker's own inbound buffer is full.
package events
