// Package notifications delivers queue and delivery events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set, so
// delivery code can emit notifications unconditionally.
package notifications
