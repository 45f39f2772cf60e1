// Package session owns the recording lifecycle from idle through preview,
// recording, pause, and stop or discard, and assembles the final capture
// artifact.
//
// The Machine exclusively holds the capture device handle for the whole
// preview-to-stop span. Session state is in-memory only: durability begins
// at the artifact boundary, not before. Score and tag events are recorded
// append-only alongside the media buffer so the packager can compute the
// latest-value score projection while retaining the full event timeline.
package session
