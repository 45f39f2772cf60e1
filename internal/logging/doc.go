// Package logging wraps log/slog with slate's handler setup and the
// standardized attribute keys used across the capture and delivery pipeline.
package logging
