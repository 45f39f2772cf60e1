package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slate/internal/config"
)

const userAgent = "Slate-Go/0.1.0"

// Service defines the notification surface exposed to delivery components.
type Service interface {
	NotifyArtifactDelivered(ctx context.Context, participantRef, classRef string, byteSize int64) error
	NotifyDeliveryFailed(ctx context.Context, artifactID, cause string) error
	NotifyQuotaHeld(ctx context.Context, artifactID, userID string) error
	NotifyPassCompleted(ctx context.Context, delivered, failed int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyArtifactDelivered(ctx context.Context, participantRef, classRef string, byteSize int64) error {
	participantRef = strings.TrimSpace(participantRef)
	classRef = strings.TrimSpace(classRef)
	data := payload{
		title:   "Slate - Delivered",
		message: fmt.Sprintf("Capture delivered: %s / %s (%d bytes)", participantRef, classRef, byteSize),
		tags:    []string{"slate", "delivery", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDeliveryFailed(ctx context.Context, artifactID, cause string) error {
	artifactID = strings.TrimSpace(artifactID)
	cause = strings.TrimSpace(cause)
	if cause == "" {
		cause = "unknown"
	}
	data := payload{
		title:    "Slate - Delivery Failed",
		message:  fmt.Sprintf("Delivery failed for %s: %s", artifactID, cause),
		tags:     []string{"slate", "delivery", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQuotaHeld(ctx context.Context, artifactID, userID string) error {
	artifactID = strings.TrimSpace(artifactID)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = "unknown"
	}
	data := payload{
		title:    "Slate - Quota Exceeded",
		message:  fmt.Sprintf("Capture %s held: storage quota exhausted for %s", artifactID, userID),
		tags:     []string{"slate", "quota", "held"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPassCompleted(ctx context.Context, delivered, failed int) error {
	var title, message string
	if failed == 0 {
		title = "Slate - Pass Complete"
		message = fmt.Sprintf("Delivery pass complete: %d captures delivered", delivered)
	} else {
		title = "Slate - Pass Complete (with errors)"
		message = fmt.Sprintf("Delivery pass complete: %d delivered, %d failed", delivered, failed)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"slate", "delivery", "pass"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Slate - Error",
		message:  builder.String(),
		tags:     []string{"slate", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Slate - Test",
		message:  "Notification system test",
		tags:     []string{"slate", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyArtifactDelivered(context.Context, string, string, int64) error { return nil }
func (noopService) NotifyDeliveryFailed(context.Context, string, string) error           { return nil }
func (noopService) NotifyQuotaHeld(context.Context, string, string) error                { return nil }
func (noopService) NotifyPassCompleted(context.Context, int, int) error                  { return nil }
func (noopService) NotifyError(context.Context, error, string) error                     { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
