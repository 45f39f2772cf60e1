package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slate/internal/config"
	"slate/internal/logging"
	"slate/internal/services"
)

const userAgent = "Slate-Go/0.1.0"

// apiService speaks HTTP to the ledger API for every delivery leg.
type apiService struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func newAPIService(cfg *config.Config, logger *slog.Logger) (*apiService, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Ledger.APIBaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("ledger api base url is not configured")
	}

	timeout := time.Duration(cfg.Ledger.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &apiService{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Ledger.APIToken),
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(logger, "ledger"),
	}, nil
}

func (a *apiService) Ping(ctx context.Context) error {
	req, err := a.newRequest(ctx, http.MethodGet, "/v1/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransport, "ledger", "ping", "ledger unreachable", err)
	}
	defer drainBody(resp)

	if resp.StatusCode >= 300 {
		return a.statusError(resp, "ping")
	}
	return nil
}

func (a *apiService) BinaryOffset(ctx context.Context, artifactID string) (int64, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/v1/artifacts/"+url.PathEscape(artifactID)+"/binary/offset", nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, services.Wrap(services.ErrTransport, "ledger", "binary offset", "probe failed", err)
	}
	defer drainBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode >= 300 {
		return 0, a.statusError(resp, "binary offset")
	}

	var body struct {
		Offset int64 `json:"offset"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, services.Wrap(services.ErrTransport, "ledger", "binary offset", "decode response", err)
	}
	if body.Offset < 0 {
		return 0, nil
	}
	return body.Offset, nil
}

func (a *apiService) PutBinary(ctx context.Context, put BinaryPut) (string, error) {
	reader := &countingReader{r: put.Body, base: put.Offset, progress: put.Progress}
	req, err := a.newRequest(ctx, http.MethodPut, "/v1/artifacts/"+url.PathEscape(put.ArtifactID)+"/binary", reader)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", put.MimeType)
	if put.Size > 0 {
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", put.Offset, put.Size-1, put.Size))
		req.ContentLength = put.Size - put.Offset
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransport, "ledger", "put binary", "upload failed", err)
	}
	defer drainBody(resp)

	if resp.StatusCode >= 300 {
		return "", a.statusError(resp, "put binary")
	}

	var body struct {
		RemoteRef string `json:"remote_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", services.Wrap(services.ErrTransport, "ledger", "put binary", "decode response", err)
	}
	return body.RemoteRef, nil
}

func (a *apiService) RegisterMetadata(ctx context.Context, meta Metadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	req, err := a.newRequest(ctx, http.MethodPost, "/v1/artifacts/"+url.PathEscape(meta.ClientArtifactID)+"/metadata", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransport, "ledger", "register metadata", "request failed", err)
	}
	defer drainBody(resp)

	// Conflict means the ledger already holds this artifact ID, which is
	// the outcome a retry wants.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 300 {
		return a.statusError(resp, "register metadata")
	}
	return nil
}

func (a *apiService) Quota(ctx context.Context, userID string) (QuotaState, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/v1/quota/"+url.PathEscape(userID), nil)
	if err != nil {
		return QuotaState{}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return QuotaState{}, services.Wrap(services.ErrTransport, "ledger", "quota", "request failed", err)
	}
	defer drainBody(resp)

	if resp.StatusCode >= 300 {
		return QuotaState{}, a.statusError(resp, "quota")
	}

	var state QuotaState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return QuotaState{}, services.Wrap(services.ErrTransport, "ledger", "quota", "decode response", err)
	}
	return state, nil
}

func (a *apiService) ApplyQuotaDelta(ctx context.Context, userID string, deltaBytes int64) (QuotaState, error) {
	payload, err := json.Marshal(map[string]int64{"delta_bytes": deltaBytes})
	if err != nil {
		return QuotaState{}, fmt.Errorf("marshal quota delta: %w", err)
	}

	req, err := a.newRequest(ctx, http.MethodPost, "/v1/quota/"+url.PathEscape(userID)+"/delta", bytes.NewReader(payload))
	if err != nil {
		return QuotaState{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return QuotaState{}, services.Wrap(services.ErrTransport, "ledger", "apply quota delta", "request failed", err)
	}
	defer drainBody(resp)

	if resp.StatusCode >= 300 {
		return QuotaState{}, a.statusError(resp, "apply quota delta")
	}

	var state QuotaState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return QuotaState{}, services.Wrap(services.ErrTransport, "ledger", "apply quota delta", "decode response", err)
	}
	return state, nil
}

func (a *apiService) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

func (a *apiService) statusError(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := fmt.Sprintf("ledger returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	marker := services.ErrTransport
	if resp.StatusCode == http.StatusRequestEntityTooLarge || resp.StatusCode == http.StatusInsufficientStorage {
		marker = services.ErrQuotaExceeded
	}
	return services.Wrap(marker, "ledger", operation, message, nil)
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
