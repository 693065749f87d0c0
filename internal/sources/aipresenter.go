package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/models"
)

// maxStatusBody caps how much of the status response is read.
const maxStatusBody = 1 << 20

// AIPresenterOptions configures the AI presenter status client.
type AIPresenterOptions struct {
	StatusURL  string
	APIKey     string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Now        func() time.Time
}

// AIPresenterClient polls the AI presenter service for its active session.
type AIPresenterClient struct {
	applier
	opts AIPresenterOptions
}

// NewAIPresenterClient creates a client.
func NewAIPresenterClient(store Store, opts AIPresenterOptions, logger *zap.Logger) *AIPresenterClient {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIPresenterClient{
		applier: applier{kind: models.SourceAIPresenter, store: store, logger: logger},
		opts:    opts,
	}
}

// Kind implements Client.
func (c *AIPresenterClient) Kind() models.SourceKind { return models.SourceAIPresenter }

// Sync upserts the active session, if any, and ends every other live AI session.
func (c *AIPresenterClient) Sync(ctx context.Context) error {
	if c.opts.StatusURL == "" || c.opts.APIKey == "" {
		return &AuthError{Source: c.kind, Err: errMissingCredential}
	}
	status, err := retry(ctx, c.opts.Retry, func() (AIPresenterSession, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return unwrapPermanent(err)
	}

	var records []UpstreamRecord
	if status.Active {
		records = append(records, status)
	}
	seen, upsertErr := c.upsertAll(ctx, records, c.opts.Now())
	endErr := c.endMissing(ctx, seen, nil)
	if upsertErr != nil {
		return upsertErr
	}
	return endErr
}

func (c *AIPresenterClient) fetch(ctx context.Context) (AIPresenterSession, error) {
	var status AIPresenterSession
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.StatusURL, nil)
	if err != nil {
		return status, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return status, &TransientError{Source: c.kind, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(c.kind, resp.StatusCode); err != nil {
		return status, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return status, &TransientError{Source: c.kind, Err: fmt.Errorf("read status: %w", err)}
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return status, &MalformedRecordError{Source: c.kind, Err: fmt.Errorf("decode status: %w", err)}
	}
	return status, nil
}
