package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"time"

	"nestsync/internal/config"
	"nestsync/internal/domain"
	"nestsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client talks to the remote document store over its HTTP JSON contract:
// write an operation, upsert a record, delete an owner's collection, list an
// owner's records, health. The sync engines only ever see domain.Backend.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	writeLimiter *rate.Limiter
	pollInterval time.Duration
	logger       *zerolog.Logger
}

func NewClient(cfg config.BackendConfig, logger *zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	rps := cfg.WriteRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.WriteBurst
	if burst <= 0 {
		burst = 5
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		http:         &http.Client{Timeout: timeout},
		writeLimiter: rate.NewLimiter(rate.Limit(rps), burst),
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Write applies one queued operation. The payload is forwarded opaquely; the
// store interprets it according to the operation type.
func (c *Client) Write(ctx context.Context, op *models.QueuedOperation) error {
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return err
	}

	body := map[string]any{
		"id":       op.ID,
		"type":     op.Type,
		"owner_id": op.OwnerID,
		"payload":  json.RawMessage(op.Payload),
	}
	return c.do(ctx, http.MethodPost, "/api/v1/operations", body, nil)
}

// Upsert writes one record directly, bypassing the queue. Used by the
// reconciliation importer; an existing id is overwritten.
func (c *Client) Upsert(ctx context.Context, rec *models.RemoteRecord) error {
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return err
	}
	path := "/api/v1/records/" + url.PathEscape(rec.ID)
	return c.do(ctx, http.MethodPut, path, rec, nil)
}

// DeleteOwner drops every record scoped to the owner.
func (c *Client) DeleteOwner(ctx context.Context, ownerID string) error {
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return err
	}
	path := "/api/v1/records?owner=" + url.QueryEscape(ownerID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// List fetches the owner's full result set.
func (c *Client) List(ctx context.Context, ownerID string) ([]models.RemoteRecord, error) {
	var records []models.RemoteRecord
	path := "/api/v1/records?owner=" + url.QueryEscape(ownerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Health probes the store.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Subscribe opens a polling subscription that delivers the owner's full
// result set whenever it changes. The first fetch always delivers. The
// subscription dies on its first error; the listener supervisor owns the
// backoff-and-replace cycle.
func (c *Client) Subscribe(ctx context.Context, ownerID string) (domain.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &pollSubscription{
		updates: make(chan []models.RemoteRecord, 1),
		errs:    make(chan error, 1),
		cancel:  cancel,
	}
	go c.poll(subCtx, ownerID, sub)
	return sub, nil
}

func (c *Client) poll(ctx context.Context, ownerID string, sub *pollSubscription) {
	defer close(sub.updates)

	var lastHash uint64
	delivered := false

	fetch := func() bool {
		records, err := c.List(ctx, ownerID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			sub.errs <- err
			return false
		}

		h := snapshotHash(records)
		if delivered && h == lastHash {
			return true
		}
		lastHash = h
		delivered = true

		select {
		case sub.updates <- records:
		case <-ctx.Done():
			return false
		}
		return true
	}

	if !fetch() {
		return
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !fetch() {
				return
			}
		}
	}
}

func snapshotHash(records []models.RemoteRecord) uint64 {
	h := fnv.New64a()
	for _, r := range records {
		fmt.Fprintf(h, "%s|%s|%d;", r.ID, r.Data, r.UpdatedAt.UnixNano())
	}
	return h.Sum64()
}

type pollSubscription struct {
	updates chan []models.RemoteRecord
	errs    chan error
	cancel  context.CancelFunc
}

func (s *pollSubscription) Updates() <-chan []models.RemoteRecord { return s.updates }
func (s *pollSubscription) Err() <-chan error                     { return s.errs }
func (s *pollSubscription) Close()                                { s.cancel() }

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
