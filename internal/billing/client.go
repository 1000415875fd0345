package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/logging"
)

// ErrNotFound is returned when the billing service answers 404.
var ErrNotFound = errors.New("not found")

// maxPages bounds pagination when the service misreports total_pages.
const maxPages = 50

// StatusError is a non-2xx answer from the billing service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("billing service returned %d: %s", e.Code, e.Body)
}

// Cache stores raw GET response bodies keyed by request URL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Client talks to the billing REST API.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	cache    Cache
	cacheTTL time.Duration
	attempts int
	delay    time.Duration
	pageSize int
	logger   *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache enables read-through caching of GET responses.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// WithRetryDelay sets the first backoff delay; it doubles on each retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

func New(cfg config.BillingConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("billing base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse billing base url: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultBillingTimeout) * time.Second
	}
	c := &Client{
		baseURL:  base,
		token:    cfg.Token,
		http:     &http.Client{Timeout: timeout},
		attempts: cfg.Retries,
		delay:    500 * time.Millisecond,
		pageSize: cfg.PageSize,
		logger:   zap.NewNop(),
	}
	if c.attempts <= 0 {
		c.attempts = 1
	}
	if c.pageSize <= 0 {
		c.pageSize = config.DefaultBillingPageSize
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Invoices(ctx context.Context, q InvoiceQuery) ([]Invoice, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Supplier != "" {
		params.Set("supplier", q.Supplier)
	}
	if q.Text != "" {
		params.Set("q", q.Text)
	}
	return collect[Invoice](ctx, c, "/invoices", "invoices", params)
}

// Invoice fetches one invoice with its lines.
func (c *Client) Invoice(ctx context.Context, number string) (*Invoice, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, fmt.Errorf("invoice number is required")
	}
	body, err := c.get(ctx, "/invoices/"+url.PathEscape(number), nil)
	if err != nil {
		return nil, err
	}
	var inv Invoice
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice %s: %w", number, err)
	}
	return &inv, nil
}

func (c *Client) Suppliers(ctx context.Context) ([]Supplier, error) {
	return collect[Supplier](ctx, c, "/suppliers", "suppliers", url.Values{})
}

func (c *Client) Employees(ctx context.Context) ([]Employee, error) {
	return collect[Employee](ctx, c, "/employees", "employees", url.Values{})
}

func (c *Client) Transactions(ctx context.Context, q TransactionQuery) ([]Transaction, error) {
	params := url.Values{}
	if !q.From.IsZero() {
		params.Set("from", q.From.Format(DateLayout))
	}
	if !q.To.IsZero() {
		params.Set("to", q.To.Format(DateLayout))
	}
	if q.Supplier != "" {
		params.Set("supplier", q.Supplier)
	}
	return collect[Transaction](ctx, c, "/transactions", "transactions", params)
}

// collect walks every page of a list endpoint. A bare JSON array is accepted
// as a single, complete page.
func collect[T any](ctx context.Context, c *Client, path, key string, params url.Values) ([]T, error) {
	var all []T
	for pageNo := 1; pageNo <= maxPages; pageNo++ {
		params.Set("page", strconv.Itoa(pageNo))
		params.Set("per_page", strconv.Itoa(c.pageSize))

		body, err := c.get(ctx, path, params)
		if err != nil {
			return nil, err
		}

		if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "[") {
			var items []T
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
			return append(all, items...), nil
		}

		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		var items []T
		if raw, ok := envelope[key]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", path, key, err)
			}
		}
		all = append(all, items...)

		var totalPages int
		if raw, ok := envelope["total_pages"]; ok {
			_ = json.Unmarshal(raw, &totalPages)
		}
		if len(items) == 0 || pageNo >= totalPages {
			break
		}
	}
	return all, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	if c.cache != nil {
		body, ok, err := c.cache.Get(ctx, endpoint)
		if err != nil {
			c.logger.Warn("billing cache read failed", zap.String("url", endpoint), zap.Error(err))
		} else if ok {
			c.logger.Debug("billing cache hit", zap.String("url", endpoint))
			return body, nil
		}
	}

	start := time.Now()
	status, body, err := doWithRetry(ctx, c.attempts, c.delay, func() (int, []byte, error) {
		return c.do(ctx, endpoint)
	})
	c.logger.Debug("billing request",
		zap.String("url", endpoint),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("GET %s: %w", path, ErrNotFound)
	case status < 200 || status >= 300:
		return nil, &StatusError{Code: status, Body: logging.Truncate(strings.TrimSpace(string(body)), 200)}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, endpoint, body, c.cacheTTL); err != nil {
			c.logger.Warn("billing cache write failed", zap.String("url", endpoint), zap.Error(err))
		}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
