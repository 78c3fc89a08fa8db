package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClientOptions configures the CRM REST client.
// Zero values get conservative defaults.
type HTTPClientOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPClient talks to the CRM REST API. Transient failures (429, 5xx) are
// retried with exponential backoff; the context bounds the whole call.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

func (c *HTTPClient) GetObject(ctx context.Context, name string) (Object, error) {
	var out struct {
		Data Object `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/objects/"+url.PathEscape(name), nil, nil, &out); err != nil {
		return Object{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) GetRecord(ctx context.Context, objectType, id string) (Record, error) {
	var out struct {
		Data Record `json:"data"`
	}
	path := fmt.Sprintf("/v2/objects/%s/records/%s", url.PathEscape(objectType), url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return Record{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) ListRecords(ctx context.Context, objectType string, params ListParams) ([]Record, error) {
	var out struct {
		Data []Record `json:"data"`
	}
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	path := fmt.Sprintf("/v2/objects/%s/records", url.PathEscape(objectType))
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) QueryRecords(ctx context.Context, objectType string, filter Filter) ([]Record, error) {
	var out struct {
		Data []Record `json:"data"`
	}
	body := map[string]any{
		"filter": map[string]any{filter.Attribute: filter.Value},
	}
	path := fmt.Sprintf("/v2/objects/%s/records/query", url.PathEscape(objectType))
	if err := c.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) SearchRecords(ctx context.Context, objectType, query string) ([]Record, error) {
	var out struct {
		Data []Record `json:"data"`
	}
	q := url.Values{}
	q.Set("query", query)
	path := fmt.Sprintf("/v2/objects/%s/records/search", url.PathEscape(objectType))
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) BatchGetRecords(ctx context.Context, objectType string, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	var out struct {
		Data []Record `json:"data"`
	}
	body := map[string]any{
		"filter": map[string]any{"record_id": map[string]any{"$in": ids}},
	}
	path := fmt.Sprintf("/v2/objects/%s/records/query", url.PathEscape(objectType))
	if err := c.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) CreateRecord(ctx context.Context, objectType string, attributes map[string]any) (Record, error) {
	var out struct {
		Data Record `json:"data"`
	}
	body := map[string]any{"data": map[string]any{"values": attributes}}
	path := fmt.Sprintf("/v2/objects/%s/records", url.PathEscape(objectType))
	if err := c.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return Record{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) CreateNote(ctx context.Context, req NoteRequest) (Note, error) {
	var out struct {
		Data Note `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/notes", nil, map[string]any{"data": req}, &out); err != nil {
		return Note{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) DeleteNote(ctx context.Context, noteID string) error {
	return c.do(ctx, http.MethodDelete, "/v2/notes/"+url.PathEscape(noteID), nil, nil, nil)
}

func (c *HTTPClient) CreateWebhook(ctx context.Context, req WebhookRequest) (Webhook, error) {
	var out struct {
		Data Webhook `json:"data"`
	}
	body := map[string]any{"data": req}
	if err := c.do(ctx, http.MethodPost, "/v2/webhooks", nil, body, &out); err != nil {
		return Webhook{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v2/webhooks/"+url.PathEscape(id), nil, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if werr := c.wait(ctx, attempt); werr != nil {
					return werr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return readErr
			}
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusConflict:
			return ErrConflict
		case resp.StatusCode == http.StatusBadRequest && strings.Contains(string(respBody), "filter"):
			// The CRM rejects filter shapes it does not index; callers
			// fall back to free-text search.
			return fmt.Errorf("%w: %s", ErrUnsupportedFilter, truncate(respBody, 200))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt < c.maxRetries {
				if werr := c.wait(ctx, attempt); werr != nil {
					return werr
				}
				continue
			}
			return fmt.Errorf("crm: %s %s failed with status %d: %s", method, path, resp.StatusCode, truncate(respBody, 200))
		default:
			return fmt.Errorf("crm: %s %s failed with status %d: %s", method, path, resp.StatusCode, truncate(respBody, 200))
		}
	}
}

func (c *HTTPClient) wait(ctx context.Context, attempt int) error {
	delay := c.baseDelay << uint(attempt)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
