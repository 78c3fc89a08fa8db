package telephony

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

// HTTPClientOptions configures the telephony REST client.
type HTTPClientOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPClient talks to the telephony REST API with retry on 429/5xx.
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

func (c *HTTPClient) GetCall(ctx context.Context, id string) (Call, error) {
	var out struct {
		Data Call `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return Call{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) GetCallVoicemails(ctx context.Context, callID string) ([]Voicemail, error) {
	var out struct {
		Data []Voicemail `json:"data"`
	}
	path := "/v1/calls/" + url.PathEscape(callID) + "/voicemails"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) GetCallRecordings(ctx context.Context, callID string) ([]Recording, error) {
	var out struct {
		Data []Recording `json:"data"`
	}
	path := "/v1/calls/" + url.PathEscape(callID) + "/recordings"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) GetPhoneNumber(ctx context.Context, id string) (PhoneNumber, error) {
	var out struct {
		Data PhoneNumber `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/phone-numbers/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return PhoneNumber{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) GetUser(ctx context.Context, id string) (User, error) {
	var out struct {
		Data User `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return User{}, err
	}
	return out.Data, nil
}

// ListContacts serializes ExternalIDs as one repeated externalIds parameter
// per id. The upstream API rejects comma-joined and bracketed variants, so
// this shape is load-bearing, including the omit-when-empty case.
func (c *HTTPClient) ListContacts(ctx context.Context, filter ContactFilter) ([]Contact, error) {
	var out struct {
		Data []Contact `json:"data"`
	}
	q := url.Values{}
	for _, id := range filter.ExternalIDs {
		q.Add("externalIds", id)
	}
	if filter.PhoneNumber != "" {
		q.Set("phoneNumber", filter.PhoneNumber)
	}
	if filter.Limit > 0 {
		q.Set("maxResults", strconv.Itoa(filter.Limit))
	}
	if err := c.do(ctx, http.MethodGet, "/v1/contacts", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) CreateContact(ctx context.Context, req ContactRequest) (Contact, error) {
	var out struct {
		Data Contact `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/contacts", nil, req, &out); err != nil {
		return Contact{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) UpdateContact(ctx context.Context, id string, req ContactRequest) (Contact, error) {
	var out struct {
		Data Contact `json:"data"`
	}
	if err := c.do(ctx, http.MethodPut, "/v1/contacts/"+url.PathEscape(id), nil, req, &out); err != nil {
		return Contact{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) CreateMessageWebhook(ctx context.Context, hookURL string, events, resourceIDs []string) (Webhook, error) {
	return c.createWebhook(ctx, "/v1/webhooks/messages", hookURL, events, resourceIDs)
}

func (c *HTTPClient) CreateCallWebhook(ctx context.Context, hookURL string, events, resourceIDs []string) (Webhook, error) {
	return c.createWebhook(ctx, "/v1/webhooks/calls", hookURL, events, resourceIDs)
}

func (c *HTTPClient) CreateCallSummaryWebhook(ctx context.Context, hookURL string, events, resourceIDs []string) (Webhook, error) {
	return c.createWebhook(ctx, "/v1/webhooks/call-summaries", hookURL, events, resourceIDs)
}

func (c *HTTPClient) createWebhook(ctx context.Context, path, hookURL string, events, resourceIDs []string) (Webhook, error) {
	var out struct {
		Data Webhook `json:"data"`
	}
	body := map[string]any{
		"url":    hookURL,
		"events": events,
	}
	if len(resourceIDs) > 0 {
		body["resourceIds"] = resourceIDs
	}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return Webhook{}, err
	}
	return out.Data, nil
}

func (c *HTTPClient) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/webhooks/"+url.PathEscape(id), nil, nil, nil)
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
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt < c.maxRetries {
				if werr := c.wait(ctx, attempt); werr != nil {
					return werr
				}
				continue
			}
			return fmt.Errorf("telephony: %s %s failed with status %d: %s", method, path, resp.StatusCode, truncate(respBody, 200))
		default:
			return fmt.Errorf("telephony: %s %s failed with status %d: %s", method, path, resp.StatusCode, truncate(respBody, 200))
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
