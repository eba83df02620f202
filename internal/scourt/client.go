// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scourt fetches rendered case-status pages from the court portal
// through the captcha-solving scraping service.
package scourt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lemon/casesync/internal/models"
)

// DefaultBaseURL is the scraping service endpoint.
const DefaultBaseURL = "https://test.legalmonster.co.kr/parse_case"

// fetchTimeout bounds one page fetch; solving the portal captcha is slow.
const fetchTimeout = 30 * time.Second

// maxPageBytes caps the response body read into memory.
const maxPageBytes = 16 << 20

var (
	// ErrNetwork reports a transport-level failure (connect, timeout, reset).
	ErrNetwork = errors.New("network request failed")

	// ErrUpstream reports a non-2xx answer from the scraping service.
	ErrUpstream = errors.New("case lookup failed")
)

// UpstreamError is a structured failure reported by the scraping service
// as {"detail": {"code": ..., "message": ...}}.
type UpstreamError struct {
	Status  int
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return "unknown upstream error"
	}
	return e.Message
}

// Is makes errors.Is(err, ErrUpstream) hold for structured failures too.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Query identifies one case on the portal.
type Query struct {
	Court     string // sch_bub_nm, the court the case is filed with
	Year      string
	Category  string
	Serial    string
	PartyName string // ds_nm, a litigant name the portal checks against the case
}

// NewQuery builds a lookup for a tracked case from its parsed case number.
func NewQuery(c models.TrackedCase, n models.CaseNumber) Query {
	return Query{
		Court:     c.Jurisdiction,
		Year:      n.Year,
		Category:  n.Category,
		Serial:    n.Serial,
		PartyName: c.ClientName,
	}
}

func (q Query) form() url.Values {
	v := url.Values{}
	v.Set("sch_bub_nm", q.Court)
	v.Set("sel_sa_year", q.Year)
	v.Set("sa_gubun", q.Category)
	v.Set("sa_serial", q.Serial)
	v.Set("ds_nm", q.PartyName)
	return v
}

// ClientConfig holds the parameters for creating a Client.
type ClientConfig struct {
	BaseURL    string        // defaults to DefaultBaseURL
	Timeout    time.Duration // per fetch, defaults to 30s
	HTTPClient *http.Client  // optional
}

// Client is the scraping service client.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a scraping service client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = fetchTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
	}
}

// FetchCase returns the rendered case-status page for q.
func (c *Client) FetchCase(ctx context.Context, q Query) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(q.form().Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("case lookup request failed", "court", q.Court, "error", err)
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return string(body), nil
	}

	if uerr := parseUpstreamError(resp.StatusCode, body); uerr != nil {
		slog.Error("case lookup rejected by upstream",
			"status", resp.StatusCode,
			"code", uerr.Code,
			"message", uerr.Message,
		)
		return "", uerr
	}
	return "", fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
}

// parseUpstreamError decodes the structured error body, or returns nil when
// the body is not one.
func parseUpstreamError(status int, body []byte) *UpstreamError {
	var payload struct {
		Detail map[string]json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Detail == nil {
		return nil
	}
	rawCode, hasCode := payload.Detail["code"]
	rawMsg, hasMsg := payload.Detail["message"]
	if !hasCode || !hasMsg {
		return nil
	}

	uerr := &UpstreamError{Status: status, Code: scalar(rawCode)}
	var msg string
	if err := json.Unmarshal(rawMsg, &msg); err == nil {
		uerr.Message = msg
	}
	return uerr
}

// scalar renders a JSON string or number as plain text.
func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
