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

// Package alimtalk sends KakaoTalk business template messages through the
// NHN Cloud AlimTalk API.
package alimtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Template codes registered with the provider.
const (
	TemplateCaseNewHistory = "CASE_NEW_HISTORY"
	TemplateCaseNewTrial   = "CASE_NEW_TRIAL"
)

// DefaultTemplates lists the required parameters of each registered
// template. A message missing one is rejected before it is sent.
var DefaultTemplates = map[string][]string{
	TemplateCaseNewHistory: {"사건명", "사건번호", "등록건수"},
	TemplateCaseNewTrial:   {"사건명", "사건번호", "날짜", "장소", "기일구분"},
}

var (
	// ErrUnknownTemplate is returned for a template code not in the registry.
	ErrUnknownTemplate = errors.New("unknown template code")

	// ErrMissingParameter is returned when a required template parameter is absent.
	ErrMissingParameter = errors.New("missing template parameter")

	// ErrRejected is returned when the provider answers with a non-200 status.
	ErrRejected = errors.New("message rejected by provider")
)

// Message is a template message bound to its parameters.
type Message interface {
	TemplateCode() string
	Params() map[string]string
}

// Result is the provider's acknowledgement of an accepted message.
type Result struct {
	RequestID     string
	ResultCode    int
	ResultMessage string
}

// ClientConfig holds the parameters for creating a Client.
type ClientConfig struct {
	APIURL     string // e.g. https://api-alimtalk.cloud.toast.com/alimtalk/v2.3
	AppKey     string
	SecretKey  string
	SenderKey  string
	Templates  map[string][]string // defaults to DefaultTemplates
	HTTPClient *http.Client        // optional
}

// Client sends template messages to single recipients.
type Client struct {
	apiURL     string
	appKey     string
	secretKey  string
	senderKey  string
	templates  map[string][]string
	httpClient *http.Client
}

// NewClient creates an AlimTalk client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Templates == nil {
		cfg.Templates = DefaultTemplates
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		apiURL:     cfg.APIURL,
		appKey:     cfg.AppKey,
		secretKey:  cfg.SecretKey,
		senderKey:  cfg.SenderKey,
		templates:  cfg.Templates,
		httpClient: cfg.HTTPClient,
	}
}

// Validate checks msg against the template registry.
func (c *Client) Validate(msg Message) error {
	code := msg.TemplateCode()
	required, ok := c.templates[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, code)
	}
	params := msg.Params()
	for _, p := range required {
		if _, ok := params[p]; !ok {
			return fmt.Errorf("%w: %s requires %q", ErrMissingParameter, code, p)
		}
	}
	return nil
}

type recipient struct {
	RecipientNo       string            `json:"recipientNo"`
	TemplateParameter map[string]string `json:"templateParameter"`
}

type sendRequest struct {
	SenderKey     string      `json:"senderKey"`
	TemplateCode  string      `json:"templateCode"`
	RecipientList []recipient `json:"recipientList"`
}

type sendResponse struct {
	Header struct {
		ResultCode    int    `json:"resultCode"`
		ResultMessage string `json:"resultMessage"`
		IsSuccessful  bool   `json:"isSuccessful"`
	} `json:"header"`
	Message struct {
		RequestID string `json:"requestId"`
	} `json:"message"`
}

// Send validates msg and delivers it to phone. It is not retried.
func (c *Client) Send(ctx context.Context, phone string, msg Message) (*Result, error) {
	if err := c.Validate(msg); err != nil {
		slog.Error("template message rejected locally",
			"template", msg.TemplateCode(),
			"error", err,
		)
		return nil, err
	}

	body, err := json.Marshal(sendRequest{
		SenderKey:    c.senderKey,
		TemplateCode: msg.TemplateCode(),
		RecipientList: []recipient{
			{RecipientNo: phone, TemplateParameter: msg.Params()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/appkeys/%s/messages", c.apiURL, c.appKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("X-Secret-Key", c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		slog.Error("alimtalk send failed",
			"template", msg.TemplateCode(),
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	}

	var decoded sendResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		slog.Warn("alimtalk response not understood", "error", err)
	}
	result := &Result{
		RequestID:     decoded.Message.RequestID,
		ResultCode:    decoded.Header.ResultCode,
		ResultMessage: decoded.Header.ResultMessage,
	}
	slog.Info("alimtalk message sent",
		"template", msg.TemplateCode(),
		"request_id", result.RequestID,
	)
	return result, nil
}
