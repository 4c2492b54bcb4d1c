package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"driver-auth-service/internal/util"
)

// HTTPProvider posts messages to a JSON SMS gateway. Both the primary and the
// fallback gateway speak the same shape, they only differ in credentials and
// endpoint.
type HTTPProvider struct {
	name       string
	url        string
	apiKey     string
	sender     string
	httpClient *http.Client
}

func NewHTTPProvider(name, url, apiKey, sender string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:   name,
		url:    url,
		apiKey: apiKey,
		sender: sender,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

type gatewayRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

type gatewayResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Send posts the message. A non-2xx status or a gateway-level error status in
// the body both count as delivery failure.
func (p *HTTPProvider) Send(ctx context.Context, phone, message string) error {
	payload, err := json.Marshal(gatewayRequest{
		To:      phone,
		From:    p.sender,
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		util.Warn("SMS gateway request failed",
			zap.String("provider", p.name),
			zap.Error(err))
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		util.Warn("SMS gateway rejected message",
			zap.String("provider", p.name),
			zap.Int("status_code", resp.StatusCode))
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	var gwResp gatewayResponse
	if err := json.Unmarshal(body, &gwResp); err == nil && gwResp.Error != "" {
		return fmt.Errorf("sms gateway error: %s", gwResp.Error)
	}

	util.Debug("SMS delivered",
		zap.String("provider", p.name),
		zap.String("phone", phone))

	return nil
}
