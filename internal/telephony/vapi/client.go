// Package vapi implements telephony.Gateway against a Vapi-compatible REST API.
package vapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/config"
	"github.com/acme/pharmacy-outreach/internal/telephony"
)

// Client dispatches calls over HTTP.
type Client struct {
	http      *resty.Client
	callsPath string
	cfg       config.CallBridgeConfig
	logger    *zap.Logger
}

type callRequest struct {
	PhoneNumber   string       `json:"phoneNumber"`
	To            string       `json:"to"`
	Metadata      callMetadata `json:"metadata"`
	AssistantID   string       `json:"assistantId,omitempty"`
	PhoneNumberID string       `json:"phoneNumberId,omitempty"`
	WebhookURL    string       `json:"webhookUrl,omitempty"`
}

type callMetadata struct {
	PatientID   string `json:"patientId"`
	PatientName string `json:"patientName,omitempty"`
	CallID      string `json:"callId,omitempty"`
}

type callResponse struct {
	ID             string `json:"id"`
	CallID         string `json:"callId"`
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
}

// NewClient builds a client from the call bridge settings.
func NewClient(cfg config.CallBridgeConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vapi: api key is not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path := cfg.CallsPath
	if path == "" {
		path = "/v1/call"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient, callsPath: path, cfg: cfg, logger: logger}, nil
}

// InitiateCall posts the call request and returns the provider's call id.
func (c *Client) InitiateCall(ctx context.Context, req telephony.Request) (telephony.Dispatch, error) {
	if req.Destination == "" {
		return telephony.Dispatch{}, telephony.ErrMissingDestination
	}

	body := callRequest{
		PhoneNumber: req.Destination,
		To:          req.Destination,
		Metadata: callMetadata{
			PatientID:   req.PatientID.String(),
			PatientName: req.PatientName,
			CallID:      req.CallID.String(),
		},
		AssistantID:   c.cfg.AssistantID,
		PhoneNumberID: c.cfg.PhoneNumberID,
		WebhookURL:    c.cfg.WebhookURL,
	}

	var out callResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(c.callsPath)
	if err != nil {
		return telephony.Dispatch{}, fmt.Errorf("vapi: request: %w", err)
	}
	if resp.IsError() {
		return telephony.Dispatch{}, fmt.Errorf("vapi call failed: %d %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	id := firstNonEmpty(out.ID, out.CallID, out.ConversationID)
	c.logger.Debug("call dispatched",
		zap.String("call_id", req.CallID.String()),
		zap.String("provider_call_id", id),
		zap.String("status", out.Status),
	)
	return telephony.Dispatch{ProviderCallID: id, Status: out.Status}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
