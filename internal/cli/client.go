// Package cli implements threatctl, the operator and reporter command line
// client for a threatmesh node.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"threatmesh/internal/api/dto"
)

// APIError is a non-2xx answer from the node.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var failure dto.ErrorResponse
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			return &APIError{Status: resp.StatusCode, Code: failure.Code, Message: failure.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Commit(ctx context.Context, req dto.CommitRequest) (dto.CommitResponse, error) {
	var out dto.CommitResponse
	err := c.do(ctx, http.MethodPost, "/threats/commit", req, &out)
	return out, err
}

func (c *Client) Reveal(ctx context.Context, req dto.RevealRequest) (dto.ThreatStatus, error) {
	var out dto.ThreatStatus
	err := c.do(ctx, http.MethodPost, "/threats/reveal", req, &out)
	return out, err
}

func (c *Client) Revoke(ctx context.Context, address string) (dto.ThreatStatus, error) {
	var out dto.ThreatStatus
	err := c.do(ctx, http.MethodPost, "/threats/"+address+"/revoke", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, address string) (dto.ThreatStatus, error) {
	var out dto.ThreatStatus
	err := c.do(ctx, http.MethodGet, "/threats/"+address, nil, &out)
	return out, err
}

func (c *Client) Whitelisted(ctx context.Context, address string) (dto.WhitelistResponse, error) {
	var out dto.WhitelistResponse
	err := c.do(ctx, http.MethodGet, "/whitelist/"+address, nil, &out)
	return out, err
}

func (c *Client) AddToWhitelist(ctx context.Context, address string) (dto.SeqResponse, error) {
	var out dto.SeqResponse
	err := c.do(ctx, http.MethodPost, "/governance/whitelist", dto.AddressRequest{Address: address}, &out)
	return out, err
}

func (c *Client) RemoveFromWhitelist(ctx context.Context, address string) (dto.SeqResponse, error) {
	var out dto.SeqResponse
	err := c.do(ctx, http.MethodDelete, "/governance/whitelist/"+address, nil, &out)
	return out, err
}

func (c *Client) ForceConfirm(ctx context.Context, address string) (dto.SeqResponse, error) {
	var out dto.SeqResponse
	err := c.do(ctx, http.MethodPost, "/governance/threats/"+address+"/confirm", nil, &out)
	return out, err
}

func (c *Client) ForceRevoke(ctx context.Context, address string) (dto.SeqResponse, error) {
	var out dto.SeqResponse
	err := c.do(ctx, http.MethodPost, "/governance/threats/"+address+"/revoke", nil, &out)
	return out, err
}
