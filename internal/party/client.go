// Package party talks to the party service, which owns respondent records
// linked to auth accounts.
package party

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ras-rm/auth-service/config"
)

const defaultTimeout = 10 * time.Second

// ErrPartyService is returned when the party service rejects or fails a call.
var ErrPartyService = errors.New("party service error")

// Client is an HTTP client for the party service API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient constructs a Client from config. Every request is bounded by
// cfg.Timeout.
func NewClient(cfg config.PartyConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("party url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid party url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    base,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// DeleteRespondent removes the respondent registered under email. A
// respondent the party service does not know counts as deleted.
func (c *Client) DeleteRespondent(ctx context.Context, email string) error {
	endpoint := c.baseURL + "/party-api/v1/respondents/" + url.PathEscape(email)
	resp, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound || isSuccess(resp.StatusCode) {
		return nil
	}
	return fmt.Errorf("%w: delete respondent returned %d", ErrPartyService, resp.StatusCode)
}

type respondentLookup struct {
	Email string `json:"email"`
}

type respondent struct {
	FirstName string `json:"firstName"`
}

// FirstName returns the first name of the respondent registered under email.
func (c *Client) FirstName(ctx context.Context, email string) (string, error) {
	body, err := json.Marshal(respondentLookup{Email: email})
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/party-api/v1/respondents/email", body)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return "", fmt.Errorf("%w: respondent lookup returned %d", ErrPartyService, resp.StatusCode)
	}
	var parsed respondent
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode respondent: %v", ErrPartyService, err)
	}
	return parsed.FirstName, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPartyService, err)
	}
	return resp, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
