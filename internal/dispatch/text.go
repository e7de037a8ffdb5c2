package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTextBaseURL = "https://rest.clicksend.com"
	DefaultTextSource  = "gotta-go-app"
)

type TextConfig struct {
	BaseURL  string
	Username string
	APIKey   string
	Source   string
}

// TextClient hands texts to the SMS provider, which holds them until the
// schedule time itself.
type TextClient struct {
	url      string
	username string
	apiKey   string
	source   string
	client   *http.Client
	now      func() time.Time
}

func NewTextClient(cfg TextConfig) *TextClient {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultTextBaseURL
	}
	source := cfg.Source
	if source == "" {
		source = DefaultTextSource
	}
	return &TextClient{
		url:      strings.TrimRight(base, "/") + "/v3/sms/send",
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		source:   source,
		client:   newHTTPClient(),
		now:      time.Now,
	}
}

type textMessage struct {
	To       string `json:"to"`
	Body     string `json:"body"`
	Schedule int64  `json:"schedule"`
	Source   string `json:"source"`
}

type textRequest struct {
	Messages []textMessage `json:"messages"`
}

type textResponse struct {
	ResponseCode string `json:"response_code"`
	Data         struct {
		Messages []struct {
			Status    string `json:"status"`
			MessageID string `json:"message_id"`
		} `json:"messages"`
	} `json:"data"`
}

// ScheduleText submits body for delivery at when and returns the provider's
// message id.
func (c *TextClient) ScheduleText(ctx context.Context, to string, when time.Time, body string) (string, error) {
	if !when.After(c.now()) {
		return "", ErrNotInFuture
	}

	reqBody, err := json.Marshal(textRequest{
		Messages: []textMessage{{
			To:       FormatPhoneNumber(to),
			Body:     body,
			Schedule: when.Unix(),
			Source:   c.source,
		}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(respBody))
	}

	var tr textResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(respBody))
	}
	if len(tr.Data.Messages) == 0 {
		return "", fmt.Errorf("missing messages in response body=%q", string(respBody))
	}
	m := tr.Data.Messages[0]
	if m.Status != "" && m.Status != "SUCCESS" {
		return "", fmt.Errorf("message rejected: status=%s", m.Status)
	}
	return m.MessageID, nil
}
