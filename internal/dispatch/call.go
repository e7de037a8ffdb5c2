package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type CallConfig struct {
	// SpaceURL is the provider host, e.g. "gottago.signalwire.com".
	SpaceURL  string
	ProjectID string
	APIKey    string
	From      string

	// BaseURL overrides "https://" + SpaceURL.
	BaseURL string
}

// CallClient places voice calls that play a recorded clip. Calls are held
// on an in-process timer until due, so a call is lost if the process exits
// first.
type CallClient struct {
	endpoint  string
	projectID string
	apiKey    string
	from      string
	client    *http.Client
	now       func() time.Time

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewCallClient(cfg CallConfig) *CallClient {
	base := cfg.BaseURL
	if base == "" {
		base = "https://" + cfg.SpaceURL
	}
	return &CallClient{
		endpoint:  fmt.Sprintf("%s/api/laml/2010-04-01/Accounts/%s/Calls.json", strings.TrimRight(base, "/"), cfg.ProjectID),
		projectID: cfg.ProjectID,
		apiKey:    cfg.APIKey,
		from:      cfg.From,
		client:    newHTTPClient(),
		now:       time.Now,
		timers:    map[*time.Timer]struct{}{},
	}
}

type callResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// ScheduleCall arms a timer that places the call at when.
func (c *CallClient) ScheduleCall(ctx context.Context, to string, when time.Time, audioURL string) error {
	delay := when.Sub(c.now())
	if delay <= 0 {
		return ErrNotInFuture
	}

	formatted := FormatPhoneNumber(to)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("call client closed")
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, t)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		fctx, cancel := context.WithTimeout(context.Background(), defaultHTTPTimeout)
		defer cancel()

		sid, err := c.Place(fctx, formatted, audioURL)
		if err != nil {
			slog.Error("scheduled call failed", "to", formatted, "err", err)
			return
		}
		slog.Info("scheduled call placed", "to", formatted, "sid", sid)
	})
	c.timers[t] = struct{}{}

	slog.Info("call scheduled", "to", formatted, "in_seconds", int(delay.Round(time.Second).Seconds()))
	return nil
}

// Place starts the call now and returns the provider's call sid.
func (c *CallClient) Place(ctx context.Context, to, audioURL string) (string, error) {
	form := url.Values{
		"From":    {c.from},
		"To":      {to},
		"Twiml":   {callTwiML(audioURL)},
		"Timeout": {"30"},
		"Record":  {"false"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.projectID, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var cr callResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	return cr.SID, nil
}

// Pending returns the number of armed call timers.
func (c *CallClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Close disarms every pending call.
func (c *CallClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	if n := len(c.timers); n > 0 {
		slog.Warn("pending calls dropped on shutdown", "count", n)
	}
	clear(c.timers)
}

func callTwiML(audioURL string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Play>` + html.EscapeString(audioURL) + `</Play>
  <Pause length="1"/>
  <Hangup/>
</Response>`
}
