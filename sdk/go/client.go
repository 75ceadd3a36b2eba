package paperlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Paperline plugin API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	CronSecret  string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Plugin represents the API plugin model.
type Plugin struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Enabled   bool           `json:"enabled"`
	Manifest  map[string]any `json:"manifest,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// Job represents a queued background job.
type Job struct {
	ID          string         `json:"id"`
	PluginID    string         `json:"plugin_id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// ProcessResult reports a cron processing pass.
type ProcessResult struct {
	Processed      int   `json:"processed"`
	Failed         int   `json:"failed"`
	Iterations     int   `json:"iterations"`
	RecoveredLocks int   `json:"recovered_locks"`
	CleanedUp      int   `json:"cleaned_up"`
	DurationMs     int64 `json:"duration_ms"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Plugins lists installed plugins.
func (c *Client) Plugins(ctx context.Context) ([]Plugin, error) {
	var resp []Plugin
	err := c.do(ctx, http.MethodGet, "v1/plugins", nil, &resp)
	return resp, err
}

// Plugin fetches a plugin by name.
func (c *Client) Plugin(ctx context.Context, name string) (Plugin, error) {
	var resp Plugin
	err := c.do(ctx, http.MethodGet, "v1/plugins/"+url.PathEscape(name), nil, &resp)
	return resp, err
}

// InstallPlugin uploads a plugin archive.
func (c *Client) InstallPlugin(ctx context.Context, archive []byte, force bool) (Plugin, error) {
	endpoint := "v1/plugins"
	if force {
		endpoint += "?force=true"
	}
	var resp struct {
		Plugin Plugin `json:"plugin"`
	}
	err := c.doRaw(ctx, http.MethodPost, endpoint, archive, &resp)
	return resp.Plugin, err
}

// EnablePlugin enables a plugin, acknowledging the risk of running its code.
func (c *Client) EnablePlugin(ctx context.Context, name string) (Plugin, error) {
	body := map[string]any{"acknowledge_risk": true}
	var resp Plugin
	err := c.do(ctx, http.MethodPost, "v1/plugins/"+url.PathEscape(name)+"/enable", body, &resp)
	return resp, err
}

// DisablePlugin disables a plugin.
func (c *Client) DisablePlugin(ctx context.Context, name string) (Plugin, error) {
	var resp Plugin
	err := c.do(ctx, http.MethodPost, "v1/plugins/"+url.PathEscape(name)+"/disable", nil, &resp)
	return resp, err
}

// RemovePlugin removes a plugin and all its data.
func (c *Client) RemovePlugin(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "v1/plugins/"+url.PathEscape(name), nil, nil)
}

// EnqueueJob schedules a background job for an enabled plugin.
func (c *Client) EnqueueJob(ctx context.Context, plugin, jobType string, payload map[string]any) (Job, error) {
	body := map[string]any{"type": jobType, "payload": payload}
	var resp Job
	endpoint := "v1/plugins/" + url.PathEscape(plugin) + "/jobs"
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Job fetches a job by id.
func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v1/jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ProcessJobs triggers a cron processing pass. Requires CronSecret.
func (c *Client) ProcessJobs(ctx context.Context, catchUp bool) (ProcessResult, error) {
	endpoint := "v1/cron/jobs"
	if catchUp {
		endpoint += "?catchup=true"
	}
	var resp ProcessResult
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Items, err
}

// EventsPage returns a paginated event listing starting after the cursor.
func (c *Client) EventsPage(ctx context.Context, limit int, after int64) (PaginatedEvents, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if after > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%safter=%d", endpoint, sep, after)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, &buf, "application/json", out)
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, body []byte, out any) error {
	return c.send(ctx, method, endpoint, bytes.NewReader(body), "application/octet-stream", out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if c.CronSecret != "" {
		req.Header.Set("X-Cron-Secret", c.CronSecret)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
