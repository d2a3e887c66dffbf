package workloadsdk

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

// Client is a minimal workload HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
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

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	OwnerID    *string `json:"owner_id,omitempty"`
	Role       string  `json:"role,omitempty"`
	WorkType   string  `json:"work_type,omitempty"`
	Phase      string  `json:"phase,omitempty"`
	EffortSize string  `json:"effort_size,omitempty"`
	Status     string  `json:"status"`
}

// Warning reports a member whose snapshot was not refreshed.
type Warning struct {
	MemberID string `json:"member_id"`
	Week     string `json:"week"`
	Message  string `json:"message"`
}

// ItemContribution is one work item's share of planned hours.
type ItemContribution struct {
	WorkItemID string   `json:"work_item_id"`
	Name       string   `json:"name"`
	Hours      float64  `json:"hours"`
	Source     string   `json:"source"`
	Missing    []string `json:"missing,omitempty"`
}

// Capacity is a member's computed capacity for one week.
type Capacity struct {
	MemberID                 string             `json:"member_id"`
	WeekStart                string             `json:"week_start"`
	Mode                     string             `json:"mode"`
	PlannedHours             float64            `json:"planned_hours"`
	ActualHours              float64            `json:"actual_hours"`
	Variance                 float64            `json:"variance"`
	UtilizationPercent       int                `json:"utilization_percent"`
	ActualUtilizationPercent int                `json:"actual_utilization_percent"`
	Status                   string             `json:"status"`
	TotalAssignments         int                `json:"total_assignments"`
	Incomplete               []string           `json:"incomplete"`
	Items                    []ItemContribution `json:"items"`
}

// EffortLog is one weekly time entry.
type EffortLog struct {
	TeamMemberID string  `json:"team_member_id"`
	WorkItemID   string  `json:"work_item_id"`
	WeekStart    string  `json:"week_start"`
	HoursSpent   float64 `json:"hours_spent"`
	Note         string  `json:"note,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
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

// Capacity computes a member's capacity. An empty week means the current week;
// an empty mode means aggregate.
func (c *Client) Capacity(ctx context.Context, memberID, week, mode string) (Capacity, error) {
	q := url.Values{}
	if week != "" {
		q.Set("week", week)
	}
	if mode != "" {
		q.Set("mode", mode)
	}
	var resp Capacity
	err := c.do(ctx, http.MethodGet, withQuery(fmt.Sprintf("members/%s/capacity", url.PathEscape(memberID)), q), nil, &resp)
	return resp, err
}

// LogEffort creates or replaces an effort entry.
func (c *Client) LogEffort(ctx context.Context, memberID, workItemID, week string, hours float64) (EffortLog, []Warning, error) {
	body := map[string]any{
		"team_member_id": memberID,
		"work_item_id":   workItemID,
		"week":           week,
		"hours_spent":    hours,
	}
	var resp struct {
		Log      EffortLog `json:"log"`
		Warnings []Warning `json:"warnings"`
	}
	err := c.do(ctx, http.MethodPut, "effort-logs", body, &resp)
	return resp.Log, resp.Warnings, err
}

// Reassign moves a work item to ownerID; "" unassigns it.
func (c *Client) Reassign(ctx context.Context, workItemID, ownerID string) (WorkItem, []Warning, error) {
	var resp struct {
		Item     WorkItem  `json:"item"`
		Warnings []Warning `json:"warnings"`
	}
	endpoint := fmt.Sprintf("work-items/%s/reassign", url.PathEscape(workItemID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"owner_id": ownerID}, &resp)
	return resp.Item, resp.Warnings, err
}

// Recalculate recomputes and stores a member's snapshot.
func (c *Client) Recalculate(ctx context.Context, memberID, week string) (Capacity, error) {
	q := url.Values{}
	if week != "" {
		q.Set("week", week)
	}
	var resp struct {
		Result Capacity `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, withQuery(fmt.Sprintf("members/%s/recalculate", url.PathEscape(memberID)), q), nil, &resp)
	return resp.Result, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
