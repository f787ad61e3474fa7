package leboysdk

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

// Client is a minimal LeBoy HTTP API client.
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

// Mission represents the API mission model (partial).
type Mission struct {
	ID            string  `json:"id"`
	Reference     string  `json:"reference"`
	ClientEmail   string  `json:"client_email"`
	ProviderID    *string `json:"provider_id,omitempty"`
	Category      string  `json:"category"`
	Title         string  `json:"title"`
	InternalState string  `json:"internal_state"`
	Status        string  `json:"status"`
	Progress      int     `json:"progress"`
	SoldeVersee   bool    `json:"solde_versee"`
	ArchivedAt    *string `json:"archived_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// Message is one entry in a mission's communication log.
type Message struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	MissionID string `json:"mission_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Lu        bool   `json:"lu"`
	CreatedAt string `json:"created_at"`
}

// CommissionQuote is the computed commission for a price.
type CommissionQuote struct {
	Category   string `json:"category"`
	Price      int64  `json:"price"`
	Commission int64  `json:"commission"`
	Total      int64  `json:"total"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	MissionID  string `json:"mission_id"`
	ActorRole  string `json:"actor_role"`
	ActorEmail string `json:"actor_email"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateMission creates a mission for a client.
func (c *Client) CreateMission(ctx context.Context, clientEmail, category, title, description string) (Mission, error) {
	body := map[string]any{
		"client_email": clientEmail,
		"category":     category,
		"title":        title,
		"description":  description,
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "v1/missions", body, &resp)
	return resp, err
}

// GetMission fetches a mission by id.
func (c *Client) GetMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, c.missionPath(id, ""), nil, &resp)
	return resp, err
}

// ListMissions returns missions, optionally filtered by state.
func (c *Client) ListMissions(ctx context.Context, state string) ([]Mission, error) {
	endpoint := "v1/missions"
	if state != "" {
		endpoint += "?state=" + url.QueryEscape(state)
	}
	var resp []Mission
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AssignProvider assigns a provider to a fresh mission.
func (c *Client) AssignProvider(ctx context.Context, missionID, providerID, providerEmail string) (Mission, error) {
	body := map[string]any{
		"provider_id":    providerID,
		"provider_email": providerEmail,
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, "assign"), body, &resp)
	return resp, err
}

// SubmitEstimation submits or revises the provider's estimation.
func (c *Client) SubmitEstimation(ctx context.Context, missionID string, price int64, delayHours int, note string) (Mission, error) {
	body := map[string]any{
		"price":       price,
		"delay_hours": delayHours,
		"note":        note,
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, "estimation"), body, &resp)
	return resp, err
}

// Advance records the advance transfer at the given percentage.
func (c *Client) Advance(ctx context.Context, missionID string, percentage int) (Mission, error) {
	body := map[string]any{"percentage": percentage}
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, "advance"), body, &resp)
	return resp, err
}

// Transition fires one of the bare lifecycle actions: request-payment,
// confirm-payment, takeover, balance-paid, close, archive, restore.
func (c *Client) Transition(ctx context.Context, missionID, action string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, action), nil, &resp)
	return resp, err
}

// SubmitValidation submits the mission's proofs for admin validation.
func (c *Client) SubmitValidation(ctx context.Context, missionID, comment string) (Mission, error) {
	body := map[string]any{"comment": comment}
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, "submit-validation"), body, &resp)
	return resp, err
}

// ConfirmCompletion records the admin's validation of the submitted proofs.
func (c *Client) ConfirmCompletion(ctx context.Context, missionID string, soldePaid bool) (Mission, error) {
	body := map[string]any{"solde_paid": soldePaid}
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, "confirm-completion"), body, &resp)
	return resp, err
}

// AddProof attaches proof metadata to an in-progress mission.
func (c *Client) AddProof(ctx context.Context, missionID, filename, contentType, proofURL string, sizeBytes int64) (Mission, error) {
	body := map[string]any{
		"filename":     filename,
		"content_type": contentType,
		"size_bytes":   sizeBytes,
		"url":          proofURL,
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, "proofs"), body, &resp)
	return resp, err
}

// SendMessage posts a message on the mission thread. Target fields are only
// honored for admin senders.
func (c *Client) SendMessage(ctx context.Context, missionID, content, targetRole, targetEmail string) (Message, error) {
	body := map[string]any{
		"content":      content,
		"target_role":  targetRole,
		"target_email": targetEmail,
	}
	var resp Message
	err := c.do(ctx, http.MethodPost, c.missionPath(missionID, "messages"), body, &resp)
	return resp, err
}

// Messages returns the messages visible to the authenticated role.
func (c *Client) Messages(ctx context.Context, missionID string) ([]Message, error) {
	var resp []Message
	err := c.do(ctx, http.MethodGet, c.missionPath(missionID, "messages"), nil, &resp)
	return resp, err
}

// Events returns a mission's event history.
func (c *Client) Events(ctx context.Context, missionID string, limit int) ([]Event, error) {
	endpoint := c.missionPath(missionID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CommissionQuote computes the commission for a category and price.
func (c *Client) CommissionQuote(ctx context.Context, category string, price int64) (CommissionQuote, error) {
	endpoint := fmt.Sprintf("v1/commission/quote?category=%s&price=%d", url.QueryEscape(category), price)
	var resp CommissionQuote
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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

func (c *Client) missionPath(id, action string) string {
	p := fmt.Sprintf("v1/missions/%s", url.PathEscape(id))
	if action != "" {
		p += "/" + strings.TrimLeft(action, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
