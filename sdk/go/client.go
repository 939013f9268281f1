// Package fleetlinesdk is a minimal Go client for the Fleetline HTTP API.
package fleetlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Fleetline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Shift is a partner's working window.
type Shift struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PartnerMetrics is a partner's standing.
type PartnerMetrics struct {
	Rating          float64 `json:"rating"`
	CompletedOrders int     `json:"completed_orders"`
	CancelledOrders int     `json:"cancelled_orders"`
}

// Partner represents the API partner model.
type Partner struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	Status      string         `json:"status"`
	CurrentLoad int            `json:"current_load"`
	Areas       []string       `json:"areas"`
	Shift       Shift          `json:"shift"`
	Metrics     PartnerMetrics `json:"metrics"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// Customer is an order's recipient.
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order represents the API order model.
type Order struct {
	ID           string      `json:"id"`
	OrderNumber  string      `json:"order_number"`
	Customer     Customer    `json:"customer"`
	Area         string      `json:"area"`
	Items        []OrderItem `json:"items"`
	Status       string      `json:"status"`
	AssignedTo   *string     `json:"assigned_to,omitempty"`
	ScheduledFor string      `json:"scheduled_for,omitempty"`
	TotalAmount  float64     `json:"total_amount"`
	CreatedAt    string      `json:"created_at"`
	UpdatedAt    string      `json:"updated_at"`
}

// Assignment is one dispatch log entry.
type Assignment struct {
	ID        int64   `json:"id"`
	OrderID   string  `json:"order_id"`
	PartnerID *string `json:"partner_id,omitempty"`
	Timestamp string  `json:"timestamp"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
}

// FailureReason is one bucket of the failure histogram.
type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// AssignmentMetrics aggregates the dispatch log.
type AssignmentMetrics struct {
	TotalAssigned  int             `json:"total_assigned"`
	SuccessRate    float64         `json:"success_rate"`
	AverageTime    float64         `json:"average_time"`
	FailureReasons []FailureReason `json:"failure_reasons"`
}

// PartnerAvailability buckets the fleet.
type PartnerAvailability struct {
	Available int `json:"available"`
	Busy      int `json:"busy"`
	Offline   int `json:"offline"`
}

// FleetMetrics summarizes active partners.
type FleetMetrics struct {
	TotalActive int      `json:"total_active"`
	AvgRating   float64  `json:"avg_rating"`
	TopAreas    []string `json:"top_areas"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// RunResult is the outcome of a dispatch pass.
type RunResult struct {
	Success     bool         `json:"success"`
	Assignments []Assignment `json:"assignments"`
}

// Dashboard is the operations snapshot.
type Dashboard struct {
	OrdersByStatus      map[string]int      `json:"orders_by_status"`
	PartnerAvailability PartnerAvailability `json:"partner_availability"`
	RecentAssignments   []Assignment        `json:"recent_assignments"`
	Fleet               FleetMetrics        `json:"fleet"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Partners(ctx context.Context) ([]Partner, error) {
	var resp []Partner
	err := c.do(ctx, http.MethodGet, "v0/partners", nil, &resp)
	return resp, err
}

func (c *Client) Partner(ctx context.Context, id string) (Partner, error) {
	var resp Partner
	err := c.do(ctx, http.MethodGet, "v0/partners/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreatePartner(ctx context.Context, body map[string]any) (Partner, error) {
	var resp Partner
	err := c.do(ctx, http.MethodPost, "v0/partners", body, &resp)
	return resp, err
}

func (c *Client) UpdatePartner(ctx context.Context, id string, body map[string]any) (Partner, error) {
	var resp Partner
	err := c.do(ctx, http.MethodPut, "v0/partners/"+url.PathEscape(id), body, &resp)
	return resp, err
}

func (c *Client) DeletePartner(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/partners/"+url.PathEscape(id), nil, nil)
}

// OrderFilters narrow the Orders listing. Zero values mean no filter.
type OrderFilters struct {
	Status     string
	Area       string
	AssignedTo string
	Limit      int
}

func (c *Client) Orders(ctx context.Context, f OrderFilters) ([]Order, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Area != "" {
		q.Set("area", f.Area)
	}
	if f.AssignedTo != "" {
		q.Set("assigned_to", f.AssignedTo)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	endpoint := "v0/orders"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Order
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Order(ctx context.Context, id string) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodGet, "v0/orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateOrder(ctx context.Context, body map[string]any) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodPost, "v0/orders", body, &resp)
	return resp, err
}

// UpdateOrderStatus moves an order forward. partnerID is required when
// status is "assigned" and ignored otherwise.
func (c *Client) UpdateOrderStatus(ctx context.Context, id, status, partnerID string) (Order, error) {
	body := map[string]any{"status": status}
	if partnerID != "" {
		body["partner_id"] = partnerID
	}
	var resp Order
	err := c.do(ctx, http.MethodPut, "v0/orders/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

func (c *Client) RunAssignment(ctx context.Context) (RunResult, error) {
	var resp RunResult
	err := c.do(ctx, http.MethodPost, "v0/assignments/run", nil, &resp)
	return resp, err
}

func (c *Client) AssignmentMetrics(ctx context.Context) (AssignmentMetrics, error) {
	var resp AssignmentMetrics
	err := c.do(ctx, http.MethodGet, "v0/assignments/metrics", nil, &resp)
	return resp, err
}

func (c *Client) Assignments(ctx context.Context, limit int) ([]Assignment, error) {
	endpoint := "v0/assignments"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp []Assignment
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) ActiveAssignments(ctx context.Context) ([]Assignment, error) {
	var resp []Assignment
	err := c.do(ctx, http.MethodGet, "v0/assignments/active", nil, &resp)
	return resp, err
}

func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "v0/dashboard", nil, &resp)
	return resp, err
}

func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp []Event
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
