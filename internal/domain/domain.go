package domain

// Partner statuses.
const (
	PartnerActive   = "active"
	PartnerInactive = "inactive"
)

// Order statuses, in lifecycle order. Transitions only move forward.
const (
	OrderPending   = "pending"
	OrderAssigned  = "assigned"
	OrderPicked    = "picked"
	OrderDelivered = "delivered"
)

// Assignment record statuses.
const (
	AssignmentSuccess = "success"
	AssignmentFailed  = "failed"
)

type Shift struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type PartnerMetrics struct {
	Rating          float64 `json:"rating" minimum:"0" maximum:"5"`
	CompletedOrders int     `json:"completed_orders" minimum:"0"`
	CancelledOrders int     `json:"cancelled_orders" minimum:"0"`
}

type Partner struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	Status      string         `json:"status" enum:"active,inactive"`
	CurrentLoad int            `json:"current_load"`
	Areas       []string       `json:"areas"`
	Shift       Shift          `json:"shift"`
	Metrics     PartnerMetrics `json:"metrics"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

// CoversArea reports whether the partner serves the given area.
func (p Partner) CoversArea(area string) bool {
	for _, a := range p.Areas {
		if a == area {
			return true
		}
	}
	return false
}

type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone" required:"false"`
	Address string `json:"address" required:"false"`
}

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity" minimum:"1"`
	Price    float64 `json:"price"`
}

type Order struct {
	ID           string      `json:"id"`
	OrderNumber  string      `json:"order_number"`
	Customer     Customer    `json:"customer"`
	Area         string      `json:"area"`
	Items        []OrderItem `json:"items"`
	Status       string      `json:"status" enum:"pending,assigned,picked,delivered"`
	AssignedTo   *string     `json:"assigned_to,omitempty"`
	ScheduledFor string      `json:"scheduled_for,omitempty"`
	TotalAmount  float64     `json:"total_amount"`
	CreatedAt    string      `json:"created_at" format:"date-time"`
	UpdatedAt    string      `json:"updated_at" format:"date-time"`
}

// Assignment is one append-only log entry: the outcome of matching a single
// order during one engine pass (or an equivalent manual assignment).
type Assignment struct {
	ID        int64   `json:"id"`
	OrderID   string  `json:"order_id"`
	PartnerID *string `json:"partner_id,omitempty"`
	Timestamp string  `json:"timestamp" format:"date-time"`
	Status    string  `json:"status" enum:"success,failed"`
	Reason    string  `json:"reason,omitempty"`
}

type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// AssignmentMetrics aggregates the assignment log for the metrics endpoint.
type AssignmentMetrics struct {
	TotalAssigned  int             `json:"total_assigned"`
	SuccessRate    float64         `json:"success_rate"`
	AverageTime    float64         `json:"average_time"`
	FailureReasons []FailureReason `json:"failure_reasons"`
}

// PartnerAvailability buckets partners for the dashboard: available = active
// and under capacity, busy = active at capacity, offline = inactive.
type PartnerAvailability struct {
	Available int `json:"available"`
	Busy      int `json:"busy"`
	Offline   int `json:"offline"`
}

type FleetMetrics struct {
	TotalActive int      `json:"total_active"`
	AvgRating   float64  `json:"avg_rating"`
	TopAreas    []string `json:"top_areas"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// ValidOrderStatus reports whether s names a known order status.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderPending, OrderAssigned, OrderPicked, OrderDelivered:
		return true
	}
	return false
}

// ValidPartnerStatus reports whether s names a known partner status.
func ValidPartnerStatus(s string) bool {
	return s == PartnerActive || s == PartnerInactive
}
