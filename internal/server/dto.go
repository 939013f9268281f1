package server

import "fleetline/internal/domain"

// Request payloads

type CreatePartnerRequest struct {
	ID     *string       `json:"id,omitempty"`
	Name   string        `json:"name"`
	Email  string        `json:"email"`
	Phone  *string       `json:"phone,omitempty"`
	Status *string       `json:"status,omitempty" enum:"active,inactive"`
	Areas  []string      `json:"areas,omitempty"`
	Shift  *domain.Shift `json:"shift,omitempty"`
	Rating *float64      `json:"rating,omitempty" minimum:"0" maximum:"5"`
}

type UpdatePartnerRequest struct {
	Name   *string       `json:"name,omitempty"`
	Email  *string       `json:"email,omitempty"`
	Phone  *string       `json:"phone,omitempty"`
	Status *string       `json:"status,omitempty" enum:"active,inactive"`
	Areas  *[]string     `json:"areas,omitempty"`
	Shift  *domain.Shift `json:"shift,omitempty"`
	Rating *float64      `json:"rating,omitempty" minimum:"0" maximum:"5"`
}

type CreateOrderRequest struct {
	ID           *string            `json:"id,omitempty"`
	OrderNumber  *string            `json:"order_number,omitempty"`
	Customer     domain.Customer    `json:"customer"`
	Area         string             `json:"area"`
	Items        []domain.OrderItem `json:"items"`
	ScheduledFor *string            `json:"scheduled_for,omitempty"`
}

type UpdateOrderStatusRequest struct {
	Status    string  `json:"status" enum:"pending,assigned,picked,delivered"`
	PartnerID *string `json:"partner_id,omitempty"`
}

// Response payloads

type RunAssignmentResponse struct {
	Success     bool                `json:"success"`
	Assignments []domain.Assignment `json:"assignments"`
}

type DashboardResponse struct {
	OrdersByStatus      map[string]int             `json:"orders_by_status"`
	PartnerAvailability domain.PartnerAvailability `json:"partner_availability"`
	RecentAssignments   []domain.Assignment        `json:"recent_assignments"`
	Fleet               domain.FleetMetrics        `json:"fleet"`
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
