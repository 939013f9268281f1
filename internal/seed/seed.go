// Package seed loads a small demo fleet so the dashboard and dispatch pass
// have something to chew on right after `fl serve --seed-demo`.
package seed

import (
	"context"
	"database/sql"
	"fmt"

	"fleetline/internal/domain"
	"fleetline/internal/repo"
)

func strPtr(s string) *string { return &s }

// Demo returns the built-in demo fleet: five partners with mixed load and
// standing, six orders across the lifecycle, and a short assignment history.
func Demo() ([]domain.Partner, []domain.Order, []domain.Assignment) {
	partners := []domain.Partner{
		{
			ID: "p1", Name: "John Doe", Email: "john.doe@example.com", Phone: "+1234567890",
			Status: domain.PartnerActive, CurrentLoad: 2,
			Areas:   []string{"Downtown", "Midtown"},
			Shift:   domain.Shift{Start: "09:00", End: "17:00"},
			Metrics: domain.PartnerMetrics{Rating: 4.8, CompletedOrders: 156, CancelledOrders: 3},
		},
		{
			ID: "p2", Name: "Jane Smith", Email: "jane.smith@example.com", Phone: "+1987654321",
			Status: domain.PartnerActive, CurrentLoad: 1,
			Areas:   []string{"Uptown", "Westside"},
			Shift:   domain.Shift{Start: "10:00", End: "18:00"},
			Metrics: domain.PartnerMetrics{Rating: 4.9, CompletedOrders: 203, CancelledOrders: 1},
		},
		{
			ID: "p3", Name: "Mike Johnson", Email: "mike.johnson@example.com", Phone: "+1122334455",
			Status: domain.PartnerInactive, CurrentLoad: 0,
			Areas:   []string{"Eastside", "Southside"},
			Shift:   domain.Shift{Start: "08:00", End: "16:00"},
			Metrics: domain.PartnerMetrics{Rating: 4.5, CompletedOrders: 98, CancelledOrders: 5},
		},
		{
			ID: "p4", Name: "Sarah Williams", Email: "sarah.williams@example.com", Phone: "+1567890123",
			Status: domain.PartnerActive, CurrentLoad: 3,
			Areas:   []string{"Downtown", "Eastside"},
			Shift:   domain.Shift{Start: "12:00", End: "20:00"},
			Metrics: domain.PartnerMetrics{Rating: 4.7, CompletedOrders: 132, CancelledOrders: 2},
		},
		{
			ID: "p5", Name: "David Brown", Email: "david.brown@example.com", Phone: "+1654321987",
			Status: domain.PartnerActive, CurrentLoad: 0,
			Areas:   []string{"Midtown", "Uptown"},
			Shift:   domain.Shift{Start: "09:00", End: "17:00"},
			Metrics: domain.PartnerMetrics{Rating: 4.6, CompletedOrders: 87, CancelledOrders: 4},
		},
	}
	for i := range partners {
		partners[i].CreatedAt = "2023-05-19T08:00:00Z"
		partners[i].UpdatedAt = "2023-05-19T08:00:00Z"
	}

	orders := []domain.Order{
		{
			ID: "o1", OrderNumber: "ORD-001",
			Customer: domain.Customer{Name: "Alice Cooper", Phone: "+1111222333", Address: "123 Main St, Downtown"},
			Area:     "Downtown",
			Items: []domain.OrderItem{
				{Name: "Burger", Quantity: 2, Price: 12.99},
				{Name: "Fries", Quantity: 1, Price: 4.99},
			},
			Status: domain.OrderPending, ScheduledFor: "12:30", TotalAmount: 30.97,
			CreatedAt: "2023-05-19T10:30:00Z", UpdatedAt: "2023-05-19T10:30:00Z",
		},
		{
			ID: "o2", OrderNumber: "ORD-002",
			Customer: domain.Customer{Name: "Bob Marley", Phone: "+1444555666", Address: "456 Oak St, Midtown"},
			Area:     "Midtown",
			Items: []domain.OrderItem{
				{Name: "Pizza", Quantity: 1, Price: 18.99},
				{Name: "Soda", Quantity: 2, Price: 2.49},
			},
			Status: domain.OrderAssigned, AssignedTo: strPtr("p1"),
			ScheduledFor: "13:00", TotalAmount: 23.97,
			CreatedAt: "2023-05-19T11:15:00Z", UpdatedAt: "2023-05-19T11:30:00Z",
		},
		{
			ID: "o3", OrderNumber: "ORD-003",
			Customer: domain.Customer{Name: "Charlie Day", Phone: "+1777888999", Address: "789 Pine St, Uptown"},
			Area:     "Uptown",
			Items: []domain.OrderItem{
				{Name: "Salad", Quantity: 1, Price: 9.99},
				{Name: "Sandwich", Quantity: 1, Price: 11.49},
			},
			Status: domain.OrderPicked, AssignedTo: strPtr("p2"),
			ScheduledFor: "12:45", TotalAmount: 21.48,
			CreatedAt: "2023-05-19T11:00:00Z", UpdatedAt: "2023-05-19T12:15:00Z",
		},
		{
			ID: "o4", OrderNumber: "ORD-004",
			Customer: domain.Customer{Name: "Diana Ross", Phone: "+1222333444", Address: "101 Elm St, Westside"},
			Area:     "Westside",
			Items: []domain.OrderItem{
				{Name: "Pasta", Quantity: 2, Price: 14.99},
				{Name: "Garlic Bread", Quantity: 1, Price: 5.99},
			},
			Status: domain.OrderDelivered, AssignedTo: strPtr("p2"),
			ScheduledFor: "11:30", TotalAmount: 35.97,
			CreatedAt: "2023-05-19T09:45:00Z", UpdatedAt: "2023-05-19T11:50:00Z",
		},
		{
			ID: "o5", OrderNumber: "ORD-005",
			Customer: domain.Customer{Name: "Edward Norton", Phone: "+1555666777", Address: "202 Maple St, Eastside"},
			Area:     "Eastside",
			Items: []domain.OrderItem{
				{Name: "Sushi", Quantity: 3, Price: 16.99},
				{Name: "Miso Soup", Quantity: 2, Price: 3.99},
			},
			Status: domain.OrderPending, ScheduledFor: "14:15", TotalAmount: 58.95,
			CreatedAt: "2023-05-19T12:30:00Z", UpdatedAt: "2023-05-19T12:30:00Z",
		},
		{
			ID: "o6", OrderNumber: "ORD-006",
			Customer: domain.Customer{Name: "Frank Sinatra", Phone: "+1888999000", Address: "303 Cedar St, Southside"},
			Area:     "Southside",
			Items: []domain.OrderItem{
				{Name: "Tacos", Quantity: 4, Price: 3.99},
				{Name: "Nachos", Quantity: 1, Price: 8.99},
			},
			Status: domain.OrderPending, ScheduledFor: "13:45", TotalAmount: 24.95,
			CreatedAt: "2023-05-19T12:00:00Z", UpdatedAt: "2023-05-19T12:00:00Z",
		},
	}

	assignments := []domain.Assignment{
		{OrderID: "o2", PartnerID: strPtr("p1"), Timestamp: "2023-05-19T11:30:00Z", Status: domain.AssignmentSuccess},
		{OrderID: "o3", PartnerID: strPtr("p2"), Timestamp: "2023-05-19T12:15:00Z", Status: domain.AssignmentSuccess},
		{OrderID: "o4", PartnerID: strPtr("p2"), Timestamp: "2023-05-19T10:30:00Z", Status: domain.AssignmentSuccess},
		{OrderID: "o5", PartnerID: strPtr("p3"), Timestamp: "2023-05-19T12:35:00Z", Status: domain.AssignmentFailed, Reason: "Partner unavailable"},
		{OrderID: "o6", PartnerID: strPtr("p4"), Timestamp: "2023-05-19T12:05:00Z", Status: domain.AssignmentFailed, Reason: "Area not covered"},
	}

	return partners, orders, assignments
}

// Load inserts the demo fleet. It writes straight through the repo because
// the data includes mid-lifecycle states the engine would refuse to mint.
func Load(ctx context.Context, db *sql.DB) error {
	partners, orders, assignments := Demo()
	r := repo.Repo{DB: db}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range partners {
		if err := r.InsertPartner(ctx, tx, p); err != nil {
			return fmt.Errorf("seed partner %s: %w", p.ID, err)
		}
	}
	for _, o := range orders {
		if err := r.InsertOrder(ctx, tx, o); err != nil {
			return fmt.Errorf("seed order %s: %w", o.ID, err)
		}
	}
	for _, a := range assignments {
		if err := r.AppendAssignment(ctx, tx, a); err != nil {
			return fmt.Errorf("seed assignment for %s: %w", a.OrderID, err)
		}
	}
	return tx.Commit()
}
