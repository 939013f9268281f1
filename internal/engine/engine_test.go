package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"fleetline/internal/config"
	"fleetline/internal/db"
	"fleetline/internal/domain"
	"fleetline/internal/engine"
	"fleetline/internal/migrate"
)

var dbSeq atomic.Int64

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Name: fmt.Sprintf("enginetest%d", dbSeq.Add(1))})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// insertPartner writes a partner with pre-set load and history, which the
// public create path deliberately refuses to mint.
func insertPartner(t *testing.T, env testEnv, p domain.Partner) {
	t.Helper()
	if p.Status == "" {
		p.Status = domain.PartnerActive
	}
	if p.CreatedAt == "" {
		p.CreatedAt = "2024-01-01T00:00:00Z"
		p.UpdatedAt = p.CreatedAt
	}
	if p.Areas == nil {
		p.Areas = []string{}
	}
	tx, err := env.Engine.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.Engine.Repo.InsertPartner(env.Ctx, tx, p); err != nil {
		tx.Rollback()
		t.Fatalf("insert partner %s: %v", p.ID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func createOrder(t *testing.T, env testEnv, id, area string) domain.Order {
	t.Helper()
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		ID:       id,
		Customer: domain.Customer{Name: "Test Customer"},
		Area:     area,
		Items:    []domain.OrderItem{{Name: "Widget", Quantity: 1, Price: 9.99}},
	})
	if err != nil {
		t.Fatalf("create order %s: %v", id, err)
	}
	return o
}

func TestRunAssignmentPrefersFreePartner(t *testing.T) {
	env := newTestEnv(t)
	// p1 is seasoned but half loaded; p5 is idle. The free slots should win.
	insertPartner(t, env, domain.Partner{
		ID: "p1", Name: "John Doe", Email: "john@example.com", CurrentLoad: 2,
		Areas:   []string{"Downtown", "Midtown"},
		Metrics: domain.PartnerMetrics{Rating: 4.8, CompletedOrders: 156, CancelledOrders: 3},
	})
	insertPartner(t, env, domain.Partner{
		ID: "p5", Name: "David Brown", Email: "david@example.com", CurrentLoad: 0,
		Areas:   []string{"Midtown", "Uptown"},
		Metrics: domain.PartnerMetrics{Rating: 4.6, CompletedOrders: 87, CancelledOrders: 4},
	})
	createOrder(t, env, "o1", "Midtown")

	assignments, err := env.Engine.RunAssignment(env.Ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("want 1 assignment, got %d", len(assignments))
	}
	a := assignments[0]
	if a.Status != domain.AssignmentSuccess {
		t.Fatalf("want success, got %s (%s)", a.Status, a.Reason)
	}
	if a.PartnerID == nil || *a.PartnerID != "p5" {
		t.Fatalf("want p5, got %v", a.PartnerID)
	}

	o, err := env.Engine.Repo.GetOrder(env.Ctx, "o1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != domain.OrderAssigned || o.AssignedTo == nil || *o.AssignedTo != "p5" {
		t.Fatalf("order not committed: status=%s assigned_to=%v", o.Status, o.AssignedTo)
	}
	p, err := env.Engine.Repo.GetPartner(env.Ctx, "p5")
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if p.CurrentLoad != 1 {
		t.Fatalf("want load 1, got %d", p.CurrentLoad)
	}
}

func TestRunAssignmentNoPartnerForArea(t *testing.T) {
	env := newTestEnv(t)
	// Only an inactive partner covers Southside.
	insertPartner(t, env, domain.Partner{
		ID: "p3", Name: "Mike Johnson", Email: "mike@example.com",
		Status: domain.PartnerInactive,
		Areas:  []string{"Eastside", "Southside"},
	})
	createOrder(t, env, "o6", "Southside")

	assignments, err := env.Engine.RunAssignment(env.Ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("want 1 record, got %d", len(assignments))
	}
	a := assignments[0]
	if a.Status != domain.AssignmentFailed {
		t.Fatalf("want failed, got %s", a.Status)
	}
	if a.Reason != engine.ReasonNoPartner {
		t.Fatalf("want %q, got %q", engine.ReasonNoPartner, a.Reason)
	}
	if a.PartnerID != nil {
		t.Fatalf("failure should have no partner, got %v", *a.PartnerID)
	}

	o, err := env.Engine.Repo.GetOrder(env.Ctx, "o6")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != domain.OrderPending {
		t.Fatalf("failed order must stay pending, got %s", o.Status)
	}
}

func TestRunAssignmentCapacityWithinPass(t *testing.T) {
	env := newTestEnv(t)
	insertPartner(t, env, domain.Partner{
		ID: "p1", Name: "Solo", Email: "solo@example.com",
		Areas: []string{"Downtown"},
	})
	for i := 1; i <= 4; i++ {
		createOrder(t, env, fmt.Sprintf("o%d", i), "Downtown")
	}

	assignments, err := env.Engine.RunAssignment(env.Ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var ok, failed int
	for _, a := range assignments {
		switch a.Status {
		case domain.AssignmentSuccess:
			ok++
		case domain.AssignmentFailed:
			failed++
		}
	}
	if ok != 3 || failed != 1 {
		t.Fatalf("want 3 success / 1 failed, got %d / %d", ok, failed)
	}
	p, err := env.Engine.Repo.GetPartner(env.Ctx, "p1")
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if p.CurrentLoad != 3 {
		t.Fatalf("want load 3, got %d", p.CurrentLoad)
	}
}

func TestRunAssignmentNothingPending(t *testing.T) {
	env := newTestEnv(t)
	insertPartner(t, env, domain.Partner{ID: "p1", Name: "Idle", Email: "idle@example.com", Areas: []string{"Downtown"}})

	assignments, err := env.Engine.RunAssignment(env.Ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(assignments) != 0 {
		t.Fatalf("want empty pass, got %d records", len(assignments))
	}
}

func TestRunAssignmentTieBreakKeepsLowestID(t *testing.T) {
	env := newTestEnv(t)
	// Identical standing, identical load: the earlier id should win.
	for _, id := range []string{"pa", "pb"} {
		insertPartner(t, env, domain.Partner{
			ID: id, Name: "Clone " + id, Email: id + "@example.com",
			Areas:   []string{"Downtown"},
			Metrics: domain.PartnerMetrics{Rating: 4.5, CompletedOrders: 50, CancelledOrders: 1},
		})
	}
	createOrder(t, env, "o1", "Downtown")

	assignments, err := env.Engine.RunAssignment(env.Ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(assignments) != 1 || assignments[0].PartnerID == nil {
		t.Fatalf("unexpected result: %+v", assignments)
	}
	if *assignments[0].PartnerID != "pa" {
		t.Fatalf("tie must go to pa, got %s", *assignments[0].PartnerID)
	}
}

func TestDeliveredFreesLoadAndCreditsCompletion(t *testing.T) {
	env := newTestEnv(t)
	insertPartner(t, env, domain.Partner{
		ID: "p1", Name: "Runner", Email: "runner@example.com",
		Areas:   []string{"Downtown"},
		Metrics: domain.PartnerMetrics{CompletedOrders: 10},
	})
	createOrder(t, env, "o1", "Downtown")
	if _, err := env.Engine.RunAssignment(env.Ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderPicked, ""); err != nil {
		t.Fatalf("to picked: %v", err)
	}
	o, err := env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderDelivered, "")
	if err != nil {
		t.Fatalf("to delivered: %v", err)
	}
	if o.Status != domain.OrderDelivered {
		t.Fatalf("want delivered, got %s", o.Status)
	}

	p, err := env.Engine.Repo.GetPartner(env.Ctx, "p1")
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if p.CurrentLoad != 0 {
		t.Fatalf("load must return to 0, got %d", p.CurrentLoad)
	}
	if p.Metrics.CompletedOrders != 11 {
		t.Fatalf("want 11 completed, got %d", p.Metrics.CompletedOrders)
	}
}

func TestOrderTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	createOrder(t, env, "o1", "Downtown")

	// skipping assigned
	if _, err := env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderPicked, ""); err == nil {
		t.Fatalf("pending -> picked must fail")
	}
	// moving backward
	insertPartner(t, env, domain.Partner{ID: "p1", Name: "R", Email: "r@example.com", Areas: []string{"Downtown"}})
	if _, err := env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderAssigned, "p1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderPending, ""); err == nil {
		t.Fatalf("assigned -> pending must fail")
	}
}

func TestManualAssignChecks(t *testing.T) {
	env := newTestEnv(t)
	createOrder(t, env, "o1", "Downtown")

	if _, err := env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderAssigned, ""); err == nil {
		t.Fatalf("assign without partner must fail")
	}

	insertPartner(t, env, domain.Partner{
		ID: "full", Name: "Full", Email: "full@example.com",
		CurrentLoad: 3, Areas: []string{"Downtown"},
	})
	_, err := env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderAssigned, "full")
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("want ErrConflict for partner at capacity, got %v", err)
	}

	insertPartner(t, env, domain.Partner{
		ID: "elsewhere", Name: "Elsewhere", Email: "e@example.com",
		Areas: []string{"Uptown"},
	})
	_, err = env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderAssigned, "elsewhere")
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("want ErrConflict for uncovered area, got %v", err)
	}

	insertPartner(t, env, domain.Partner{
		ID: "ok", Name: "OK", Email: "ok@example.com",
		Areas: []string{"Downtown"},
	})
	o, err := env.Engine.SetOrderStatus(env.Ctx, "o1", domain.OrderAssigned, "ok")
	if err != nil {
		t.Fatalf("manual assign: %v", err)
	}
	if o.AssignedTo == nil || *o.AssignedTo != "ok" {
		t.Fatalf("want assigned to ok, got %v", o.AssignedTo)
	}
	p, _ := env.Engine.Repo.GetPartner(env.Ctx, "ok")
	if p.CurrentLoad != 1 {
		t.Fatalf("manual assign must bump load, got %d", p.CurrentLoad)
	}
}

func TestDeletePartnerWithLoadRefused(t *testing.T) {
	env := newTestEnv(t)
	insertPartner(t, env, domain.Partner{
		ID: "busy", Name: "Busy", Email: "busy@example.com",
		CurrentLoad: 1, Areas: []string{"Downtown"},
	})
	err := env.Engine.DeletePartner(env.Ctx, "busy")
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}

	insertPartner(t, env, domain.Partner{ID: "idle", Name: "Idle", Email: "idle@example.com"})
	if err := env.Engine.DeletePartner(env.Ctx, "idle"); err != nil {
		t.Fatalf("delete idle: %v", err)
	}
}

func TestAssignmentMetricsAggregation(t *testing.T) {
	env := newTestEnv(t)
	insertPartner(t, env, domain.Partner{
		ID: "p1", Name: "Downtown Only", Email: "d@example.com",
		Areas: []string{"Downtown"},
	})
	createOrder(t, env, "o1", "Downtown")
	createOrder(t, env, "o2", "Southside")
	if _, err := env.Engine.RunAssignment(env.Ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	m, err := env.Engine.Repo.AssignmentMetrics(env.Ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TotalAssigned != 2 {
		t.Fatalf("want 2 records, got %d", m.TotalAssigned)
	}
	if m.SuccessRate != 50 {
		t.Fatalf("want 50%% success, got %.2f", m.SuccessRate)
	}
	if len(m.FailureReasons) != 1 || m.FailureReasons[0].Reason != engine.ReasonNoPartner || m.FailureReasons[0].Count != 1 {
		t.Fatalf("unexpected failure histogram: %+v", m.FailureReasons)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		Customer: domain.Customer{Name: "X"},
		Area:     "Downtown",
	})
	if err == nil {
		t.Fatalf("order without items must fail")
	}
	_, err = env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		Customer: domain.Customer{Name: "X"},
		Area:     "Downtown",
		Items:    []domain.OrderItem{{Name: "Widget", Quantity: 0, Price: 1}},
	})
	if err == nil {
		t.Fatalf("zero quantity must fail")
	}

	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		Customer: domain.Customer{Name: "X"},
		Area:     "Downtown",
		Items: []domain.OrderItem{
			{Name: "Burger", Quantity: 2, Price: 12.99},
			{Name: "Fries", Quantity: 1, Price: 4.99},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if want := 30.97; o.TotalAmount < want-0.001 || o.TotalAmount > want+0.001 {
		t.Fatalf("want total %.2f, got %.2f", want, o.TotalAmount)
	}
	if o.OrderNumber == "" || o.Status != domain.OrderPending {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreatePartner(env.Ctx, engine.PartnerCreateOptions{
		Name: "P", Email: "p@example.com", Areas: []string{"Downtown"},
	}); err != nil {
		t.Fatalf("create partner: %v", err)
	}
	createOrder(t, env, "o1", "Downtown")
	if _, err := env.Engine.RunAssignment(env.Ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	types := map[string]bool{}
	for _, e := range events {
		types[e.Type] = true
	}
	for _, want := range []string{"partner.created", "order.created", "assignment.success"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
