package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"fleetline/internal/config"
	"fleetline/internal/db"
	"fleetline/internal/engine"
	"fleetline/internal/migrate"
	"fleetline/internal/seed"
)

var dbSeq atomic.Int64

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, seedDemo bool) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Name: fmt.Sprintf("servertest%d", dbSeq.Add(1))})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if seedDemo {
		if err := seed.Load(context.Background(), conn); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestPartnerCRUD(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/partners", map[string]any{
		"name":  "John Doe",
		"email": "john@example.com",
		"areas": []string{"Downtown"},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %s", res.StatusCode, data)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != "active" {
		t.Fatalf("unexpected partner: %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/partners/"+created.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/partners/"+created.ID, map[string]any{
		"status": "inactive",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d body %s", res.StatusCode, data)
	}
	var updated struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(data, &updated)
	if updated.Status != "inactive" {
		t.Fatalf("want inactive, got %s", data)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/partners/"+created.ID, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/partners/"+created.ID, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 after delete, got %d", res.StatusCode)
	}
}

func TestRunAssignmentEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()
	client := srv.Client()

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/partners", map[string]any{
		"name": "Runner", "email": "runner@example.com", "areas": []string{"Downtown"},
	})
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders", map[string]any{
		"customer": map[string]string{"name": "Alice"},
		"area":     "Downtown",
		"items":    []map[string]any{{"name": "Burger", "quantity": 2, "price": 12.99}},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create order: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/assignments/run", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run: status %d body %s", res.StatusCode, data)
	}
	var run struct {
		Success     bool `json:"success"`
		Assignments []struct {
			Status    string  `json:"status"`
			PartnerID *string `json:"partner_id"`
		} `json:"assignments"`
	}
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !run.Success || len(run.Assignments) != 1 || run.Assignments[0].Status != "success" {
		t.Fatalf("unexpected run result: %s", data)
	}
}

func TestOrderStatusEndpointErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodPut, srv.URL+"/v0/orders/nope/status", map[string]any{
		"status": "assigned", "partner_id": "p1",
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 for unknown order, got %d", res.StatusCode)
	}

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders", map[string]any{
		"customer": map[string]string{"name": "Alice"},
		"area":     "Downtown",
		"items":    []map[string]any{{"name": "Burger", "quantity": 1, "price": 5}},
	})
	var o struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &o)

	// skipping ahead in the lifecycle
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/orders/"+o.ID+"/status", map[string]any{
		"status": "delivered",
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("want 422 for bad transition, got %d body %s", res.StatusCode, data)
	}

	// assigning without a partner
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/orders/"+o.ID+"/status", map[string]any{
		"status": "assigned",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400 without partner_id, got %d body %s", res.StatusCode, data)
	}
}

func TestMetricsAndDashboardEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/assignments/metrics", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status %d body %s", res.StatusCode, data)
	}
	var m struct {
		TotalAssigned  int     `json:"total_assigned"`
		SuccessRate    float64 `json:"success_rate"`
		FailureReasons []struct {
			Reason string `json:"reason"`
			Count  int    `json:"count"`
		} `json:"failure_reasons"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.TotalAssigned != 5 || m.SuccessRate != 60 {
		t.Fatalf("want 5 records at 60%%, got %s", data)
	}
	if len(m.FailureReasons) != 2 {
		t.Fatalf("want 2 failure reasons, got %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: status %d body %s", res.StatusCode, data)
	}
	var d struct {
		OrdersByStatus      map[string]int `json:"orders_by_status"`
		PartnerAvailability struct {
			Available int `json:"available"`
			Busy      int `json:"busy"`
			Offline   int `json:"offline"`
		} `json:"partner_availability"`
		Fleet struct {
			TotalActive int `json:"total_active"`
		} `json:"fleet"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.OrdersByStatus["pending"] != 3 || d.OrdersByStatus["delivered"] != 1 {
		t.Fatalf("unexpected order counts: %s", data)
	}
	if d.PartnerAvailability.Available != 3 || d.PartnerAvailability.Busy != 1 || d.PartnerAvailability.Offline != 1 {
		t.Fatalf("unexpected availability: %s", data)
	}
	if d.Fleet.TotalActive != 4 {
		t.Fatalf("want 4 active partners, got %s", data)
	}
}

func TestDeletePartnerConflict(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()

	// p1 carries demo load
	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/partners/p1", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("want 409 for loaded partner, got %d body %s", res.StatusCode, data)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d body %s", res.StatusCode, data)
	}
	var body struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(data, &body)
	if body.Status != "ok" {
		t.Fatalf("want ok, got %s", data)
	}
}
