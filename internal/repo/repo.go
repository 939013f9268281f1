package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fleetline/internal/domain"
)

// Repo is the single mutation and query surface over the in-memory store.
// Callers never touch the tables directly; every write goes through a method
// here so load counters have one source of truth.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- partners ---

const partnerColumns = `id,name,email,phone,status,current_load,areas_json,COALESCE(shift_start,''),COALESCE(shift_end,''),rating,completed_orders,cancelled_orders,created_at,updated_at`

func scanPartner(scan func(...any) error) (domain.Partner, error) {
	var p domain.Partner
	var areasJSON string
	err := scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Status, &p.CurrentLoad, &areasJSON,
		&p.Shift.Start, &p.Shift.End, &p.Metrics.Rating, &p.Metrics.CompletedOrders,
		&p.Metrics.CancelledOrders, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(areasJSON), &p.Areas); err != nil {
		return p, fmt.Errorf("partner %s areas: %w", p.ID, err)
	}
	return p, nil
}

func (r Repo) GetPartner(ctx context.Context, id string) (domain.Partner, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+partnerColumns+` FROM partners WHERE id=?`, id)
	return scanPartner(row.Scan)
}

func (r Repo) ListPartners(ctx context.Context) ([]domain.Partner, error) {
	return r.queryPartners(ctx, `SELECT `+partnerColumns+` FROM partners ORDER BY id`)
}

// AvailablePartners returns active partners with spare capacity in ascending
// id order. The engine relies on this ordering for deterministic tie-breaks.
func (r Repo) AvailablePartners(ctx context.Context, capacity int) ([]domain.Partner, error) {
	return r.queryPartners(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE status=? AND current_load<? ORDER BY id`,
		domain.PartnerActive, capacity)
}

func (r Repo) queryPartners(ctx context.Context, query string, args ...any) ([]domain.Partner, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Partner
	for rows.Next() {
		p, err := scanPartner(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertPartner(ctx context.Context, tx *sql.Tx, p domain.Partner) error {
	areasJSON, err := json.Marshal(p.Areas)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO partners(id,name,email,phone,status,current_load,areas_json,shift_start,shift_end,rating,completed_orders,cancelled_orders,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Email, p.Phone, p.Status, p.CurrentLoad, string(areasJSON),
		nullable(p.Shift.Start), nullable(p.Shift.End), p.Metrics.Rating,
		p.Metrics.CompletedOrders, p.Metrics.CancelledOrders, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdatePartner(ctx context.Context, tx *sql.Tx, p domain.Partner) error {
	areasJSON, err := json.Marshal(p.Areas)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE partners SET name=?, email=?, phone=?, status=?, current_load=?, areas_json=?, shift_start=?, shift_end=?, rating=?, completed_orders=?, cancelled_orders=?, updated_at=? WHERE id=?`,
		p.Name, p.Email, p.Phone, p.Status, p.CurrentLoad, string(areasJSON),
		nullable(p.Shift.Start), nullable(p.Shift.End), p.Metrics.Rating,
		p.Metrics.CompletedOrders, p.Metrics.CancelledOrders, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePartner(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM partners WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementPartnerLoad adds one to the partner's load as part of an
// assignment commit.
func (r Repo) IncrementPartnerLoad(ctx context.Context, tx *sql.Tx, id, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE partners SET current_load=current_load+1, updated_at=? WHERE id=?`, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleasePartnerLoad frees one load slot (floored at zero) and credits a
// completed order. Runs in the same tx as the delivered status write.
func (r Repo) ReleasePartnerLoad(ctx context.Context, tx *sql.Tx, id, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE partners SET current_load=MAX(current_load-1,0), completed_orders=completed_orders+1, updated_at=? WHERE id=?`, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PartnerAvailability buckets the fleet for the dashboard.
func (r Repo) PartnerAvailability(ctx context.Context, capacity int) (domain.PartnerAvailability, error) {
	var a domain.PartnerAvailability
	err := r.DB.QueryRowContext(ctx, `SELECT
COUNT(CASE WHEN status=? AND current_load<? THEN 1 END),
COUNT(CASE WHEN status=? AND current_load>=? THEN 1 END),
COUNT(CASE WHEN status=? THEN 1 END)
FROM partners`,
		domain.PartnerActive, capacity, domain.PartnerActive, capacity, domain.PartnerInactive).
		Scan(&a.Available, &a.Busy, &a.Offline)
	return a, err
}

// FleetMetrics summarizes active partners. Top areas are the three areas
// covered by the most active partners, ties broken alphabetically.
func (r Repo) FleetMetrics(ctx context.Context) (domain.FleetMetrics, error) {
	partners, err := r.ListPartners(ctx)
	if err != nil {
		return domain.FleetMetrics{}, err
	}
	var m domain.FleetMetrics
	coverage := map[string]int{}
	var ratingSum float64
	for _, p := range partners {
		if p.Status != domain.PartnerActive {
			continue
		}
		m.TotalActive++
		ratingSum += p.Metrics.Rating
		for _, a := range p.Areas {
			coverage[a]++
		}
	}
	if m.TotalActive > 0 {
		m.AvgRating = ratingSum / float64(m.TotalActive)
	}
	areas := make([]string, 0, len(coverage))
	for a := range coverage {
		areas = append(areas, a)
	}
	sort.Slice(areas, func(i, j int) bool {
		if coverage[areas[i]] != coverage[areas[j]] {
			return coverage[areas[i]] > coverage[areas[j]]
		}
		return areas[i] < areas[j]
	})
	if len(areas) > 3 {
		areas = areas[:3]
	}
	m.TopAreas = areas
	return m, nil
}

// --- orders ---

const orderColumns = `id,order_number,customer_name,COALESCE(customer_phone,''),COALESCE(customer_address,''),area,items_json,status,assigned_to,COALESCE(scheduled_for,''),total_amount,created_at,updated_at`

func scanOrder(scan func(...any) error) (domain.Order, error) {
	var o domain.Order
	var itemsJSON string
	var assignedTo sql.NullString
	err := scan(&o.ID, &o.OrderNumber, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Address,
		&o.Area, &itemsJSON, &o.Status, &assignedTo, &o.ScheduledFor, &o.TotalAmount,
		&o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if assignedTo.Valid {
		o.AssignedTo = &assignedTo.String
	}
	if err := json.Unmarshal([]byte(itemsJSON), &o.Items); err != nil {
		return o, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	return o, nil
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	return scanOrder(row.Scan)
}

// OrderFilters narrows ListOrders.
type OrderFilters struct {
	Status     string
	Area       string
	AssignedTo string
	Limit      int
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.Order, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Area != "" {
		clauses = append(clauses, "area=?")
		args = append(args, f.Area)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryOrders(ctx, query, args...)
}

// PendingOrders returns the engine's order snapshot: pending orders in
// insertion order, which decides who gets first pick during a pass.
func (r Repo) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status=? ORDER BY created_at, id`,
		domain.OrderPending)
}

func (r Repo) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO orders(id,order_number,customer_name,customer_phone,customer_address,area,items_json,status,assigned_to,scheduled_for,total_amount,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.OrderNumber, o.Customer.Name, nullable(o.Customer.Phone), nullable(o.Customer.Address),
		o.Area, string(itemsJSON), o.Status, nullableStringPtr(o.AssignedTo),
		nullable(o.ScheduledFor), o.TotalAmount, o.CreatedAt, o.UpdatedAt)
	return err
}

// SetOrderAssigned marks one order assigned to a partner. Part of the
// per-order assignment commit.
func (r Repo) SetOrderAssigned(ctx context.Context, tx *sql.Tx, orderID, partnerID, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE orders SET status=?, assigned_to=?, updated_at=? WHERE id=?`,
		domain.OrderAssigned, partnerID, ts, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetOrderStatus(ctx context.Context, tx *sql.Tx, orderID, status, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE orders SET status=?, updated_at=? WHERE id=?`, status, ts, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{
		domain.OrderPending:   0,
		domain.OrderAssigned:  0,
		domain.OrderPicked:    0,
		domain.OrderDelivered: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- assignments (append-only log) ---

func (r Repo) AppendAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(order_id,partner_id,ts,status,reason) VALUES (?,?,?,?,?)`,
		a.OrderID, nullableStringPtr(a.PartnerID), a.Timestamp, a.Status, nullable(a.Reason))
	return err
}

func scanAssignment(scan func(...any) error) (domain.Assignment, error) {
	var a domain.Assignment
	var partnerID sql.NullString
	err := scan(&a.ID, &a.OrderID, &partnerID, &a.Timestamp, &a.Status, &a.Reason)
	if err != nil {
		return a, err
	}
	if partnerID.Valid {
		a.PartnerID = &partnerID.String
	}
	return a, nil
}

const assignmentColumns = `id,order_id,partner_id,ts,status,COALESCE(reason,'')`

// RecentAssignments returns the newest log entries first.
func (r Repo) RecentAssignments(ctx context.Context, limit int) ([]domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments ORDER BY ts DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryAssignments(ctx, query, args...)
}

// ActiveAssignments returns successful assignments whose order has not been
// delivered yet.
func (r Repo) ActiveAssignments(ctx context.Context) ([]domain.Assignment, error) {
	return r.queryAssignments(ctx, `SELECT a.id,a.order_id,a.partner_id,a.ts,a.status,COALESCE(a.reason,'')
FROM assignments a JOIN orders o ON o.id=a.order_id
WHERE a.status=? AND o.status<>? ORDER BY a.ts DESC, a.id DESC`,
		domain.AssignmentSuccess, domain.OrderDelivered)
}

func (r Repo) queryAssignments(ctx context.Context, query string, args ...any) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AssignmentMetrics aggregates the full log. Average time is the mean delay
// in minutes between order creation and a successful assignment.
func (r Repo) AssignmentMetrics(ctx context.Context) (domain.AssignmentMetrics, error) {
	m := domain.AssignmentMetrics{FailureReasons: []domain.FailureReason{}}

	rows, err := r.DB.QueryContext(ctx, `SELECT a.status, COALESCE(a.reason,''), a.ts, o.created_at
FROM assignments a LEFT JOIN orders o ON o.id=a.order_id ORDER BY a.id`)
	if err != nil {
		return m, err
	}
	defer rows.Close()

	reasons := map[string]int{}
	var reasonOrder []string
	var successes int
	var totalMinutes float64
	var timed int
	for rows.Next() {
		var status, reason, ts string
		var orderCreated sql.NullString
		if err := rows.Scan(&status, &reason, &ts, &orderCreated); err != nil {
			return m, err
		}
		m.TotalAssigned++
		if status == domain.AssignmentSuccess {
			successes++
			if orderCreated.Valid {
				if minutes, ok := minutesBetween(orderCreated.String, ts); ok {
					totalMinutes += minutes
					timed++
				}
			}
			continue
		}
		if reason == "" {
			reason = "unknown"
		}
		if _, seen := reasons[reason]; !seen {
			reasonOrder = append(reasonOrder, reason)
		}
		reasons[reason]++
	}
	if err := rows.Err(); err != nil {
		return m, err
	}
	if m.TotalAssigned > 0 {
		m.SuccessRate = float64(successes) / float64(m.TotalAssigned) * 100
	}
	if timed > 0 {
		m.AverageTime = totalMinutes / float64(timed)
	}
	for _, reason := range reasonOrder {
		m.FailureReasons = append(m.FailureReasons, domain.FailureReason{Reason: reason, Count: reasons[reason]})
	}
	return m, nil
}

func minutesBetween(from, to string) (float64, bool) {
	t0, err0 := time.Parse(time.RFC3339, from)
	t1, err1 := time.Parse(time.RFC3339, to)
	if err0 != nil || err1 != nil || t1.Before(t0) {
		return 0, false
	}
	return t1.Sub(t0).Minutes(), true
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
