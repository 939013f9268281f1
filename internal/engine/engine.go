package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetline/internal/config"
	"fleetline/internal/domain"
	"fleetline/internal/events"
	"fleetline/internal/repo"
)

// ReasonNoPartner is the failure reason recorded when no eligible partner
// exists for an order's area during a dispatch pass.
const ReasonNoPartner = "No available partners for this area"

// ErrConflict marks operations refused because of current fleet state, not
// bad input. The server maps it to 409.
var ErrConflict = errors.New("conflict")

// Engine owns every mutation of the store. A single mutex serializes dispatch
// passes and status updates, so one pass always sees a stable fleet snapshot.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	mu sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// --- partners ---

// PartnerCreateOptions are parameters for registering a partner.
type PartnerCreateOptions struct {
	ID     string
	Name   string
	Email  string
	Phone  string
	Status string
	Areas  []string
	Shift  domain.Shift
	Rating float64
}

func (e *Engine) CreatePartner(ctx context.Context, opts PartnerCreateOptions) (domain.Partner, error) {
	if opts.Name == "" {
		return domain.Partner{}, errors.New("name is required")
	}
	if opts.Email == "" {
		return domain.Partner{}, errors.New("email is required")
	}
	if opts.Status == "" {
		opts.Status = domain.PartnerActive
	}
	if !domain.ValidPartnerStatus(opts.Status) {
		return domain.Partner{}, fmt.Errorf("invalid partner status %s", opts.Status)
	}
	if opts.Rating < 0 || opts.Rating > 5 {
		return domain.Partner{}, fmt.Errorf("invalid rating %.2f: must be between 0 and 5", opts.Rating)
	}
	if err := e.checkAreas(opts.Areas); err != nil {
		return domain.Partner{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.Areas == nil {
		opts.Areas = []string{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.timestamp()
	p := domain.Partner{
		ID:        opts.ID,
		Name:      opts.Name,
		Email:     opts.Email,
		Phone:     opts.Phone,
		Status:    opts.Status,
		Areas:     opts.Areas,
		Shift:     opts.Shift,
		Metrics:   domain.PartnerMetrics{Rating: opts.Rating},
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Partner{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertPartner(ctx, tx, p); err != nil {
		return domain.Partner{}, fmt.Errorf("insert partner: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "partner.created", "partner", p.ID, events.EventPayload{"name": p.Name, "status": p.Status}); err != nil {
		return domain.Partner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Partner{}, err
	}
	return p, nil
}

// PartnerUpdateOptions carries a partial partner update. Nil fields keep
// their current value. Load and order counters are engine-managed and cannot
// be set here.
type PartnerUpdateOptions struct {
	Name   *string
	Email  *string
	Phone  *string
	Status *string
	Areas  *[]string
	Shift  *domain.Shift
	Rating *float64
}

func (e *Engine) UpdatePartner(ctx context.Context, id string, opts PartnerUpdateOptions) (domain.Partner, error) {
	if opts.Status != nil && !domain.ValidPartnerStatus(*opts.Status) {
		return domain.Partner{}, fmt.Errorf("invalid partner status %s", *opts.Status)
	}
	if opts.Rating != nil && (*opts.Rating < 0 || *opts.Rating > 5) {
		return domain.Partner{}, fmt.Errorf("invalid rating %.2f: must be between 0 and 5", *opts.Rating)
	}
	if opts.Areas != nil {
		if err := e.checkAreas(*opts.Areas); err != nil {
			return domain.Partner{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.Repo.GetPartner(ctx, id)
	if err != nil {
		return domain.Partner{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.Partner{}, errors.New("name is required")
		}
		p.Name = *opts.Name
	}
	if opts.Email != nil {
		if *opts.Email == "" {
			return domain.Partner{}, errors.New("email is required")
		}
		p.Email = *opts.Email
	}
	if opts.Phone != nil {
		p.Phone = *opts.Phone
	}
	if opts.Status != nil {
		p.Status = *opts.Status
	}
	if opts.Areas != nil {
		p.Areas = *opts.Areas
	}
	if opts.Shift != nil {
		p.Shift = *opts.Shift
	}
	if opts.Rating != nil {
		p.Metrics.Rating = *opts.Rating
	}
	p.UpdatedAt = e.timestamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Partner{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdatePartner(ctx, tx, p); err != nil {
		return domain.Partner{}, err
	}
	if err := e.Events.Append(ctx, tx, "partner.updated", "partner", p.ID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Partner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Partner{}, err
	}
	return p, nil
}

func (e *Engine) DeletePartner(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.Repo.GetPartner(ctx, id)
	if err != nil {
		return err
	}
	if p.CurrentLoad > 0 {
		return fmt.Errorf("%w: partner %s still carries %d active orders", ErrConflict, id, p.CurrentLoad)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeletePartner(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "partner.deleted", "partner", id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) checkAreas(areas []string) error {
	for _, a := range areas {
		if a == "" {
			return errors.New("invalid area: empty name")
		}
		if !e.Config.KnownArea(a) {
			return fmt.Errorf("invalid area %s: not in configured service areas", a)
		}
	}
	return nil
}

// --- orders ---

// OrderCreateOptions are parameters for registering an order.
type OrderCreateOptions struct {
	ID           string
	OrderNumber  string
	Customer     domain.Customer
	Area         string
	Items        []domain.OrderItem
	ScheduledFor string
}

func (e *Engine) CreateOrder(ctx context.Context, opts OrderCreateOptions) (domain.Order, error) {
	if opts.Customer.Name == "" {
		return domain.Order{}, errors.New("customer name is required")
	}
	if opts.Area == "" {
		return domain.Order{}, errors.New("area is required")
	}
	if !e.Config.KnownArea(opts.Area) {
		return domain.Order{}, fmt.Errorf("invalid area %s: not in configured service areas", opts.Area)
	}
	if len(opts.Items) == 0 {
		return domain.Order{}, errors.New("at least one item is required")
	}
	var total float64
	for _, it := range opts.Items {
		if it.Name == "" {
			return domain.Order{}, errors.New("invalid item: name is required")
		}
		if it.Quantity < 1 {
			return domain.Order{}, fmt.Errorf("invalid item %s: quantity must be at least 1", it.Name)
		}
		total += it.Price * float64(it.Quantity)
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.OrderNumber == "" {
		opts.OrderNumber = "ORD-" + strings.ToUpper(opts.ID[:min(8, len(opts.ID))])
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.timestamp()
	o := domain.Order{
		ID:           opts.ID,
		OrderNumber:  opts.OrderNumber,
		Customer:     opts.Customer,
		Area:         opts.Area,
		Items:        opts.Items,
		Status:       domain.OrderPending,
		ScheduledFor: opts.ScheduledFor,
		TotalAmount:  total,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertOrder(ctx, tx, o); err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "order.created", "order", o.ID, events.EventPayload{"order_number": o.OrderNumber, "area": o.Area}); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// SetOrderStatus moves an order one step forward in its lifecycle. Moving to
// assigned requires a partner with spare capacity covering the order's area.
// Moving to delivered frees the partner's slot and credits a completed order
// in the same transaction.
func (e *Engine) SetOrderStatus(ctx context.Context, orderID, status, partnerID string) (domain.Order, error) {
	if !domain.ValidOrderStatus(status) {
		return domain.Order{}, fmt.Errorf("invalid order status %s", status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := ensureOrderTransition(o.Status, status); err != nil {
		return domain.Order{}, err
	}

	ts := e.timestamp()
	switch status {
	case domain.OrderAssigned:
		if partnerID == "" {
			return domain.Order{}, errors.New("partner_id is required to assign an order")
		}
		p, err := e.Repo.GetPartner(ctx, partnerID)
		if err != nil {
			return domain.Order{}, err
		}
		if p.Status != domain.PartnerActive {
			return domain.Order{}, fmt.Errorf("%w: partner %s is not active", ErrConflict, partnerID)
		}
		if p.CurrentLoad >= e.Config.Dispatch.Capacity {
			return domain.Order{}, fmt.Errorf("%w: partner %s is at capacity", ErrConflict, partnerID)
		}
		if !p.CoversArea(o.Area) {
			return domain.Order{}, fmt.Errorf("%w: partner %s does not cover area %s", ErrConflict, partnerID, o.Area)
		}
		if err := e.commitAssignment(ctx, o, p.ID, ts, "assignment.manual"); err != nil {
			return domain.Order{}, err
		}
		o.Status = domain.OrderAssigned
		o.AssignedTo = &p.ID
		o.UpdatedAt = ts
		return o, nil

	case domain.OrderDelivered:
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.Order{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.SetOrderStatus(ctx, tx, o.ID, status, ts); err != nil {
			return domain.Order{}, err
		}
		if o.AssignedTo != nil {
			if err := e.Repo.ReleasePartnerLoad(ctx, tx, *o.AssignedTo, ts); err != nil {
				return domain.Order{}, fmt.Errorf("release partner load: %w", err)
			}
		}
		if err := e.Events.Append(ctx, tx, "order.delivered", "order", o.ID, events.EventPayload{"partner_id": o.AssignedTo}); err != nil {
			return domain.Order{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Order{}, err
		}
		o.Status = status
		o.UpdatedAt = ts
		return o, nil

	default:
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.Order{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.SetOrderStatus(ctx, tx, o.ID, status, ts); err != nil {
			return domain.Order{}, err
		}
		if err := e.Events.Append(ctx, tx, "order."+status, "order", o.ID, nil); err != nil {
			return domain.Order{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Order{}, err
		}
		o.Status = status
		o.UpdatedAt = ts
		return o, nil
	}
}

func ensureOrderTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.OrderPending:
		if newStatus == domain.OrderAssigned {
			return nil
		}
	case domain.OrderAssigned:
		if newStatus == domain.OrderPicked {
			return nil
		}
	case domain.OrderPicked:
		if newStatus == domain.OrderDelivered {
			return nil
		}
	}
	return fmt.Errorf("invalid order status transition %s -> %s", oldStatus, newStatus)
}

// --- dispatch ---

// RunAssignment executes one dispatch pass: every pending order, oldest
// first, is matched against the highest-scoring eligible partner. Each match
// commits before the next order is considered, and load consumed earlier in
// the pass counts against a partner for the rest of it. Orders with no
// eligible partner get a failure record instead.
func (e *Engine) RunAssignment(ctx context.Context) ([]domain.Assignment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	capacity := e.Config.Dispatch.Capacity
	pending, err := e.Repo.PendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	partners, err := e.Repo.AvailablePartners(ctx, capacity)
	if err != nil {
		return nil, err
	}
	loads := make(map[string]int, len(partners))
	for _, p := range partners {
		loads[p.ID] = p.CurrentLoad
	}

	results := make([]domain.Assignment, 0, len(pending))
	for _, o := range pending {
		best := -1
		bestScore := 0.0
		for i, p := range partners {
			if loads[p.ID] >= capacity || !p.CoversArea(o.Area) {
				continue
			}
			// Partners arrive in ascending id order; strict > keeps the
			// earliest id on equal scores.
			if s := Score(p, loads[p.ID], capacity); best == -1 || s > bestScore {
				best, bestScore = i, s
			}
		}

		ts := e.timestamp()
		if best == -1 {
			a := domain.Assignment{
				OrderID:   o.ID,
				Timestamp: ts,
				Status:    domain.AssignmentFailed,
				Reason:    ReasonNoPartner,
			}
			id, err := e.recordFailure(ctx, a)
			if err != nil {
				return results, err
			}
			a.ID = id
			results = append(results, a)
			continue
		}

		p := partners[best]
		if err := e.commitAssignment(ctx, o, p.ID, ts, "assignment.success"); err != nil {
			return results, err
		}
		loads[p.ID]++
		a := domain.Assignment{
			OrderID:   o.ID,
			PartnerID: &p.ID,
			Timestamp: ts,
			Status:    domain.AssignmentSuccess,
		}
		a.ID, err = e.lastAssignmentID(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, a)
	}
	return results, nil
}

// commitAssignment writes one order/partner match: order flips to assigned,
// partner load goes up, and a success record lands in the log, all in one tx.
func (e *Engine) commitAssignment(ctx context.Context, o domain.Order, partnerID, ts, evtType string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.SetOrderAssigned(ctx, tx, o.ID, partnerID, ts); err != nil {
		return fmt.Errorf("assign order %s: %w", o.ID, err)
	}
	if err := e.Repo.IncrementPartnerLoad(ctx, tx, partnerID, ts); err != nil {
		return fmt.Errorf("increment load for %s: %w", partnerID, err)
	}
	if err := e.Repo.AppendAssignment(ctx, tx, domain.Assignment{
		OrderID:   o.ID,
		PartnerID: &partnerID,
		Timestamp: ts,
		Status:    domain.AssignmentSuccess,
	}); err != nil {
		return fmt.Errorf("append assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, evtType, "order", o.ID, events.EventPayload{"partner_id": partnerID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) recordFailure(ctx context.Context, a domain.Assignment) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := e.Repo.AppendAssignment(ctx, tx, a); err != nil {
		return 0, fmt.Errorf("append assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "assignment.failed", "order", a.OrderID, events.EventPayload{"reason": a.Reason}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return e.lastAssignmentID(ctx)
}

func (e *Engine) lastAssignmentID(ctx context.Context) (int64, error) {
	var id int64
	err := e.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM assignments`).Scan(&id)
	return id, err
}
