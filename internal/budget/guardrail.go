// internal/budget/guardrail.go
// Package budget gates every billable call against a daily spending ceiling
// and keeps the append-only spend ledger.
package budget

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aceteam-ai/opencorp/internal/config"
	"github.com/aceteam-ai/opencorp/internal/logging"
	"github.com/aceteam-ai/opencorp/internal/store"
)

// Table holds SpendRecords inside the spending collection.
const Table = "spending"

const dateLayout = "2006-01-02"

// SpendRecord is one billable call. Records are appended, never edited.
type SpendRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
	Executor  string    `json:"executor"`
	Backend   string    `json:"backend"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Cost      float64   `json:"cost"`
}

// Guardrail tracks spend against the daily ceiling. Every read-sum-append
// sequence runs under the collection lock handed out by the store.
type Guardrail struct {
	cfg  config.Budget
	coll *store.Collection
	lock *sync.Mutex
	now  func() time.Time

	// holds and nextHold are guarded by lock.
	holds    map[uint64]float64
	nextHold uint64
}

// Option configures a Guardrail.
type Option func(*Guardrail)

// WithClock overrides the time source used for "today".
func WithClock(now func() time.Time) Option {
	return func(g *Guardrail) { g.now = now }
}

// New builds a guardrail over the spending collection and its lock.
func New(cfg config.Budget, coll *store.Collection, lock *sync.Mutex, opts ...Option) (*Guardrail, error) {
	if cfg.Thresholds == (config.Thresholds{}) {
		cfg.Thresholds = config.DefaultThresholds()
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	g := &Guardrail{
		cfg:   cfg,
		coll:  coll,
		lock:  lock,
		now:   time.Now,
		holds: make(map[uint64]float64),
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := coll.Index(context.Background(), Table, "date"); err != nil {
		return nil, fmt.Errorf("budget: index spending: %w", err)
	}
	return g, nil
}

// Limit returns the configured daily ceiling.
func (g *Guardrail) Limit() float64 { return g.cfg.DailyLimit }

func (g *Guardrail) today() string {
	return g.now().UTC().Format(dateLayout)
}

// todayRecords must be called with lock held.
func (g *Guardrail) todayRecords(ctx context.Context) ([]SpendRecord, error) {
	docs, err := g.coll.Find(ctx, Table, "date", g.today())
	if err != nil {
		return nil, fmt.Errorf("budget: read ledger: %w", err)
	}
	records := make([]SpendRecord, 0, len(docs))
	for _, d := range docs {
		var r SpendRecord
		if err := d.Decode(&r); err != nil {
			return nil, fmt.Errorf("budget: decode record %d: %w", d.ID, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (g *Guardrail) spentToday(ctx context.Context) (float64, error) {
	records, err := g.todayRecords(ctx)
	if err != nil {
		return 0, err
	}
	return sumCost(records), nil
}

func (g *Guardrail) reserved() float64 {
	var total float64
	for _, amount := range g.holds {
		total += amount
	}
	return total
}

// CheckAndReserve is the mandatory checkpoint before a billable call. It
// holds estimate against the ceiling until the returned reservation is
// committed or released.
//
// A critical or frozen status (counting outstanding holds) rejects every
// call with *ExceededError. Below that, an estimate that would carry spend
// past the ceiling is rejected with *OverflowError, which leaves cheaper
// calls free to try.
func (g *Guardrail) CheckAndReserve(ctx context.Context, estimate float64) (*Reservation, error) {
	if estimate < 0 {
		estimate = 0
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	spent, err := g.spentToday(ctx)
	if err != nil {
		return nil, err
	}
	held := g.reserved()
	committed := spent + held
	limit := g.cfg.DailyLimit
	status := StatusFor(committed, limit, g.cfg.Thresholds)
	remaining := math.Max(0, limit-committed)

	if status.Blocking() {
		logging.FromContext(ctx).Warn("budget: call rejected",
			"status", status, "spent", spent, "reserved", held, "limit", limit)
		return nil, &ExceededError{
			Status:    status,
			Spent:     spent,
			Limit:     limit,
			Remaining: math.Max(0, limit-spent),
		}
	}
	if committed+estimate > limit {
		logging.FromContext(ctx).Info("budget: estimate does not fit",
			"status", status, "estimate", estimate, "remaining", remaining)
		return nil, &OverflowError{
			Status:    status,
			Spent:     spent,
			Reserved:  held,
			Estimate:  estimate,
			Limit:     limit,
			Remaining: remaining,
		}
	}

	g.nextHold++
	id := g.nextHold
	g.holds[id] = estimate
	return &Reservation{g: g, id: id, Status: status, Estimate: estimate}, nil
}

// Record appends rec to the ledger outside any reservation.
func (g *Guardrail) Record(ctx context.Context, rec SpendRecord) error {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.appendLocked(ctx, rec)
}

func (g *Guardrail) appendLocked(ctx context.Context, rec SpendRecord) error {
	if rec.Cost < 0 {
		return fmt.Errorf("budget: negative cost %.6f", rec.Cost)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = g.now().UTC()
	}
	if rec.Date == "" {
		rec.Date = rec.Timestamp.UTC().Format(dateLayout)
	}
	if _, err := g.coll.Insert(ctx, Table, rec); err != nil {
		return fmt.Errorf("budget: append record: %w", err)
	}
	logging.FromContext(ctx).Debug("budget: spend recorded",
		"executor", rec.Executor, "backend", rec.Backend, "cost", rec.Cost)
	return nil
}

// Status returns the current status from committed spend.
func (g *Guardrail) Status(ctx context.Context) (Status, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	spent, err := g.spentToday(ctx)
	if err != nil {
		return "", err
	}
	return StatusFor(spent, g.cfg.DailyLimit, g.cfg.Thresholds), nil
}

// Reservation is an accepted CheckAndReserve. Exactly one of Commit or
// Release should follow; extra calls are no-ops.
type Reservation struct {
	g        *Guardrail
	id       uint64
	done     bool
	Status   Status
	Estimate float64
}

// Commit appends the actual spend and drops the hold. Returns false when
// the reservation was already settled and nothing was recorded.
func (r *Reservation) Commit(ctx context.Context, rec SpendRecord) (bool, error) {
	r.g.lock.Lock()
	defer r.g.lock.Unlock()
	if r.done {
		return false, nil
	}
	if err := r.g.appendLocked(ctx, rec); err != nil {
		return false, err
	}
	r.done = true
	delete(r.g.holds, r.id)
	return true, nil
}

// Release drops the hold without charging anything.
func (r *Reservation) Release() {
	r.g.lock.Lock()
	defer r.g.lock.Unlock()
	if r.done {
		return
	}
	r.done = true
	delete(r.g.holds, r.id)
}

func sumCost(records []SpendRecord) float64 {
	var total float64
	for _, r := range records {
		total += r.Cost
	}
	return total
}
