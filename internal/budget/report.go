package budget

import (
	"context"
	"math"
)

// Report is the read-only view of today's spend.
type Report struct {
	Date       string             `json:"date"`
	Currency   string             `json:"currency"`
	Spent      float64            `json:"spent"`
	Limit      float64            `json:"limit"`
	Remaining  float64            `json:"remaining"`
	Ratio      float64            `json:"ratio"`
	Status     Status             `json:"status"`
	Reserved   float64            `json:"reserved"`
	Calls      int                `json:"calls"`
	TokensIn   int64              `json:"tokens_in"`
	TokensOut  int64              `json:"tokens_out"`
	ByExecutor map[string]float64 `json:"by_executor"`
	ByBackend  map[string]float64 `json:"by_backend"`
}

// DailyReport aggregates today's ledger.
func (g *Guardrail) DailyReport(ctx context.Context) (Report, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	records, err := g.todayRecords(ctx)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Date:       g.today(),
		Currency:   g.cfg.Currency,
		Limit:      g.cfg.DailyLimit,
		Reserved:   g.reserved(),
		Calls:      len(records),
		ByExecutor: make(map[string]float64),
		ByBackend:  make(map[string]float64),
	}
	for _, r := range records {
		rep.Spent += r.Cost
		rep.TokensIn += r.TokensIn
		rep.TokensOut += r.TokensOut
		rep.ByExecutor[r.Executor] += r.Cost
		rep.ByBackend[r.Backend] += r.Cost
	}
	rep.Remaining = math.Max(0, rep.Limit-rep.Spent)
	if rep.Limit > 0 {
		rep.Ratio = rep.Spent / rep.Limit
	}
	rep.Status = StatusFor(rep.Spent, rep.Limit, g.cfg.Thresholds)
	return rep, nil
}
