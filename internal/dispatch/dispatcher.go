// internal/dispatch/dispatcher.go
// Package dispatch runs one billable call against the backend tiers, gated
// by the budget guardrail, with per-candidate retry and tier fallback.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aceteam-ai/opencorp/internal/agents"
	"github.com/aceteam-ai/opencorp/internal/backend"
	"github.com/aceteam-ai/opencorp/internal/budget"
	"github.com/aceteam-ai/opencorp/internal/config"
	"github.com/aceteam-ai/opencorp/internal/logging"
)

// errRecordSpend marks a successful call whose spend could not be written.
// It ends the invoke instead of falling through to another backend.
var errRecordSpend = errors.New("record spend")

// defaultOutputTokens sizes the pre-call estimate when the request sets no
// MaxTokens.
const defaultOutputTokens = 512

// Request is one unit of billable work.
type Request struct {
	// Executor is charged for the call and, when Tier is empty, decides the
	// tier through the resolver.
	Executor string
	Messages []backend.Message
	// Tier is the preferred tier. Empty means the executor's tier, else
	// the cheapest.
	Tier string
	// Backend, when set, is tried before any tier member.
	Backend   string
	MaxTokens int
}

// Response is a successful call.
type Response struct {
	Content  string
	Backend  string
	Usage    *backend.Usage
	Cost     float64
	Attempts int
	Status   budget.Status
}

// Resolver looks up executors. *agents.Registry implements it.
type Resolver interface {
	Resolve(name string) (agents.Profile, error)
}

// Pricer converts tokens to cost. *backend.Catalog implements it.
type Pricer interface {
	Cost(ctx context.Context, model string, tokensIn, tokensOut int64) float64
}

// Dispatcher executes requests.
type Dispatcher struct {
	cfg      config.Dispatch
	models   config.Models
	guard    *budget.Guardrail
	provider backend.Provider
	pricer   Pricer
	resolver Resolver
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithResolver sets the executor registry used for tier defaults.
func WithResolver(r Resolver) Option {
	return func(d *Dispatcher) { d.resolver = r }
}

// WithSleep replaces the backoff sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// New creates a dispatcher.
func New(cfg config.Dispatch, models config.Models, guard *budget.Guardrail, provider backend.Provider, pricer Pricer, opts ...Option) *Dispatcher {
	if len(models.Order) == 0 {
		models.Order = []string{agents.TierPremium, agents.TierMid, agents.TierCheap}
	}
	d := &Dispatcher{
		cfg:      cfg,
		models:   models,
		guard:    guard,
		provider: provider,
		pricer:   pricer,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelectTiers returns the tiers tried for requested under status.
func (d *Dispatcher) SelectTiers(requested string, status budget.Status) []string {
	return selectTiers(d.models.Order, requested, status)
}

// Candidates resolves the ordered backend IDs for req under status. An
// executor's pinned model leads only when req names no tier and the budget
// is normal.
func (d *Dispatcher) Candidates(req Request, status budget.Status) (tier string, candidates []string) {
	tier = req.Tier
	explicit := req.Backend
	if d.resolver != nil && req.Executor != "" && tier == "" {
		if p, err := d.resolver.Resolve(req.Executor); err == nil {
			tier = p.Tier
			// A pinned model only leads when nothing narrows the choice.
			if explicit == "" && status == budget.StatusNormal {
				explicit = p.Model
			}
		}
	}
	if tier == "" {
		tier = d.models.Order[len(d.models.Order)-1]
	}

	list := []string{explicit}
	for _, t := range d.SelectTiers(tier, status) {
		list = append(list, d.models.Backends(t)...)
	}
	return tier, dedupe(list)
}

// backoff is base * 2^retry, capped at MaxDelay.
func (d *Dispatcher) backoff(retry int) time.Duration {
	delay := d.cfg.BaseDelay
	for i := 0; i < retry && (d.cfg.MaxDelay <= 0 || delay < d.cfg.MaxDelay); i++ {
		delay *= 2
	}
	if d.cfg.MaxDelay > 0 && delay > d.cfg.MaxDelay {
		delay = d.cfg.MaxDelay
	}
	return delay
}

// Invoke runs req. A blocking budget rejection is returned as is and never
// retried. A candidate whose estimate does not fit is skipped for the next
// one; when no candidate fits, that *budget.OverflowError is returned. When
// every candidate fails the error is an *UnavailableError.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (*Response, error) {
	log := logging.FromContext(ctx)

	status, err := d.guard.Status(ctx)
	if err != nil {
		return nil, err
	}
	tier, candidates := d.Candidates(req, status)
	log.Debug("dispatch: candidates", "tier", tier, "budget", status, "candidates", candidates)

	unavailable := &UnavailableError{Tier: tier}
	promptTokens := backend.PromptTokens(req.Messages)
	outTokens := int64(req.MaxTokens)
	if outTokens <= 0 {
		outTokens = defaultOutputTokens
	}

	var overflow error
	fitted := 0
	for _, candidate := range candidates {
		estimate := d.pricer.Cost(ctx, candidate, promptTokens, outTokens)
		res, err := d.guard.CheckAndReserve(ctx, estimate)
		if errors.Is(err, budget.ErrWouldExceed) {
			overflow = err
			unavailable.Attempts = append(unavailable.Attempts, Attempt{Backend: candidate, Err: err})
			log.Info("dispatch: backend over budget, trying cheaper", "backend", candidate, "estimate", estimate)
			continue
		}
		if err != nil {
			return nil, err
		}
		fitted++

		resp, lastErr := d.tryCandidate(ctx, req, candidate, res)
		if resp != nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("dispatch %s: %w", candidate, ctxErr)
		}
		if errors.Is(lastErr, errRecordSpend) {
			return nil, lastErr
		}
		unavailable.Attempts = append(unavailable.Attempts, Attempt{Backend: candidate, Err: lastErr})
		log.Info("dispatch: tier fallback", "backend", candidate, "error", lastErr)
	}

	if fitted == 0 && overflow != nil {
		return nil, overflow
	}
	log.Warn("dispatch: all backends exhausted", "tier", tier, "tried", unavailable.Tried())
	return nil, unavailable
}

// tryCandidate runs the retry loop for one backend under res. It settles
// res before returning.
func (d *Dispatcher) tryCandidate(ctx context.Context, req Request, candidate string, res *budget.Reservation) (*Response, error) {
	log := logging.FromContext(ctx)
	defer res.Release()

	var lastErr error
	for attempt := 1; ; attempt++ {
		out := d.attempt(ctx, req, candidate)
		switch out.kind {
		case outcomeSuccess:
			return d.settle(ctx, req, candidate, res, out.resp, attempt)
		case outcomePermanent:
			return nil, out.err
		}

		lastErr = out.err
		retry := attempt - 1
		if retry >= d.cfg.MaxRetries || ctx.Err() != nil {
			return nil, lastErr
		}
		delay := d.backoff(retry)
		log.Info("dispatch: transient failure, retrying",
			"backend", candidate, "attempt", attempt, "delay", delay, "error", out.err)
		if err := d.sleep(ctx, delay); err != nil {
			return nil, lastErr
		}
	}
}

func (d *Dispatcher) settle(ctx context.Context, req Request, candidate string, res *budget.Reservation, r *backend.Response, attempts int) (*Response, error) {
	out := &Response{
		Content:  r.Content,
		Backend:  candidate,
		Usage:    r.Usage,
		Attempts: attempts,
		Status:   res.Status,
	}
	if r.Usage == nil {
		// Nothing to bill; the deferred Release drops the hold.
		return out, nil
	}
	out.Cost = d.pricer.Cost(ctx, candidate, r.Usage.PromptTokens, r.Usage.CompletionTokens)
	executor := req.Executor
	if executor == "" {
		executor = "system"
	}
	if _, err := res.Commit(ctx, budget.SpendRecord{
		Executor:  executor,
		Backend:   candidate,
		TokensIn:  r.Usage.PromptTokens,
		TokensOut: r.Usage.CompletionTokens,
		Cost:      out.Cost,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", errRecordSpend, err)
	}
	return out, nil
}
