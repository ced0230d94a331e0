package dispatch

import (
	"context"

	"github.com/aceteam-ai/opencorp/internal/backend"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeTransient
	outcomePermanent
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSuccess:
		return "success"
	case outcomeTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// outcome is the result of one call to one backend.
type outcome struct {
	kind outcomeKind
	resp *backend.Response
	err  error
}

func (d *Dispatcher) attempt(ctx context.Context, req Request, candidate string) outcome {
	resp, err := d.provider.Complete(ctx, backend.Request{
		Model:     candidate,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})
	if err == nil {
		return outcome{kind: outcomeSuccess, resp: resp}
	}
	if backend.Classify(err) == backend.Transient {
		return outcome{kind: outcomeTransient, err: err}
	}
	return outcome{kind: outcomePermanent, err: err}
}
