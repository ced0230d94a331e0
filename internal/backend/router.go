package backend

import (
	"context"
	"net/http"
	"strings"
)

// Router picks a provider by backend ID prefix.
type Router struct {
	routes   []route
	fallback Provider
}

type route struct {
	prefix   string
	provider Provider
}

// NewRouter sends IDs without a registered prefix to fallback.
func NewRouter(fallback Provider) *Router {
	return &Router{fallback: fallback}
}

// Handle registers provider for IDs starting with prefix. Longer prefixes
// win.
func (r *Router) Handle(prefix string, p Provider) *Router {
	r.routes = append(r.routes, route{prefix: prefix, provider: p})
	return r
}

// Route returns the provider for backend ID id.
func (r *Router) Route(id string) Provider {
	var best Provider
	bestLen := -1
	for _, rt := range r.routes {
		if strings.HasPrefix(id, rt.prefix) && len(rt.prefix) > bestLen {
			best, bestLen = rt.provider, len(rt.prefix)
		}
	}
	if best != nil {
		return best
	}
	return r.fallback
}

// Name implements Provider.
func (r *Router) Name() string { return "router" }

// Complete implements Provider by forwarding to the routed provider.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	p := r.Route(req.Model)
	if p == nil {
		return nil, &StatusError{Backend: req.Model, StatusCode: http.StatusNotFound, Body: "no provider for backend"}
	}
	return p.Complete(ctx, req)
}
