// internal/backend/pricing.go
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aceteam-ai/opencorp/internal/store"
)

// PricingTable is the store table holding the cached price list.
const PricingTable = "model_pricing"

// Price is USD per million tokens.
type Price struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// DefaultPrice is used for models missing from the catalog.
var DefaultPrice = Price{Prompt: 1.0, Completion: 2.0}

type pricingSnapshot struct {
	FetchedAt time.Time        `json:"fetched_at"`
	Prices    map[string]Price `json:"prices"`
}

// Catalog caches model prices in memory and in the store.
type Catalog struct {
	coll *store.Collection
	lock *sync.Mutex

	mu        sync.RWMutex
	prices    map[string]Price
	fetchedAt time.Time
	loaded    bool
}

// NewCatalog creates a catalog backed by coll. Prices are read lazily.
func NewCatalog(coll *store.Collection, lock *sync.Mutex) *Catalog {
	return &Catalog{coll: coll, lock: lock, prices: make(map[string]Price)}
}

// Load reads the cached snapshot from the store.
func (c *Catalog) Load(ctx context.Context) error {
	c.lock.Lock()
	docs, err := c.coll.All(ctx, PricingTable)
	c.lock.Unlock()
	if err != nil {
		return fmt.Errorf("load pricing: %w", err)
	}

	var snap pricingSnapshot
	if len(docs) > 0 {
		if err := docs[len(docs)-1].Decode(&snap); err != nil {
			return fmt.Errorf("decode pricing: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = snap.Prices
	if c.prices == nil {
		c.prices = make(map[string]Price)
	}
	c.fetchedAt = snap.FetchedAt
	c.loaded = true
	return nil
}

// Replace stores a new price list, dropping the previous snapshot.
func (c *Catalog) Replace(ctx context.Context, prices map[string]Price) error {
	snap := pricingSnapshot{FetchedAt: time.Now().UTC(), Prices: prices}

	c.lock.Lock()
	err := c.coll.Truncate(ctx, PricingTable)
	if err == nil {
		_, err = c.coll.Insert(ctx, PricingTable, snap)
	}
	c.lock.Unlock()
	if err != nil {
		return fmt.Errorf("save pricing: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = prices
	c.fetchedAt = snap.FetchedAt
	c.loaded = true
	return nil
}

// Refresh fetches prices from src and caches them.
func (c *Catalog) Refresh(ctx context.Context, src *OpenRouter) (int, error) {
	prices, err := src.FetchPricing(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.Replace(ctx, prices); err != nil {
		return 0, err
	}
	return len(prices), nil
}

// Price returns the price of model and whether it was known. Local models
// are free.
func (c *Catalog) Price(ctx context.Context, model string) (Price, bool) {
	if strings.HasPrefix(model, OllamaPrefix) {
		return Price{}, true
	}
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if !loaded {
		// A missing or unreadable cache just means defaults.
		_ = c.Load(ctx)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[model]
	if !ok {
		return DefaultPrice, false
	}
	return p, true
}

// Cost converts token counts into USD for model.
func (c *Catalog) Cost(ctx context.Context, model string, tokensIn, tokensOut int64) float64 {
	p, _ := c.Price(ctx, model)
	return (float64(tokensIn)*p.Prompt + float64(tokensOut)*p.Completion) / 1_000_000
}

// FetchedAt reports when the cached prices were downloaded.
func (c *Catalog) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}
