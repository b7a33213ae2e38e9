package oracle

import (
	"math"
	"sort"
	"sync"

	"keeper-oracle/src/analysis/core"
	"keeper-oracle/src/models"
)

// -----------------------------------------------------------------------------
// BookMids
// -----------------------------------------------------------------------------

type bookMid struct {
	price  float64
	volume float64
}

// BookMids tracks the USD top-of-book mid per pair and derives the fallback
// price a FeedOracle uses when its window has no volume.
type BookMids struct {
	mu   sync.RWMutex
	mids map[string]bookMid
}

func NewBookMids() *BookMids {
	return &BookMids{mids: make(map[string]bookMid)}
}

// -----------------------------------------------------------------------------

// Update records the top of book for one pair. USDT-quoted mids are converted
// with rate; when the rate is unknown (NaN) the pair's previous mid is removed
// instead of being kept at a stale conversion.
func (b *BookMids) Update(top models.MBookTop, rate float64) {
	if !(top.Bid > 0) || !(top.Ask > 0) {
		return
	}
	mid := (top.Bid + top.Ask) / 2.0
	volume := top.BidSize + top.AskSize

	b.mu.Lock()
	defer b.mu.Unlock()

	if IsUsdtQuoted(top.Pair) {
		if math.IsNaN(rate) || !(rate > 0) {
			delete(b.mids, top.Pair)
			return
		}
		mid *= rate
	}
	b.mids[top.Pair] = bookMid{price: mid, volume: volume}
}

// -----------------------------------------------------------------------------

// Fallback returns the volume-weighted mid across pairs, the simple mean when
// no pair reports volume, or nil when no mid is known.
func (b *BookMids) Fallback() *float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.mids) == 0 {
		return nil
	}

	pairs := make([]string, 0, len(b.mids))
	for p := range b.mids {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	prices := make([]float64, 0, len(pairs))
	volumes := make([]float64, 0, len(pairs))
	total := 0.0
	for _, p := range pairs {
		m := b.mids[p]
		prices = append(prices, m.price)
		volumes = append(volumes, m.volume)
		total += m.volume
	}

	var mid float64
	if total > 0 {
		mid = core.CalculateWeightedMean(prices, volumes)
	} else {
		mid = core.CalculateMean(prices)
	}
	return &mid
}

// Len returns the number of pairs with a known mid.
func (b *BookMids) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.mids)
}
