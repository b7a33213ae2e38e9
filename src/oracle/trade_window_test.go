package oracle

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"keeper-oracle/src/models"
)

// bruteVWAP recomputes the window directly from every trade ever added.
func bruteVWAP(all []models.MTrade, cutoff int64) (float64, float64) {
	num, qty := 0.0, 0.0
	for _, t := range all {
		if t.Timestamp >= cutoff {
			num += t.Price * t.Quantity
			qty += t.Quantity
		}
	}
	if qty == 0 {
		return math.NaN(), 0
	}
	return num / qty, qty
}

func assertRelClose(t require.TestingT, want, got float64, msgAndArgs ...interface{}) {
	if math.IsNaN(want) {
		require.True(t, math.IsNaN(got), msgAndArgs...)
		return
	}
	require.LessOrEqual(t, math.Abs(got-want), 1e-9*math.Abs(want), msgAndArgs...)
}

// -----------------------------------------------------------------------------

func TestTradeWindowAddIncremental(t *testing.T) {
	w := NewTradeWindow(5 * time.Second)
	assert.True(t, math.IsNaN(w.Price()))
	assert.Equal(t, 0.0, w.Quantity())

	w.Add(models.MTrade{Timestamp: 1000, Price: 100, Quantity: 1})
	assert.Equal(t, 100.0, w.Price())

	w.Add(models.MTrade{Timestamp: 1001, Price: 110, Quantity: 3})
	assert.InDelta(t, 107.5, w.Price(), 1e-12)
	assert.InDelta(t, 4.0, w.Quantity(), 1e-12)
	assert.Equal(t, 2, w.Len())
}

func TestTradeWindowEvictDegenerateSizes(t *testing.T) {
	w := NewTradeWindow(time.Second)
	w.Add(models.MTrade{Timestamp: 0, Price: 100, Quantity: 2})
	w.Add(models.MTrade{Timestamp: 500, Price: 200, Quantity: 3})

	// size 2 -> the remaining trade's own values
	require.NoError(t, w.Evict(1200))
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 200.0, w.Price())
	assert.Equal(t, 3.0, w.Quantity())

	// size 1 -> undefined
	require.NoError(t, w.Evict(5000))
	assert.Equal(t, 0, w.Len())
	assert.True(t, math.IsNaN(w.Price()))
	assert.Equal(t, 0.0, w.Quantity())
}

func TestTradeWindowEvictEmptyFails(t *testing.T) {
	w := NewTradeWindow(time.Second)
	assert.ErrorIs(t, w.Evict(0), ErrEmptyWindow)
}

func TestTradeWindowEvictsFromHeadOnly(t *testing.T) {
	w := NewTradeWindow(time.Second)
	w.Add(models.MTrade{Timestamp: 2000, Price: 10, Quantity: 1})
	// arrives late with an older timestamp
	w.Add(models.MTrade{Timestamp: 100, Price: 20, Quantity: 1})

	// the head is inside the window, so the late trade stays for now
	require.NoError(t, w.Evict(2500))
	assert.Equal(t, 2, w.Len())

	require.NoError(t, w.Evict(3500))
	assert.Equal(t, 0, w.Len())
}

func TestTradeWindowTradesReturnsCopy(t *testing.T) {
	w := NewTradeWindow(time.Second)
	w.Add(models.MTrade{Timestamp: 1, Price: 10, Quantity: 1})
	got := w.Trades()
	got[0].Price = 99
	assert.Equal(t, 10.0, w.Trades()[0].Price)
}

// -----------------------------------------------------------------------------

func TestTradeWindowMatchesBruteForceLongRun(t *testing.T) {
	const windowMs = 2000
	w := NewTradeWindow(windowMs * time.Millisecond)
	rng := rand.New(rand.NewSource(42))

	var all []models.MTrade
	now := int64(0)
	for op := 0; op < 20000; op++ {
		now += int64(rng.Intn(50))
		if rng.Intn(4) > 0 {
			tr := models.MTrade{
				Timestamp: now,
				Price:     1 + rng.Float64()*999,
				Quantity:  0.01 + rng.Float64()*99.99,
			}
			w.Add(tr)
			all = append(all, tr)
		}
		if w.Len() > 0 {
			require.NoError(t, w.Evict(now))
		}

		wantPrice, wantQty := bruteVWAP(all, now-windowMs)
		assertRelClose(t, wantPrice, w.Price(), "op %d price", op)
		assertRelClose(t, wantQty, w.Quantity(), "op %d quantity", op)
	}
}

func TestTradeWindowMatchesBruteForceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		windowMs := rapid.Int64Range(1, 5000).Draw(t, "windowMs")
		w := NewTradeWindow(time.Duration(windowMs) * time.Millisecond)

		var all []models.MTrade
		now := int64(0)
		ops := rapid.IntRange(1, 400).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			now += rapid.Int64Range(0, 200).Draw(t, "dt")
			if rapid.Bool().Draw(t, "add") {
				tr := models.MTrade{
					Timestamp: now,
					Price:     rapid.Float64Range(1, 1000).Draw(t, "price"),
					Quantity:  rapid.Float64Range(0.01, 100).Draw(t, "qty"),
				}
				w.Add(tr)
				all = append(all, tr)
			}
			if w.Len() > 0 {
				if err := w.Evict(now); err != nil {
					t.Fatalf("evict: %v", err)
				}
			}

			wantPrice, wantQty := bruteVWAP(all, now-windowMs)
			assertRelClose(t, wantPrice, w.Price())
			assertRelClose(t, wantQty, w.Quantity())
		}
	})
}
