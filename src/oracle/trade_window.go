package oracle

import (
	"errors"
	"math"
	"time"

	"keeper-oracle/src/models"
)

// ErrEmptyWindow is returned by Evict on a window holding no trades.
var ErrEmptyWindow = errors.New("evict called on empty trade window")

const (
	// recomputeEvery bounds drift from repeated inverse updates.
	recomputeEvery = 1024

	// driftRatio triggers a full recomputation once the running sums fall this
	// far below their peak since the last recomputation, where the inverse
	// update would cancel badly.
	driftRatio = 16.0
)

// -----------------------------------------------------------------------------
// TradeWindow
// -----------------------------------------------------------------------------

// TradeWindow keeps the trades of one feed in arrival order together with an
// incrementally maintained volume-weighted price. Not safe for concurrent use;
// FeedOracle serialises access.
type TradeWindow struct {
	trades   []models.MTrade
	head     int // first live trade in trades
	windowMs int64
	price    float64
	quantity float64

	evictions int
	numPeak   float64 // max price*quantity since the last recomputation
	qtyPeak   float64
}

// -----------------------------------------------------------------------------

func NewTradeWindow(window time.Duration) *TradeWindow {
	return &TradeWindow{
		windowMs: window.Milliseconds(),
		price:    math.NaN(),
	}
}

// -----------------------------------------------------------------------------

// Len returns the number of trades in the window.
func (w *TradeWindow) Len() int {
	return len(w.trades) - w.head
}

// Price returns the VWAP of the window, NaN when empty.
func (w *TradeWindow) Price() float64 {
	return w.price
}

// Quantity returns the summed quantity of the window.
func (w *TradeWindow) Quantity() float64 {
	return w.quantity
}

// Window returns the window length.
func (w *TradeWindow) Window() time.Duration {
	return time.Duration(w.windowMs) * time.Millisecond
}

// SetWindow changes the window length. Callers evict afterwards.
func (w *TradeWindow) SetWindow(window time.Duration) {
	w.windowMs = window.Milliseconds()
}

// -----------------------------------------------------------------------------

// Trades returns a copy of the live trades, oldest first.
func (w *TradeWindow) Trades() []models.MTrade {
	out := make([]models.MTrade, w.Len())
	copy(out, w.trades[w.head:])
	return out
}

// -----------------------------------------------------------------------------

// Add appends a trade at the tail and folds it into the running VWAP in O(1).
func (w *TradeWindow) Add(t models.MTrade) {
	if w.Len() == 0 {
		w.price = t.Price
		w.quantity = t.Quantity
		w.numPeak, w.qtyPeak = 0, 0
	} else {
		newQuantity := w.quantity + t.Quantity
		if newQuantity > 0 {
			w.price = (w.price*w.quantity + t.Price*t.Quantity) / newQuantity
		}
		w.quantity = newQuantity
	}
	w.trades = append(w.trades, t)
	w.notePeaks()
}

func (w *TradeWindow) notePeaks() {
	w.numPeak = math.Max(w.numPeak, w.price*w.quantity)
	w.qtyPeak = math.Max(w.qtyPeak, w.quantity)
}

// -----------------------------------------------------------------------------

// Evict removes every head trade with a timestamp older than nowMs - window.
// Eviction always works from the head, so a trade that arrived late with an
// older timestamp leaves once it reaches the head.
func (w *TradeWindow) Evict(nowMs int64) error {
	if w.Len() == 0 {
		return ErrEmptyWindow
	}

	cutoff := nowMs - w.windowMs
	for w.Len() > 0 && w.trades[w.head].Timestamp < cutoff {
		w.evictHead()
	}
	w.compact()
	return nil
}

// -----------------------------------------------------------------------------

func (w *TradeWindow) evictHead() {
	n := w.Len()
	evicted := w.trades[w.head]
	w.trades[w.head] = models.MTrade{}
	w.head++
	w.evictions++

	switch n {
	case 1:
		w.price = math.NaN()
		w.quantity = 0
	case 2:
		remaining := w.trades[w.head]
		w.price = remaining.Price
		w.quantity = remaining.Quantity
		w.numPeak, w.qtyPeak = 0, 0
		w.notePeaks()
	default:
		newQuantity := w.quantity - evicted.Quantity
		newNum := w.price*w.quantity - evicted.Price*evicted.Quantity
		if newQuantity <= 0 || newNum <= 0 ||
			newQuantity*driftRatio < w.qtyPeak || newNum*driftRatio < w.numPeak ||
			w.evictions%recomputeEvery == 0 {
			w.Recompute()
			return
		}
		w.price = newNum / newQuantity
		w.quantity = newQuantity
	}
}

// -----------------------------------------------------------------------------

// Recompute rebuilds the aggregates from scratch in O(n).
func (w *TradeWindow) Recompute() {
	w.numPeak, w.qtyPeak = 0, 0
	if w.Len() == 0 {
		w.price = math.NaN()
		w.quantity = 0
		return
	}

	num, qty := 0.0, 0.0
	for _, t := range w.trades[w.head:] {
		num += t.Price * t.Quantity
		qty += t.Quantity
	}
	w.quantity = qty
	if qty > 0 {
		w.price = num / qty
	} else {
		w.price = w.trades[len(w.trades)-1].Price
	}
	w.notePeaks()
}

// -----------------------------------------------------------------------------

// compact releases the evicted prefix once it dominates the backing array.
func (w *TradeWindow) compact() {
	if w.head == 0 {
		return
	}
	if w.Len() == 0 {
		w.trades = w.trades[:0]
		w.head = 0
		return
	}
	if w.head >= 64 && w.head*2 >= len(w.trades) {
		n := copy(w.trades, w.trades[w.head:])
		w.trades = w.trades[:n]
		w.head = 0
	}
}
