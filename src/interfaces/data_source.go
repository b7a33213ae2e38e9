package interfaces

import (
	"context"
	"sync"

	"keeper-oracle/src/models"
)

// -----------------------------------------------------------------------------
// IPriceSource is anything the aggregator can poll for a feed price.
// -----------------------------------------------------------------------------

type IPriceSource interface {

	// GetPrice returns the current price and its metadata. A NaN price means
	// the source has nothing usable this cycle.
	GetPrice(ctx context.Context) (float64, models.MFeedMetadata, error)
}

// -----------------------------------------------------------------------------
// IExchangeFeed interface for streaming trades from one exchange into an oracle.
// -----------------------------------------------------------------------------

type IExchangeFeed interface {
	IPriceSource

	// Name returns the unique identifier of the feed
	Name() string

	// Exchange returns the exchange the feed connects to
	Exchange() string

	// -----------------------------------------------------------------------------

	// SetUsdtUsdRate forwards the USDT/USD conversion rate to the oracle.
	SetUsdtUsdRate(rate float64)

	// UpdateParameters hot-reloads window, startup window and min notional.
	UpdateParameters(params models.MFeedParameters) error

	// Status returns a snapshot for the control surfaces
	Status() models.MFeedStatus

	// -----------------------------------------------------------------------------

	// Start runs the connect/subscribe/read loop until ctx is cancelled.
	// wg: WaitGroup to signal when the feed has fully stopped
	Start(ctx context.Context, wg *sync.WaitGroup) error

	// Stop terminates the feed (legacy/manual stop)
	// Ideally, cancelling the context passed to Start should be enough.
	Stop() error
}

// -----------------------------------------------------------------------------
// IFeedController is the control surface over the running feeds.
// -----------------------------------------------------------------------------

type IFeedController interface {
	Statuses() []models.MFeedStatus
	UpdateParameters(name string, params models.MFeedParameters) error
	StartSource(name string) error
	StopSource(name string) error
}
