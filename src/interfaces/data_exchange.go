package interfaces

import (
	"context"

	"keeper-oracle/src/models"
)

// -----------------------------------------------------------------------------
// IDataExchanger defining the interface for sharing data with external systems (Server/Push).
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Broadcast stores data as the latest state and pushes it to every websocket subscriber.
	Broadcast(data *models.MLatestData)

	// -----------------------------------------------------------------------------
	// Start the server; blocks until it stops.
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop(ctx context.Context) error
}
