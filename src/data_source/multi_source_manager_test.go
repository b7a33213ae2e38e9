package datasource

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

func TestMultiSourceManagerRegistry(t *testing.T) {
	a := newStubFeed(t, "b-feed", "")
	b := newStubFeed(t, "a-feed", "")
	m := NewMultiSourceManager([]interfaces.IExchangeFeed{a}, logger.Nop())

	require.NoError(t, m.AddSource(b))
	assert.Error(t, m.AddSource(b))

	all := m.GetAllSources()
	require.Len(t, all, 2)
	assert.Equal(t, "a-feed", all[0].Name())

	_, err := m.GetSource("missing")
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.ErrorIs(t, m.StopSource("missing"), ErrSourceNotFound)
	assert.ErrorIs(t, m.UpdateParameters("missing", models.MFeedParameters{}), ErrSourceNotFound)

	assert.Len(t, m.PriceSources(), 2)

	m.SetUsdtUsdRate(0.998)
	for _, s := range m.Statuses() {
		require.NotNil(t, s.UsdtUsdRate)
		assert.Equal(t, 0.998, *s.UsdtUsdRate)
	}

	w := 30.0
	require.NoError(t, m.UpdateParameters("a-feed", models.MFeedParameters{WindowSec: &w}))
	assert.Equal(t, 30.0, m.Statuses()[0].WindowSec)

	require.NoError(t, m.RemoveSource("a-feed"))
	assert.Len(t, m.GetAllSources(), 1)
}

func TestMultiSourceManagerStartSourceRequiresRunning(t *testing.T) {
	m := NewMultiSourceManager([]interfaces.IExchangeFeed{newStubFeed(t, "x", "ws://127.0.0.1:1")}, logger.Nop())
	assert.Error(t, m.StartSource("x"))

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, &wg))
	assert.Error(t, m.Start(ctx, &wg))

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	wg.Wait()
}
