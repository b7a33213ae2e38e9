package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

// ErrSourceNotFound is returned for an unknown feed name.
var ErrSourceNotFound = errors.New("source not found")

// MultiSourceManager owns every exchange feed of the process
type MultiSourceManager struct {
	Sources    map[string]interfaces.IExchangeFeed
	Logger     *logger.Logger
	mu         sync.RWMutex
	ctx        context.Context    // Lifecycle context (derived)
	cancelFunc context.CancelFunc // To stop all sources
	wg         *sync.WaitGroup    // Shared WaitGroup (ptr)
}

// -----------------------------------------------------------------------------

func NewMultiSourceManager(sources []interfaces.IExchangeFeed, log *logger.Logger) *MultiSourceManager {
	if log == nil {
		log = logger.NewLogger(nil, "MultiSourceManager")
	}
	m := &MultiSourceManager{
		Sources: make(map[string]interfaces.IExchangeFeed),
		Logger:  log,
	}

	for _, s := range sources {
		m.Sources[s.Name()] = s
	}

	return m
}

// -----------------------------------------------------------------------------

// AddSource adds a new feed and starts it if the manager is running
func (m *MultiSourceManager) AddSource(source interfaces.IExchangeFeed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := source.Name()
	if _, exists := m.Sources[name]; exists {
		return fmt.Errorf("source %s already exists", name)
	}

	m.Sources[name] = source
	m.Logger.Info("Added source: %s", name)

	if m.ctx != nil {
		if err := source.Start(m.ctx, m.wg); err != nil {
			return fmt.Errorf("failed to start source %s: %w", name, err)
		}
		m.Logger.Info("Started source: %s", name)
	}

	return nil
}

// -----------------------------------------------------------------------------

// RemoveSource stops and removes a feed
func (m *MultiSourceManager) RemoveSource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	source, exists := m.Sources[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}

	if err := source.Stop(); err != nil {
		m.Logger.Error("Error stopping source %s: %v", name, err)
	}

	delete(m.Sources, name)
	m.Logger.Info("Removed source: %s", name)
	return nil
}

// -----------------------------------------------------------------------------

// GetSource retrieves a feed by name
func (m *MultiSourceManager) GetSource(name string) (interfaces.IExchangeFeed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	source, exists := m.Sources[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return source, nil
}

// -----------------------------------------------------------------------------

// GetAllSources returns all feeds sorted by name
func (m *MultiSourceManager) GetAllSources() []interfaces.IExchangeFeed {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]interfaces.IExchangeFeed, 0, len(m.Sources))
	for _, s := range m.Sources {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// -----------------------------------------------------------------------------

// PriceSources returns the feeds keyed by name for the aggregator.
func (m *MultiSourceManager) PriceSources() map[string]interfaces.IPriceSource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]interfaces.IPriceSource, len(m.Sources))
	for name, s := range m.Sources {
		out[name] = s
	}
	return out
}

// -----------------------------------------------------------------------------

// Statuses returns one status per feed, sorted by name.
func (m *MultiSourceManager) Statuses() []models.MFeedStatus {
	sources := m.GetAllSources()
	out := make([]models.MFeedStatus, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.Status())
	}
	return out
}

// -----------------------------------------------------------------------------

// SetUsdtUsdRate fans the conversion rate out to every feed.
func (m *MultiSourceManager) SetUsdtUsdRate(rate float64) {
	for _, s := range m.GetAllSources() {
		s.SetUsdtUsdRate(rate)
	}
}

// -----------------------------------------------------------------------------

// Start starts all feeds
func (m *MultiSourceManager) Start(parentCtx context.Context, wg *sync.WaitGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return fmt.Errorf("MultiSourceManager is already running")
	}

	// Derive a context so we can stop the manager independently if needed
	ctx, cancel := context.WithCancel(parentCtx)
	m.ctx = ctx
	m.cancelFunc = cancel
	m.wg = wg

	for _, src := range m.Sources {
		if err := src.Start(m.ctx, m.wg); err != nil {
			m.Logger.Error("Failed to start source %s: %v", src.Name(), err)
			return err
		}
	}
	return nil
}

// Stop stops all feeds gracefully by cancelling the internal context
func (m *MultiSourceManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil // Already stopped
	}

	m.Logger.Info("Stopping MultiSourceManager...")
	if m.cancelFunc != nil {
		m.cancelFunc()
	}

	m.cancelFunc = nil
	m.ctx = nil

	m.Logger.Info("MultiSourceManager Stopped.")
	return nil
}

// -----------------------------------------------------------------------------

// StartSource starts a specific feed by name
func (m *MultiSourceManager) StartSource(name string) error {
	m.mu.RLock()
	source, exists := m.Sources[name]
	ctx := m.ctx
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	if ctx == nil {
		return fmt.Errorf("MultiSourceManager is not running")
	}

	return source.Start(ctx, m.wg)
}

// -----------------------------------------------------------------------------

// StopSource stops a specific feed by name
func (m *MultiSourceManager) StopSource(name string) error {
	m.mu.RLock()
	source, exists := m.Sources[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}

	return source.Stop()
}

// -----------------------------------------------------------------------------

// UpdateParameters applies a parameter update to one feed.
func (m *MultiSourceManager) UpdateParameters(name string, params models.MFeedParameters) error {
	source, err := m.GetSource(name)
	if err != nil {
		return err
	}
	return source.UpdateParameters(params)
}

// -----------------------------------------------------------------------------

// Name returns "MultiSourceManager"
func (m *MultiSourceManager) Name() string {
	return "MultiSourceManager"
}
