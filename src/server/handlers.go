package server

import (
	"errors"
	"net/http"
	"strconv"

	datasource "keeper-oracle/src/data_source"
	"keeper-oracle/src/helpers"
	"keeper-oracle/src/models"

	"github.com/gin-gonic/gin"
)

const (
	defaultCyclesLimit = 20
	maxCyclesLimit     = 500
)

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getPrice(c *gin.Context) {
	s.stateMutex.RLock()
	state := s.latestState
	s.stateMutex.RUnlock()

	body := gin.H{
		"price":         state.Price,
		"usdt_usd_rate": state.UsdtUsdRate,
		"timestamp":     state.Timestamp,
	}
	if state.Cycle != nil {
		body["method"] = state.Cycle.Method
		body["valid_feeds"] = state.Cycle.ValidFeeds
		body["total_feeds"] = state.Cycle.TotalFeeds
		body["cycle_id"] = state.Cycle.ID
	}
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getFeeds(c *gin.Context) {
	c.JSON(http.StatusOK, s.feeds.Statuses())
}

func (s *APIServer) getFeed(c *gin.Context) {
	name := c.Param("name")
	for _, st := range s.feeds.Statuses() {
		if st.Name == name {
			c.JSON(http.StatusOK, st)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown feed " + name})
}

// -----------------------------------------------------------------------------

func (s *APIServer) patchFeed(c *gin.Context) {
	var params models.MFeedParameters
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	if err := s.feeds.UpdateParameters(name, params); err != nil {
		s.respondError(c, err)
		return
	}
	s.Logger.Info("Updated parameters of feed %s", name)

	if s.onUpdate != nil {
		if err := s.onUpdate(name, params); err != nil {
			s.Logger.Error("Failed to persist parameters of %s: %v", name, err)
		}
	}
	s.getFeed(c)
}

func (s *APIServer) startFeed(c *gin.Context) {
	if err := s.feeds.StartSource(c.Param("name")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *APIServer) stopFeed(c *gin.Context) {
	if err := s.feeds.StopSource(c.Param("name")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *APIServer) respondError(c *gin.Context, err error) {
	var validation *helpers.ValidationError
	switch {
	case errors.Is(err, datasource.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) getCycles(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}

	limit := defaultCyclesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxCyclesLimit)
	}

	cycles, err := s.db.LatestCycles(c.Request.Context(), limit)
	if err != nil {
		s.Logger.Error("Failed to load cycles: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cycles"})
		return
	}
	if cycles == nil {
		cycles = []models.MAggregationCycle{}
	}
	c.JSON(http.StatusOK, cycles)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getConfig(c *gin.Context) {
	feeds := make([]gin.H, 0, len(s.Config.Feeds))
	for _, f := range s.Config.Feeds {
		feeds = append(feeds, gin.H{
			"name":     f.Name,
			"exchange": f.Exchange,
			"enabled":  f.Enabled,
			"pairs":    f.Pairs,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"aggregator": s.Config.Aggregator,
		"feeds":      feeds,
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	s.stateMutex.RLock()
	connections := s.connections
	timestamp := s.latestState.Timestamp
	hasPrice := s.latestState.Price != nil
	s.stateMutex.RUnlock()

	running := 0
	for _, st := range s.feeds.Statuses() {
		if st.IsRunning {
			running++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"connections":   connections,
		"latest_update": timestamp,
		"has_price":     hasPrice,
		"feeds_running": running,
	})
}
