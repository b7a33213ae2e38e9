package server

import (
	"sync"
	"time"

	"keeper-oracle/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

type Client struct {
	hub  *APIServer
	conn *websocket.Conn
	send chan *models.MLatestData

	mu    sync.RWMutex
	feeds map[string]struct{} // nil: every feed
}

func (c *Client) subscribe(feeds []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(feeds) == 0 {
		c.feeds = nil
		return
	}
	c.feeds = make(map[string]struct{}, len(feeds))
	for _, f := range feeds {
		c.feeds[f] = struct{}{}
	}
}

// filter restricts the cycle snapshots to the subscribed feeds.
func (c *Client) filter(data *models.MLatestData) *models.MLatestData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.feeds == nil || data.Cycle == nil {
		return data
	}

	cycle := *data.Cycle
	cycle.Feeds = make([]models.MFeedSnapshot, 0, len(c.feeds))
	for _, f := range data.Cycle.Feeds {
		if _, ok := c.feeds[f.Feed]; ok {
			cycle.Feeds = append(cycle.Feeds, f)
		}
	}
	out := *data
	out.Cycle = &cycle
	return &out
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.hub.Logger.Info("Client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			break
		}
		c.hub.HandleClientMessage(c, message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.Logger.Info("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
