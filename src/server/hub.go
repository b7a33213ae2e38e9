package server

import (
	"encoding/json"
	"net/http"

	"keeper-oracle/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

type clientReply struct {
	client *Client
	data   *models.MLatestData
}

func (s *APIServer) startHub() {
	s.hubOnce.Do(func() { go s.handleWebsockets() })
}

// handleWebsockets is the main Hub loop
func (s *APIServer) handleWebsockets() {
	for {
		select {
		case <-s.done:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.setConnections(len(s.clients))
			// Send initial state on connect
			s.stateMutex.RLock()
			initial := *s.latestState
			s.stateMutex.RUnlock()
			initial.Type = "INITIAL"
			client.send <- &initial

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				s.setConnections(len(s.clients))
			}

		case r := <-s.replies:
			if _, ok := s.clients[r.client]; ok {
				select {
				case r.client.send <- r.data:
				default:
				}
			}

		case message := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- client.filter(message):
				default:
					// Client too slow, disconnect to prevent Hub blocking
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.setConnections(len(s.clients))
		}
	}
}

func (s *APIServer) setConnections(n int) {
	s.stateMutex.Lock()
	s.connections = n
	s.stateMutex.Unlock()
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast stores data as the latest state and queues it for subscribers.
func (s *APIServer) Broadcast(data *models.MLatestData) {
	if data == nil {
		return
	}
	state := *data
	state.Type = "UPDATE"

	s.stateMutex.Lock()
	s.latestState = &state
	s.stateMutex.Unlock()

	select {
	case s.broadcast <- &state:
	default:
		s.Logger.Warning("Broadcast queue full, dropping update %d", state.Timestamp)
	}
}

// LatestState returns a copy of the current state.
func (s *APIServer) LatestState() models.MLatestData {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return *s.latestState
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan *models.MLatestData, 256),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// HandleClientMessage applies a subscribe command and answers with the
// current state restricted to the requested feeds.
func (s *APIServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	if cmd.Command != "subscribe" {
		return
	}
	client.subscribe(cmd.Feeds)

	s.stateMutex.RLock()
	current := *s.latestState
	s.stateMutex.RUnlock()
	current.Type = "INITIAL"

	// replies go through the hub, which owns client.send
	select {
	case s.replies <- clientReply{client: client, data: client.filter(&current)}:
	case <-s.done:
	}
}
