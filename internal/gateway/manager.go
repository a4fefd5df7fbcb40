// Package gateway is the websocket broadcast layer and the guarded entry
// point for inbound client events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/partykit/quipguess/internal/game"
)

// ConnectionManager manages websocket connections grouped by room and
// fans broadcast events out to them.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage
	dispatcher  *Dispatcher
}

// Connection is one client's websocket attachment to a room.
type Connection struct {
	ID       string
	ClientID string
	RoomID   string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds websocket tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	roomID string
	event  Event
}

// DefaultConnectionConfig returns the default websocket tuning.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a manager. Attach a Dispatcher with
// SetDispatcher before serving connections.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetDispatcher wires the inbound message dispatcher.
func (cm *ConnectionManager) SetDispatcher(d *Dispatcher) {
	cm.dispatcher = d
}

// Start processes broadcast messages until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket attached to
// the given room.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, clientID, roomID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		RoomID:      roomID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("client_id", clientID).
		Str("room_id", roomID).
		Msg("websocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.roomConnections[conn.RoomID]
	if !exists {
		cm.mu.Unlock()
		return
	}
	if _, exists := connections[conn]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomID)
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("client_id", conn.ClientID).
		Str("room_id", conn.RoomID).
		Msg("connection unregistered")

	if cm.dispatcher != nil {
		cm.dispatcher.OnDisconnect(conn)
	}
}

// EmitToRoom queues an event for every connection in the room. Dropped
// with a warning when the broadcast channel is full.
func (cm *ConnectionManager) EmitToRoom(roomID string, event Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{roomID: roomID, event: event}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.roomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Slow or dead connection, close it rather than stall the room.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("client_id", conn.ClientID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}
}

// ConnectionStats reports active connection counts per room.
func (cm *ConnectionManager) ConnectionStats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	perRoom := make(map[string]int)
	for roomID, connections := range cm.roomConnections {
		perRoom[roomID] = len(connections)
		total += len(connections)
	}
	return map[string]any{
		"total_connections": total,
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  perRoom,
	}
}

// Broadcaster implementation consumed by the autoflow engine.

func (cm *ConnectionManager) BroadcastRoomState(roomID string, snap game.RoomSnapshot) {
	if event, ok := newEvent(roomID, EventTypeRoomState, snap); ok {
		cm.EmitToRoom(roomID, event)
	}
}

func (cm *ConnectionManager) BroadcastPlayerList(roomID string, players []game.PlayerSnapshot) {
	if event, ok := newEvent(roomID, EventTypePlayerList, PlayerListPayload{Players: players}); ok {
		cm.EmitToRoom(roomID, event)
	}
}

func (cm *ConnectionManager) BroadcastCountdown(roomID string, phase game.Phase, remainingSec int) {
	if event, ok := newEvent(roomID, EventTypeCountdown, CountdownPayload{Phase: phase, RemainingSec: remainingSec}); ok {
		cm.EmitToRoom(roomID, event)
	}
}

func (cm *ConnectionManager) BroadcastTimeWarning(roomID string, message string, remainingSec int) {
	if event, ok := newEvent(roomID, EventTypeTimeWarning, TimeWarningPayload{Message: message, RemainingSec: remainingSec}); ok {
		cm.EmitToRoom(roomID, event)
	}
}

func (cm *ConnectionManager) BroadcastGuessingStarted(roomID string, responses []game.AnonymizedResponse, reason string) {
	if event, ok := newEvent(roomID, EventTypeGuessingStarted, GuessingStartedPayload{Responses: responses, Reason: reason}); ok {
		cm.EmitToRoom(roomID, event)
	}
}

func (cm *ConnectionManager) BroadcastResultsStarted(roomID string, results game.RoundResults, leaderboard []game.LeaderboardEntry, reason string) {
	if event, ok := newEvent(roomID, EventTypeResultsStarted, ResultsStartedPayload{Results: results, Leaderboard: leaderboard, Reason: reason}); ok {
		cm.EmitToRoom(roomID, event)
	}
}

func (cm *ConnectionManager) BroadcastRoundEnded(roomID string, round int) {
	if event, ok := newEvent(roomID, EventTypeRoundEnded, RoundEndedPayload{Round: round}); ok {
		cm.EmitToRoom(roomID, event)
	}
}

func (cm *ConnectionManager) BroadcastGamePaused(roomID string, code, message string) {
	if event, ok := newEvent(roomID, EventTypeGamePaused, GamePausedPayload{Code: code, Message: message}); ok {
		cm.EmitToRoom(roomID, event)
	}
}

// writePump sends queued messages and pings to the websocket.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads inbound messages and hands them to the dispatcher.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close error")
			}
			break
		}
		if c.Manager.dispatcher != nil {
			c.Manager.dispatcher.Handle(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// sendResponse writes a per-request reply on this connection only.
func (c *Connection) sendResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal response")
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping response")
	}
}
