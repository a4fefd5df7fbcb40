package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/partykit/quipguess/internal/game"
	"github.com/partykit/quipguess/internal/roomguard"
)

// AdmissionController is the rate-limit gate consulted before any handler
// runs.
type AdmissionController interface {
	CanProcess(clientID, eventType string) bool
}

// FlowEngine is what the dispatcher needs from the autoflow engine.
type FlowEngine interface {
	OnPlayerDisconnect(ctx context.Context, roomID, playerID string)
	AdvanceIfComplete(ctx context.Context, roomID string)
}

// DispatcherConfig tunes the dispatch layer.
type DispatcherConfig struct {
	MinPlayers    int
	RetryAfterSec int
}

// handlerFunc processes one admitted client message.
type handlerFunc func(ctx context.Context, conn *Connection, msg ClientMessage) Response

// Dispatcher routes inbound client messages through admission control,
// per-room locking, and deduplication into the game domain.
type Dispatcher struct {
	store    *game.Store
	limiter  AdmissionController
	guard    *roomguard.Guard
	engine   FlowEngine
	manager  *ConnectionManager
	cfg      DispatcherConfig
	handlers map[string]handlerFunc
}

// NewDispatcher wires the dispatch layer. The manager's broadcast side is
// used to push room updates that result from handled messages.
func NewDispatcher(store *game.Store, limiter AdmissionController, guard *roomguard.Guard, engine FlowEngine, manager *ConnectionManager, cfg DispatcherConfig) *Dispatcher {
	if cfg.RetryAfterSec <= 0 {
		cfg.RetryAfterSec = 60
	}
	d := &Dispatcher{
		store:   store,
		limiter: limiter,
		guard:   guard,
		engine:  engine,
		manager: manager,
		cfg:     cfg,
	}
	d.handlers = map[string]handlerFunc{
		"join":            d.guarded("join", d.handleJoin),
		"start_round":     d.guarded("start_round", d.handleStartRound),
		"submit_response": d.guarded("submit_response", d.handleSubmitResponse),
		"submit_guess":    d.guarded("submit_guess", d.handleSubmitGuess),
	}
	return d
}

// Handle parses one raw inbound frame and runs the matching handler. The
// reply always goes back on the same connection.
func (d *Dispatcher) Handle(conn *Connection, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		conn.sendResponse(errorResponse("", CodeBadRequest, "malformed message"))
		return
	}

	handler, ok := d.handlers[msg.Type]
	if !ok {
		conn.sendResponse(errorResponse(msg.RequestID, CodeBadRequest, fmt.Sprintf("unknown message type %q", msg.Type)))
		return
	}

	resp := handler(context.Background(), conn, msg)
	resp.RequestID = msg.RequestID
	conn.sendResponse(resp)
}

// guarded wraps a handler with admission control and panic containment.
// A rate-limited client gets the structured RATE_LIMITED envelope and the
// wrapped handler never runs; a panic inside the handler becomes an
// INTERNAL_ERROR response and is never propagated to the transport.
func (d *Dispatcher) guarded(eventType string, h handlerFunc) handlerFunc {
	return func(ctx context.Context, conn *Connection, msg ClientMessage) (resp Response) {
		if !d.limiter.CanProcess(conn.ClientID, eventType) {
			log.Warn().
				Str("client_id", conn.ClientID).
				Str("event_type", eventType).
				Msg("event rejected by rate limiter")
			return Response{
				Success: false,
				Error: &ErrorBody{
					Code:    CodeRateLimited,
					Message: "too many requests",
					Details: map[string]any{"retryAfter": d.cfg.RetryAfterSec},
				},
			}
		}

		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("client_id", conn.ClientID).
					Str("event_type", eventType).
					Msg("handler panicked")
				resp = errorResponse(msg.RequestID, CodeInternalError, "internal error")
			}
		}()
		return h(ctx, conn, msg)
	}
}

// OnDisconnect runs the disconnect impact path for a closed connection.
func (d *Dispatcher) OnDisconnect(conn *Connection) {
	if err := d.store.SetConnected(conn.RoomID, conn.ClientID, false); err != nil {
		if !errors.Is(err, game.ErrRoomNotFound) && !errors.Is(err, game.ErrPlayerNotFound) {
			log.Error().Err(err).Str("room_id", conn.RoomID).Msg("failed to mark player disconnected")
		}
		return
	}
	d.engine.OnPlayerDisconnect(context.Background(), conn.RoomID, conn.ClientID)
	if players, err := d.store.ConnectedPlayers(conn.RoomID); err == nil {
		d.manager.BroadcastPlayerList(conn.RoomID, players)
	}
}

type joinData struct {
	Name string `json:"name"`
}

func (d *Dispatcher) handleJoin(ctx context.Context, conn *Connection, msg ClientMessage) Response {
	var data joinData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Name == "" {
		return errorResponse(msg.RequestID, CodeBadRequest, "join requires a player name")
	}

	err := d.guard.WithRoom(ctx, conn.RoomID, func(ctx context.Context) error {
		return d.store.JoinRoom(conn.RoomID, conn.ClientID, data.Name)
	})
	if err != nil {
		return domainError(msg.RequestID, err)
	}

	if snap, ok := d.store.Snapshot(conn.RoomID); ok {
		d.manager.BroadcastRoomState(conn.RoomID, snap)
	}
	if players, err := d.store.ConnectedPlayers(conn.RoomID); err == nil {
		d.manager.BroadcastPlayerList(conn.RoomID, players)
	}
	return Response{Success: true}
}

func (d *Dispatcher) handleStartRound(ctx context.Context, conn *Connection, msg ClientMessage) Response {
	if d.guard.IsDuplicate(conn.ClientID + ":start_round") {
		return errorResponse(msg.RequestID, CodeDuplicate, "request already being processed")
	}

	var failure *ErrorBody
	err := d.guard.WithRoom(ctx, conn.RoomID, func(ctx context.Context) error {
		snap, ok := d.store.Snapshot(conn.RoomID)
		if !ok {
			return game.ErrRoomNotFound
		}
		if snap.Phase != game.PhaseWaiting {
			failure = &ErrorBody{Code: CodeWrongPhase, Message: "round already in progress"}
			return nil
		}
		players, err := d.store.ConnectedPlayers(conn.RoomID)
		if err != nil {
			return err
		}
		if len(players) < d.cfg.MinPlayers {
			failure = &ErrorBody{
				Code:    CodeNotEnough,
				Message: fmt.Sprintf("need at least %d connected players", d.cfg.MinPlayers),
			}
			return nil
		}
		_, err = d.store.AdvancePhase(conn.RoomID)
		return err
	})
	if err != nil {
		return domainError(msg.RequestID, err)
	}
	if failure != nil {
		return Response{Success: false, Error: failure}
	}

	if snap, ok := d.store.Snapshot(conn.RoomID); ok {
		d.manager.BroadcastRoomState(conn.RoomID, snap)
	}
	return Response{Success: true}
}

type responseData struct {
	Text string `json:"text"`
}

func (d *Dispatcher) handleSubmitResponse(ctx context.Context, conn *Connection, msg ClientMessage) Response {
	var data responseData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Text == "" {
		return errorResponse(msg.RequestID, CodeBadRequest, "submit_response requires text")
	}
	if d.guard.IsDuplicate(conn.ClientID + ":submit_response") {
		// Silent no-op acknowledgment: the first submission already landed.
		return Response{Success: true}
	}

	err := d.guard.WithRoom(ctx, conn.RoomID, func(ctx context.Context) error {
		if err := d.store.SubmitResponse(conn.RoomID, conn.ClientID, data.Text); err != nil {
			return err
		}
		// Everyone may have acted now; the re-entrant guard lets this
		// nested acquisition run inline.
		d.engine.AdvanceIfComplete(ctx, conn.RoomID)
		return nil
	})
	if err != nil {
		return domainError(msg.RequestID, err)
	}
	return Response{Success: true}
}

type guessData struct {
	ResponseIndex int    `json:"response_index"`
	AuthorID      string `json:"author_id"`
}

func (d *Dispatcher) handleSubmitGuess(ctx context.Context, conn *Connection, msg ClientMessage) Response {
	var data guessData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.AuthorID == "" {
		return errorResponse(msg.RequestID, CodeBadRequest, "submit_guess requires response_index and author_id")
	}
	if d.guard.IsDuplicate(conn.ClientID + ":submit_guess") {
		return Response{Success: true}
	}

	err := d.guard.WithRoom(ctx, conn.RoomID, func(ctx context.Context) error {
		guess := game.Guess{ResponseIndex: data.ResponseIndex, AuthorID: data.AuthorID}
		if err := d.store.SubmitGuess(conn.RoomID, conn.ClientID, guess); err != nil {
			return err
		}
		d.engine.AdvanceIfComplete(ctx, conn.RoomID)
		return nil
	})
	if err != nil {
		return domainError(msg.RequestID, err)
	}
	return Response{Success: true}
}

func errorResponse(requestID, code, message string) Response {
	return Response{
		Success:   false,
		RequestID: requestID,
		Error:     &ErrorBody{Code: code, Message: message},
	}
}

// domainError maps domain sentinels onto client-facing codes.
func domainError(requestID string, err error) Response {
	switch {
	case errors.Is(err, game.ErrRoomNotFound):
		return errorResponse(requestID, CodeRoomNotFound, "room not found")
	case errors.Is(err, game.ErrWrongPhase):
		return errorResponse(requestID, CodeWrongPhase, "action not valid in current phase")
	case errors.Is(err, game.ErrAlreadyActed):
		// Domain-level idempotency: treat as a no-op acknowledgment.
		return Response{Success: true, RequestID: requestID}
	case errors.Is(err, game.ErrPlayerNotFound), errors.Is(err, game.ErrInvalidGuess):
		return errorResponse(requestID, CodeBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("unexpected domain error")
		return errorResponse(requestID, CodeInternalError, "internal error")
	}
}
