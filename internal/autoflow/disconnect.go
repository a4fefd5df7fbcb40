package autoflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/partykit/quipguess/internal/game"
)

// OnPlayerDisconnect evaluates whether a disconnect makes the room's
// current phase unsatisfiable. Invoked synchronously from the handler
// path after the player has been marked disconnected, never from the
// timer loop. No-op if the room is gone or already waiting.
//
// Below the player minimum the room is paused back to waiting; otherwise,
// if every remaining connected player has already acted for the phase,
// the phase advances immediately instead of waiting for the timer.
func (e *Engine) OnPlayerDisconnect(ctx context.Context, roomID, playerID string) {
	snap, ok := e.state.Snapshot(roomID)
	if !ok || snap.Phase == game.PhaseWaiting {
		return
	}

	err := e.guard.WithRoom(ctx, roomID, func(ctx context.Context) error {
		snap, ok := e.state.Snapshot(roomID)
		if !ok || snap.Phase == game.PhaseWaiting {
			return nil
		}

		// A lookup failure counts as zero players: bias toward pausing
		// rather than leaving the game silently stuck.
		connected := 0
		if players, err := e.state.ConnectedPlayers(roomID); err == nil {
			connected = len(players)
		} else {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to count connected players")
		}

		if connected < e.cfg.MinPlayers {
			return e.pauseLocked(roomID, connected)
		}
		return e.advanceIfAllActedLocked(roomID, snap.Phase)
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("player_id", playerID).
			Msg("disconnect impact handling failed")
	}
}

// AdvanceIfComplete advances the room immediately when every connected
// player has acted for the current phase. Called by the handler path
// after a successful submission so rooms never idle out a finished phase.
func (e *Engine) AdvanceIfComplete(ctx context.Context, roomID string) {
	err := e.guard.WithRoom(ctx, roomID, func(ctx context.Context) error {
		snap, ok := e.state.Snapshot(roomID)
		if !ok {
			return nil
		}
		return e.advanceIfAllActedLocked(roomID, snap.Phase)
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("early advance failed")
	}
}

// advanceIfAllActedLocked advances the phase when all remaining connected
// players have acted. Callers must hold the room's guard.
func (e *Engine) advanceIfAllActedLocked(roomID string, phase game.Phase) error {
	switch phase {
	case game.PhaseResponding:
		all, err := e.state.AllResponded(roomID)
		if err != nil {
			return fmt.Errorf("check responses: %w", err)
		}
		if all {
			return e.advanceLocked(roomID, ReasonAllResponded)
		}
	case game.PhaseGuessing:
		all, err := e.state.AllGuessed(roomID)
		if err != nil {
			return fmt.Errorf("check guesses: %w", err)
		}
		if all {
			return e.advanceLocked(roomID, ReasonAllGuessed)
		}
	}
	return nil
}

// pauseLocked forces the room back to waiting and broadcasts the pause
// notice plus a room-state update. Callers must hold the room's guard.
func (e *Engine) pauseLocked(roomID string, connected int) error {
	if err := e.state.ForceWaiting(roomID, CodeInsufficientPlayers); err != nil {
		return fmt.Errorf("force waiting: %w", err)
	}
	e.forgetRoom(roomID)

	msg := fmt.Sprintf("Game paused: %d player(s) connected, %d required", connected, e.cfg.MinPlayers)
	e.broadcast.BroadcastGamePaused(roomID, CodeInsufficientPlayers, msg)
	if snap, ok := e.state.Snapshot(roomID); ok {
		e.broadcast.BroadcastRoomState(roomID, snap)
	}
	return nil
}
