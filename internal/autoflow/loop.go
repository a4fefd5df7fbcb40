package autoflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/partykit/quipguess/internal/game"
)

// iterate is one pass of the timer loop: advance expired rooms, emit
// countdown and warning events for rooms still in a timed phase, and on
// the status cadence trigger inactive-room cleanup. A panic anywhere in
// the pass is caught so the loop goroutine never silently dies.
func (e *Engine) iterate() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("timer iteration panicked")
		}
	}()

	for _, roomID := range e.state.ActiveRoomIDs() {
		e.checkRoom(roomID)
	}

	now := e.clock.Now()
	e.trackMu.Lock()
	due := now.Sub(e.lastCleanup) >= e.cfg.RoomStatusBroadcastInterval
	if due {
		e.lastCleanup = now
	}
	e.trackMu.Unlock()

	if due {
		for _, roomID := range e.state.CleanupInactive(e.cfg.InactiveRoomMaxAge) {
			e.guard.ReleaseLock(roomID)
			e.forgetRoom(roomID)
		}
	}
}

// forgetRoom drops the per-room broadcast bookkeeping.
func (e *Engine) forgetRoom(roomID string) {
	e.trackMu.Lock()
	delete(e.lastCountdown, roomID)
	delete(e.warnings, roomID)
	e.trackMu.Unlock()
}

// checkRoom handles a single room for this iteration. Panics are caught
// per room so one broken room cannot stall the rest of the pass.
func (e *Engine) checkRoom(roomID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("room_id", roomID).
				Msg("room check panicked")
		}
	}()

	snap, ok := e.state.Snapshot(roomID)
	if !ok || !snap.Phase.Timed() {
		return
	}

	remaining, err := e.state.TimeRemaining(roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to read remaining time")
		return
	}

	if remaining <= 0 {
		e.advanceExpired(roomID)
		return
	}

	e.maybeBroadcastCountdown(roomID, snap, remaining)
	e.maybeWarn(roomID, snap, remaining)
}

// advanceExpired moves a room whose phase timer has elapsed to the next
// phase. The mutation and the resulting broadcasts run under the room's
// guard so handler-driven mutations serialize against the timer path.
func (e *Engine) advanceExpired(roomID string) {
	err := e.guard.WithRoom(context.Background(), roomID, func(ctx context.Context) error {
		// Re-check under the lock: a handler may have advanced or paused
		// the room while we were waiting.
		snap, ok := e.state.Snapshot(roomID)
		if !ok || !snap.Phase.Timed() {
			return nil
		}
		remaining, err := e.state.TimeRemaining(roomID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		return e.advanceLocked(roomID, ReasonTimeout)
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to advance expired phase")
	}
}

// advanceLocked performs the phase advance and the broadcasts from the
// transition table. Callers must hold the room's guard.
func (e *Engine) advanceLocked(roomID, reason string) error {
	newPhase, err := e.state.AdvancePhase(roomID)
	if err != nil {
		return fmt.Errorf("advance phase: %w", err)
	}
	e.forgetRoom(roomID)

	switch newPhase {
	case game.PhaseGuessing:
		responses, err := e.state.Responses(roomID)
		if err != nil {
			return fmt.Errorf("fetch responses: %w", err)
		}
		e.broadcast.BroadcastGuessingStarted(roomID, responses, reason)

	case game.PhaseResults:
		results, err := e.state.RoundResults(roomID)
		if err != nil {
			return fmt.Errorf("fetch round results: %w", err)
		}
		board, err := e.state.Leaderboard(roomID)
		if err != nil {
			return fmt.Errorf("fetch leaderboard: %w", err)
		}
		e.broadcast.BroadcastResultsStarted(roomID, results, board, reason)
		// Scores changed with the results.
		if players, err := e.state.ConnectedPlayers(roomID); err == nil {
			e.broadcast.BroadcastPlayerList(roomID, players)
		}

	case game.PhaseWaiting:
		if snap, ok := e.state.Snapshot(roomID); ok {
			e.broadcast.BroadcastRoundEnded(roomID, snap.RoundNumber)
		}
	}
	return nil
}

// maybeBroadcastCountdown emits a countdown update at most once per
// configured interval per room.
func (e *Engine) maybeBroadcastCountdown(roomID string, snap game.RoomSnapshot, remaining time.Duration) {
	now := e.clock.Now()

	e.trackMu.Lock()
	if last, ok := e.lastCountdown[roomID]; ok && now.Sub(last) < e.cfg.CountdownBroadcastInterval {
		e.trackMu.Unlock()
		return
	}
	e.lastCountdown[roomID] = now
	e.trackMu.Unlock()

	e.broadcast.BroadcastCountdown(roomID, snap.Phase, int(remaining/time.Second))
}

// maybeWarn fires the one-shot threshold warnings. Each threshold fires
// exactly once per (room, round, phase); the tracker resets when the
// room's phase or round changes.
func (e *Engine) maybeWarn(roomID string, snap game.RoomSnapshot, remaining time.Duration) {
	e.trackMu.Lock()
	ws := e.warnings[roomID]
	if ws == nil || ws.phase != snap.Phase || ws.round != snap.RoundNumber {
		ws = &warnState{
			phase: snap.Phase,
			round: snap.RoundNumber,
			fired: make(map[time.Duration]bool),
		}
		e.warnings[roomID] = ws
	}

	var due []time.Duration
	for _, threshold := range []time.Duration{e.cfg.WarningThreshold, e.cfg.FinalWarningThreshold} {
		if remaining <= threshold && !ws.fired[threshold] {
			ws.fired[threshold] = true
			due = append(due, threshold)
		}
	}
	e.trackMu.Unlock()

	for _, threshold := range due {
		msg := fmt.Sprintf("%d seconds remaining!", int(threshold/time.Second))
		e.broadcast.BroadcastTimeWarning(roomID, msg, int(remaining/time.Second))
	}
}
