// Package autoflow is the heartbeat that drives game progress independent
// of any single connection: it polls active rooms for phase timeouts,
// advances expired phases under the room guard, broadcasts countdown and
// warning events, and reacts to disconnects that make the current phase
// unsatisfiable.
package autoflow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partykit/quipguess/internal/game"
	"github.com/partykit/quipguess/internal/roomguard"
)

// GameState is what the engine consumes from the room/game domain layer.
// *game.Store satisfies it.
type GameState interface {
	ActiveRoomIDs() []string
	Snapshot(roomID string) (game.RoomSnapshot, bool)
	ConnectedPlayers(roomID string) ([]game.PlayerSnapshot, error)
	AdvancePhase(roomID string) (game.Phase, error)
	TimeRemaining(roomID string) (time.Duration, error)
	Responses(roomID string) ([]game.AnonymizedResponse, error)
	RoundResults(roomID string) (game.RoundResults, error)
	Leaderboard(roomID string) ([]game.LeaderboardEntry, error)
	AllResponded(roomID string) (bool, error)
	AllGuessed(roomID string) (bool, error)
	ForceWaiting(roomID, reason string) error
	CleanupInactive(olderThan time.Duration) []string
}

// Broadcaster is what the engine consumes from the broadcast layer.
type Broadcaster interface {
	BroadcastRoomState(roomID string, snap game.RoomSnapshot)
	BroadcastPlayerList(roomID string, players []game.PlayerSnapshot)
	BroadcastCountdown(roomID string, phase game.Phase, remainingSec int)
	BroadcastTimeWarning(roomID string, message string, remainingSec int)
	BroadcastGuessingStarted(roomID string, responses []game.AnonymizedResponse, reason string)
	BroadcastResultsStarted(roomID string, results game.RoundResults, leaderboard []game.LeaderboardEntry, reason string)
	BroadcastRoundEnded(roomID string, round int)
	BroadcastGamePaused(roomID string, code, message string)
}

// Reasons attached to phase-started broadcasts.
const (
	ReasonTimeout      = "timeout"
	ReasonAllResponded = "all_responded"
	ReasonAllGuessed   = "all_guessed"
)

// CodeInsufficientPlayers is the machine-readable pause code broadcast
// when a room drops below the player minimum.
const CodeInsufficientPlayers = "INSUFFICIENT_PLAYERS"

// Config tunes the engine's cadences and thresholds.
type Config struct {
	CheckInterval               time.Duration
	CountdownBroadcastInterval  time.Duration
	WarningThreshold            time.Duration
	FinalWarningThreshold       time.Duration
	RoomStatusBroadcastInterval time.Duration
	InactiveRoomMaxAge          time.Duration
	JoinTimeout                 time.Duration
	MinPlayers                  int
}

// warnState tracks which one-shot warnings have fired for a room's
// current (phase, round); crossing into a new phase or round resets it.
type warnState struct {
	phase game.Phase
	round int
	fired map[time.Duration]bool
}

// Engine runs one background loop for all rooms. The broadcast
// bookkeeping maps are also touched by the handler-driven paths
// (OnPlayerDisconnect, AdvanceIfComplete), so they get their own mutex.
type Engine struct {
	state     GameState
	broadcast Broadcaster
	guard     *roomguard.Guard
	cfg       Config
	clock     clockwork.Clock

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}

	trackMu       sync.Mutex
	lastCountdown map[string]time.Time
	warnings      map[string]*warnState
	lastCleanup   time.Time
}

// New creates an engine. Call Start to launch the loop.
func New(state GameState, broadcast Broadcaster, guard *roomguard.Guard, cfg Config, clock clockwork.Clock) *Engine {
	return &Engine{
		state:         state,
		broadcast:     broadcast,
		guard:         guard,
		cfg:           cfg,
		clock:         clock,
		lastCountdown: make(map[string]time.Time),
		warnings:      make(map[string]*warnState),
		lastCleanup:   clock.Now(),
	}
}

// Start launches the background loop. A second Start while running is a
// no-op.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	go e.run()
	log.Info().Dur("check_interval", e.cfg.CheckInterval).Msg("autoflow engine started")
}

// Stop flips the running flag and waits up to JoinTimeout for the loop to
// exit. Returns whether the loop was observed to stop; exceeding the
// timeout simply returns false, best-effort.
func (e *Engine) Stop() bool {
	if !e.running.CompareAndSwap(true, false) {
		return true
	}
	close(e.stopCh)

	timeout := e.cfg.JoinTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-e.done:
		log.Info().Msg("autoflow engine stopped")
		return true
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("autoflow engine did not stop in time")
		return false
	}
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := e.clock.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.Chan():
			if !e.running.Load() {
				return
			}
			e.iterate()
		}
	}
}
