package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/partykit/quipguess/internal/game"
)

// Event is the envelope for everything pushed to room connections.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType identifies an outbound event.
type EventType string

const (
	EventTypeRoomState       EventType = "room_state"
	EventTypePlayerList      EventType = "player_list"
	EventTypeCountdown       EventType = "countdown"
	EventTypeTimeWarning     EventType = "time_warning"
	EventTypeGuessingStarted EventType = "guessing_started"
	EventTypeResultsStarted  EventType = "results_started"
	EventTypeRoundEnded      EventType = "round_ended"
	EventTypeGamePaused      EventType = "game_paused"
)

// CountdownPayload carries a periodic remaining-time update.
type CountdownPayload struct {
	Phase        game.Phase `json:"phase"`
	RemainingSec int        `json:"remaining_sec"`
}

// TimeWarningPayload carries a one-shot threshold warning.
type TimeWarningPayload struct {
	Message      string `json:"message"`
	RemainingSec int    `json:"remaining_sec"`
}

// GuessingStartedPayload carries the anonymized response set.
type GuessingStartedPayload struct {
	Responses []game.AnonymizedResponse `json:"responses"`
	Reason    string                    `json:"reason"`
}

// ResultsStartedPayload carries the round outcome and score table.
type ResultsStartedPayload struct {
	Results     game.RoundResults       `json:"results"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
	Reason      string                  `json:"reason"`
}

// RoundEndedPayload marks the return to the waiting phase.
type RoundEndedPayload struct {
	Round int `json:"round"`
}

// GamePausedPayload carries a structured pause notice.
type GamePausedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PlayerListPayload carries the connected-player roster.
type PlayerListPayload struct {
	Players []game.PlayerSnapshot `json:"players"`
}

func newEvent(roomID string, eventType EventType, payload any) (Event, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event payload")
		return Event{}, false
	}
	return Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}, true
}

// ClientMessage is one inbound request from a connection.
type ClientMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Response is the per-request reply sent back on the same connection.
type Response struct {
	Success   bool       `json:"success"`
	RequestID string     `json:"request_id,omitempty"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the machine-readable error envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes surfaced to clients.
const (
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternalError = "INTERNAL_ERROR"
	CodeRoomNotFound  = "ROOM_NOT_FOUND"
	CodeWrongPhase    = "WRONG_PHASE"
	CodeDuplicate     = "DUPLICATE_REQUEST"
	CodeBadRequest    = "BAD_REQUEST"
	CodeNotEnough     = "INSUFFICIENT_PLAYERS"
)
