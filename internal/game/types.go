package game

import "time"

// Player is a participant in a room.
type Player struct {
	ID        string
	Name      string
	Connected bool
	Score     int
}

// Guess is one player's attempt to name the author of an anonymized
// response, identified by its index in the frozen response order.
type Guess struct {
	ResponseIndex int
	AuthorID      string
}

// Room holds the live state for one game room. All fields are owned by
// the Store and must only be touched under its lock.
type Room struct {
	ID            string
	Name          string
	HostID        string
	Phase         Phase
	PhaseDuration time.Duration
	PhaseStartedAt time.Time
	RoundNumber   int
	Prompt        string

	Players   map[string]*Player
	Responses map[string]string // player id -> response text
	Guesses   map[string]Guess  // player id -> guess

	// responseOrder fixes the anonymized ordering of responders when the
	// guessing phase begins.
	responseOrder []string

	LastActivity time.Time
}

// PlayerSnapshot is a copy of a player safe to hand outside the store.
type PlayerSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Score     int    `json:"score"`
}

// RoomSnapshot is a copy of a room's observable state.
type RoomSnapshot struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	HostID         string           `json:"host_id"`
	Phase          Phase            `json:"phase"`
	PhaseDuration  time.Duration    `json:"-"`
	PhaseDurationSec int            `json:"phase_duration_sec"`
	PhaseStartedAt time.Time        `json:"phase_started_at"`
	RoundNumber    int              `json:"round_number"`
	Prompt         string           `json:"prompt"`
	Players        []PlayerSnapshot `json:"players"`
	ResponseCount  int              `json:"response_count"`
	GuessCount     int              `json:"guess_count"`
}

// AnonymizedResponse is a response stripped of its author, identified
// only by its index in the frozen order.
type AnonymizedResponse struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ResultEntry is the per-response outcome of a round.
type ResultEntry struct {
	Index      int      `json:"index"`
	AuthorID   string   `json:"author_id"`
	AuthorName string   `json:"author_name"`
	Response   string   `json:"response"`
	GuessedBy  []string `json:"guessed_by"` // players who named the author correctly
}

// RoundResults summarizes a finished round.
type RoundResults struct {
	RoundNumber int           `json:"round_number"`
	Prompt      string        `json:"prompt"`
	Entries     []ResultEntry `json:"entries"`
}

// LeaderboardEntry is one row of the score table, highest first.
type LeaderboardEntry struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// PhaseDurations configures how long each timed phase runs.
type PhaseDurations struct {
	Responding time.Duration
	Guessing   time.Duration
	Results    time.Duration
}

// For returns the configured duration of a phase, zero for untimed ones.
func (d PhaseDurations) For(p Phase) time.Duration {
	switch p {
	case PhaseResponding:
		return d.Responding
	case PhaseGuessing:
		return d.Guessing
	case PhaseResults:
		return d.Results
	default:
		return 0
	}
}
