package game

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// GuesserPoints is awarded for correctly naming a response's author.
	GuesserPoints = 100
	// AuthorPoints is awarded to an author each time someone identifies them.
	AuthorPoints = 50
)

// prompts cycles per round. Content loading proper lives outside this
// module; a built-in list keeps the store self-contained.
var prompts = []string{
	"The worst possible name for a pet goldfish",
	"A rejected slogan for a toothpaste brand",
	"Something you should never say at a funeral",
	"The secret ingredient in grandma's casserole",
	"A terrible theme for a birthday party",
	"The real reason the dinosaurs went extinct",
}

// Store is the in-memory room registry. It owns all room state; callers
// get copies, never live structs. Mutation ordering across call paths is
// the guard package's job, the store's RWMutex only keeps individual
// operations consistent.
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	durations PhaseDurations
	clock     clockwork.Clock
}

// NewStore creates a room store using the given phase durations.
func NewStore(durations PhaseDurations, clock clockwork.Clock) *Store {
	return &Store{
		rooms:     make(map[string]*Room),
		durations: durations,
		clock:     clock,
	}
}

// CreateRoom registers a new room in the waiting phase with the host as
// its first player and returns its id.
func (s *Store) CreateRoom(name, hostID, hostName string) string {
	now := s.clock.Now()
	room := &Room{
		ID:           uuid.New().String(),
		Name:         name,
		HostID:       hostID,
		Phase:        PhaseWaiting,
		Players:      map[string]*Player{hostID: {ID: hostID, Name: hostName, Connected: true}},
		Responses:    make(map[string]string),
		Guesses:      make(map[string]Guess),
		LastActivity: now,
	}

	s.mu.Lock()
	s.rooms[room.ID] = room
	s.mu.Unlock()

	log.Info().
		Str("room_id", room.ID).
		Str("host_id", hostID).
		Msg("room created")
	return room.ID
}

// ActiveRoomIDs lists every registered room id.
func (s *Store) ActiveRoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a copy of the room's observable state.
func (s *Store) Snapshot(roomID string) (RoomSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}
	return snapshotLocked(room), true
}

func snapshotLocked(room *Room) RoomSnapshot {
	players := make([]PlayerSnapshot, 0, len(room.Players))
	for _, p := range room.Players {
		players = append(players, PlayerSnapshot{ID: p.ID, Name: p.Name, Connected: p.Connected, Score: p.Score})
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	return RoomSnapshot{
		ID:               room.ID,
		Name:             room.Name,
		HostID:           room.HostID,
		Phase:            room.Phase,
		PhaseDuration:    room.PhaseDuration,
		PhaseDurationSec: int(room.PhaseDuration / time.Second),
		PhaseStartedAt:   room.PhaseStartedAt,
		RoundNumber:      room.RoundNumber,
		Prompt:           room.Prompt,
		Players:          players,
		ResponseCount:    len(room.Responses),
		GuessCount:       len(room.Guesses),
	}
}

// ConnectedPlayers lists copies of the room's currently connected players.
func (s *Store) ConnectedPlayers(roomID string) ([]PlayerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	out := make([]PlayerSnapshot, 0, len(room.Players))
	for _, p := range room.Players {
		if p.Connected {
			out = append(out, PlayerSnapshot{ID: p.ID, Name: p.Name, Connected: true, Score: p.Score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// JoinRoom adds a player, or reconnects them if the id is already known.
func (s *Store) JoinRoom(roomID, playerID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if p, exists := room.Players[playerID]; exists {
		p.Connected = true
		p.Name = name
	} else {
		room.Players[playerID] = &Player{ID: playerID, Name: name, Connected: true}
	}
	room.LastActivity = s.clock.Now()
	return nil
}

// SetConnected flips a player's connected flag without removing them, so
// scores survive reconnects.
func (s *Store) SetConnected(roomID, playerID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	p, ok := room.Players[playerID]
	if !ok {
		return ErrPlayerNotFound
	}
	p.Connected = connected
	room.LastActivity = s.clock.Now()
	return nil
}

// SubmitResponse records a player's response during the responding phase.
func (s *Store) SubmitResponse(roomID, playerID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.Phase != PhaseResponding {
		return ErrWrongPhase
	}
	if _, ok := room.Players[playerID]; !ok {
		return ErrPlayerNotFound
	}
	if _, dup := room.Responses[playerID]; dup {
		return ErrAlreadyActed
	}
	room.Responses[playerID] = text
	room.LastActivity = s.clock.Now()
	return nil
}

// SubmitGuess records a player's guess during the guessing phase.
func (s *Store) SubmitGuess(roomID, playerID string, guess Guess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.Phase != PhaseGuessing {
		return ErrWrongPhase
	}
	if _, ok := room.Players[playerID]; !ok {
		return ErrPlayerNotFound
	}
	if _, dup := room.Guesses[playerID]; dup {
		return ErrAlreadyActed
	}
	if guess.ResponseIndex < 0 || guess.ResponseIndex >= len(room.responseOrder) {
		return ErrInvalidGuess
	}
	room.Guesses[playerID] = guess
	room.LastActivity = s.clock.Now()
	return nil
}

// AdvancePhase moves the room to the next phase in the cycle and returns
// the new phase. Entering responding starts a new round; entering
// guessing freezes the anonymized response order; entering results
// applies scoring.
func (s *Store) AdvancePhase(roomID string) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}

	next := room.Phase.Next()
	switch next {
	case PhaseResponding:
		room.RoundNumber++
		room.Prompt = prompts[(room.RoundNumber-1)%len(prompts)]
		room.Responses = make(map[string]string)
		room.Guesses = make(map[string]Guess)
		room.responseOrder = nil
	case PhaseGuessing:
		room.responseOrder = respondersLocked(room)
	case PhaseResults:
		applyScoringLocked(room)
	}

	room.Phase = next
	room.PhaseDuration = s.durations.For(next)
	room.PhaseStartedAt = s.clock.Now()
	room.LastActivity = room.PhaseStartedAt

	log.Info().
		Str("room_id", roomID).
		Str("phase", next.String()).
		Int("round", room.RoundNumber).
		Msg("phase advanced")
	return next, nil
}

// respondersLocked fixes the anonymized ordering of responders. The order
// is sorted by player id so indices are stable for the rest of the round.
func respondersLocked(room *Room) []string {
	ids := make([]string, 0, len(room.Responses))
	for id := range room.Responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func applyScoringLocked(room *Room) {
	for guesserID, guess := range room.Guesses {
		if guess.ResponseIndex >= len(room.responseOrder) {
			continue
		}
		authorID := room.responseOrder[guess.ResponseIndex]
		if guess.AuthorID != authorID || guesserID == authorID {
			continue
		}
		if guesser, ok := room.Players[guesserID]; ok {
			guesser.Score += GuesserPoints
		}
		if author, ok := room.Players[authorID]; ok {
			author.Score += AuthorPoints
		}
	}
}

// ForceWaiting drops the room back to the waiting phase, abandoning the
// current round's timer. Scores and round number are kept.
func (s *Store) ForceWaiting(roomID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.Phase = PhaseWaiting
	room.PhaseDuration = 0
	room.PhaseStartedAt = time.Time{}
	room.LastActivity = s.clock.Now()

	log.Warn().
		Str("room_id", roomID).
		Str("reason", reason).
		Msg("room forced back to waiting")
	return nil
}

// TimeRemaining reports how long the current phase has left. Untimed
// phases report zero.
func (s *Store) TimeRemaining(roomID string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return 0, ErrRoomNotFound
	}
	if !room.Phase.Timed() {
		return 0, nil
	}
	remaining := room.PhaseDuration - s.clock.Now().Sub(room.PhaseStartedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Responses returns the anonymized response set in frozen order. Valid
// once the guessing phase has begun.
func (s *Store) Responses(roomID string) ([]AnonymizedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	out := make([]AnonymizedResponse, 0, len(room.responseOrder))
	for i, authorID := range room.responseOrder {
		out = append(out, AnonymizedResponse{Index: i, Text: room.Responses[authorID]})
	}
	return out, nil
}

// RoundResults returns the full round outcome with authors revealed.
func (s *Store) RoundResults(roomID string) (RoundResults, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return RoundResults{}, ErrRoomNotFound
	}

	results := RoundResults{RoundNumber: room.RoundNumber, Prompt: room.Prompt}
	for i, authorID := range room.responseOrder {
		entry := ResultEntry{
			Index:    i,
			AuthorID: authorID,
			Response: room.Responses[authorID],
		}
		if author, ok := room.Players[authorID]; ok {
			entry.AuthorName = author.Name
		}
		for guesserID, guess := range room.Guesses {
			if guess.ResponseIndex == i && guess.AuthorID == authorID && guesserID != authorID {
				entry.GuessedBy = append(entry.GuessedBy, guesserID)
			}
		}
		sort.Strings(entry.GuessedBy)
		results.Entries = append(results.Entries, entry)
	}
	return results, nil
}

// Leaderboard returns players ordered by score, highest first.
func (s *Store) Leaderboard(roomID string) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	board := make([]LeaderboardEntry, 0, len(room.Players))
	for _, p := range room.Players {
		board = append(board, LeaderboardEntry{PlayerID: p.ID, Name: p.Name, Score: p.Score})
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].Score != board[j].Score {
			return board[i].Score > board[j].Score
		}
		return board[i].PlayerID < board[j].PlayerID
	})
	return board, nil
}

// AllResponded reports whether every connected player has submitted a
// response this round. False when nobody is connected.
func (s *Store) AllResponded(roomID string) (bool, error) {
	return s.allActed(roomID, func(room *Room, id string) bool {
		_, ok := room.Responses[id]
		return ok
	})
}

// AllGuessed reports whether every connected player has submitted a guess
// this round. False when nobody is connected.
func (s *Store) AllGuessed(roomID string) (bool, error) {
	return s.allActed(roomID, func(room *Room, id string) bool {
		_, ok := room.Guesses[id]
		return ok
	})
}

func (s *Store) allActed(roomID string, acted func(*Room, string) bool) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false, ErrRoomNotFound
	}
	connected := 0
	for id, p := range room.Players {
		if !p.Connected {
			continue
		}
		connected++
		if !acted(room, id) {
			return false, nil
		}
	}
	return connected > 0, nil
}

// RemoveRoom deletes a room. Removing an unknown id is a no-op.
func (s *Store) RemoveRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// CleanupInactive removes rooms idle longer than olderThan and returns
// the ids that were removed, so callers can release per-room resources.
func (s *Store) CleanupInactive(olderThan time.Duration) []string {
	cutoff := s.clock.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, room := range s.rooms {
		if room.LastActivity.Before(cutoff) {
			delete(s.rooms, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		log.Info().Int("removed", len(removed)).Msg("inactive rooms cleaned up")
	}
	return removed
}
