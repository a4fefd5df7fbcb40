package game

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDurations() PhaseDurations {
	return PhaseDurations{
		Responding: 60 * time.Second,
		Guessing:   30 * time.Second,
		Results:    15 * time.Second,
	}
}

// newTestRoom creates a room with the host plus the extra players joined
// and connected.
func newTestRoom(t *testing.T, store *Store, extras ...string) string {
	t.Helper()
	roomID := store.CreateRoom("test room", "host", "Host")
	for _, id := range extras {
		require.NoError(t, store.JoinRoom(roomID, id, "Player "+id))
	}
	return roomID
}

func TestCreateRoomStartsWaiting(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store)

	snap, ok := store.Snapshot(roomID)
	require.True(t, ok)
	assert.Equal(t, PhaseWaiting, snap.Phase)
	assert.Equal(t, 0, snap.RoundNumber)
	assert.Equal(t, "host", snap.HostID)
	require.Len(t, snap.Players, 1)
	assert.True(t, snap.Players[0].Connected)
}

func TestPhaseCycle(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")

	phases := []Phase{PhaseResponding, PhaseGuessing, PhaseResults, PhaseWaiting, PhaseResponding}
	for _, want := range phases {
		got, err := store.AdvancePhase(roomID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Two full entries into responding means round 2.
	snap, _ := store.Snapshot(roomID)
	assert.Equal(t, 2, snap.RoundNumber)
	assert.NotEmpty(t, snap.Prompt)
}

func TestJoinRoomReconnectKeepsScore(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")

	playRoundWithCorrectGuess(t, store, roomID)

	require.NoError(t, store.SetConnected(roomID, "p2", false))
	require.NoError(t, store.JoinRoom(roomID, "p2", "Player p2"))

	board, err := store.Leaderboard(roomID)
	require.NoError(t, err)
	for _, entry := range board {
		if entry.PlayerID == "p2" {
			assert.Equal(t, GuesserPoints, entry.Score)
		}
	}
}

func TestSubmitResponseWrongPhase(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")

	err := store.SubmitResponse(roomID, "p2", "too early")
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestSubmitResponseDuplicate(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")
	mustAdvance(t, store, roomID, PhaseResponding)

	require.NoError(t, store.SubmitResponse(roomID, "p2", "first"))
	assert.ErrorIs(t, store.SubmitResponse(roomID, "p2", "second"), ErrAlreadyActed)
}

func TestSubmitGuessValidation(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")
	mustAdvance(t, store, roomID, PhaseResponding)
	require.NoError(t, store.SubmitResponse(roomID, "host", "a"))
	require.NoError(t, store.SubmitResponse(roomID, "p2", "b"))
	mustAdvance(t, store, roomID, PhaseGuessing)

	assert.ErrorIs(t, store.SubmitGuess(roomID, "p2", Guess{ResponseIndex: -1, AuthorID: "host"}), ErrInvalidGuess)
	assert.ErrorIs(t, store.SubmitGuess(roomID, "p2", Guess{ResponseIndex: 2, AuthorID: "host"}), ErrInvalidGuess)
	assert.ErrorIs(t, store.SubmitGuess(roomID, "ghost", Guess{ResponseIndex: 0, AuthorID: "host"}), ErrPlayerNotFound)
	require.NoError(t, store.SubmitGuess(roomID, "p2", Guess{ResponseIndex: 0, AuthorID: "host"}))
	assert.ErrorIs(t, store.SubmitGuess(roomID, "p2", Guess{ResponseIndex: 0, AuthorID: "host"}), ErrAlreadyActed)
}

func TestResponsesAreAnonymizedAndOrdered(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2", "p3")
	mustAdvance(t, store, roomID, PhaseResponding)

	// Submission order differs from id order; the frozen order is by id.
	require.NoError(t, store.SubmitResponse(roomID, "p3", "from p3"))
	require.NoError(t, store.SubmitResponse(roomID, "host", "from host"))
	require.NoError(t, store.SubmitResponse(roomID, "p2", "from p2"))
	mustAdvance(t, store, roomID, PhaseGuessing)

	responses, err := store.Responses(roomID)
	require.NoError(t, err)
	require.Len(t, responses, 3)
	assert.Equal(t, []AnonymizedResponse{
		{Index: 0, Text: "from host"},
		{Index: 1, Text: "from p2"},
		{Index: 2, Text: "from p3"},
	}, responses)
}

func TestScoringAwardsGuesserAndAuthor(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2", "p3")
	mustAdvance(t, store, roomID, PhaseResponding)
	require.NoError(t, store.SubmitResponse(roomID, "host", "a"))
	require.NoError(t, store.SubmitResponse(roomID, "p2", "b"))
	require.NoError(t, store.SubmitResponse(roomID, "p3", "c"))
	mustAdvance(t, store, roomID, PhaseGuessing)

	// Frozen order is host, p2, p3. p2 names host correctly; p3 guesses
	// wrong; host picks their own response, which never scores.
	require.NoError(t, store.SubmitGuess(roomID, "p2", Guess{ResponseIndex: 0, AuthorID: "host"}))
	require.NoError(t, store.SubmitGuess(roomID, "p3", Guess{ResponseIndex: 1, AuthorID: "host"}))
	require.NoError(t, store.SubmitGuess(roomID, "host", Guess{ResponseIndex: 0, AuthorID: "host"}))
	mustAdvance(t, store, roomID, PhaseResults)

	board, err := store.Leaderboard(roomID)
	require.NoError(t, err)
	scores := map[string]int{}
	for _, entry := range board {
		scores[entry.PlayerID] = entry.Score
	}
	assert.Equal(t, AuthorPoints, scores["host"], "author gets points for being identified")
	assert.Equal(t, GuesserPoints, scores["p2"], "correct guesser scores")
	assert.Equal(t, 0, scores["p3"], "wrong guess scores nothing")
}

func TestRoundResultsRevealAuthors(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")
	playRoundWithCorrectGuess(t, store, roomID)

	results, err := store.RoundResults(roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, results.RoundNumber)
	require.Len(t, results.Entries, 2)
	assert.Equal(t, "host", results.Entries[0].AuthorID)
	assert.Equal(t, []string{"p2"}, results.Entries[0].GuessedBy)
	assert.Empty(t, results.Entries[1].GuessedBy)
}

func TestLeaderboardOrdering(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")
	playRoundWithCorrectGuess(t, store, roomID)

	board, err := store.Leaderboard(roomID)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "p2", board[0].PlayerID)
	assert.Equal(t, GuesserPoints, board[0].Score)
	assert.Equal(t, "host", board[1].PlayerID)
	assert.Equal(t, AuthorPoints, board[1].Score)
}

func TestAllRespondedCountsConnectedOnly(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2", "p3")
	mustAdvance(t, store, roomID, PhaseResponding)

	require.NoError(t, store.SubmitResponse(roomID, "host", "a"))
	require.NoError(t, store.SubmitResponse(roomID, "p2", "b"))

	done, err := store.AllResponded(roomID)
	require.NoError(t, err)
	assert.False(t, done, "p3 has not responded")

	// Once p3 drops, the remaining connected players have all acted.
	require.NoError(t, store.SetConnected(roomID, "p3", false))
	done, err = store.AllResponded(roomID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestAllRespondedFalseWhenNobodyConnected(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")
	mustAdvance(t, store, roomID, PhaseResponding)

	require.NoError(t, store.SetConnected(roomID, "host", false))
	require.NoError(t, store.SetConnected(roomID, "p2", false))

	done, err := store.AllResponded(roomID)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestForceWaitingKeepsScoresAndRound(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())
	roomID := newTestRoom(t, store, "p2")
	playRoundWithCorrectGuess(t, store, roomID)

	require.NoError(t, store.ForceWaiting(roomID, "not enough players"))

	snap, ok := store.Snapshot(roomID)
	require.True(t, ok)
	assert.Equal(t, PhaseWaiting, snap.Phase)
	assert.Equal(t, 1, snap.RoundNumber)

	remaining, err := store.TimeRemaining(roomID)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	board, _ := store.Leaderboard(roomID)
	assert.Equal(t, GuesserPoints, board[0].Score)
}

func TestTimeRemaining(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(testDurations(), clock)
	roomID := newTestRoom(t, store, "p2")

	// Waiting is untimed.
	remaining, err := store.TimeRemaining(roomID)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	mustAdvance(t, store, roomID, PhaseResponding)
	clock.Advance(20 * time.Second)

	remaining, err = store.TimeRemaining(roomID)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, remaining)

	// Past expiry the remainder floors at zero.
	clock.Advance(time.Minute)
	remaining, err = store.TimeRemaining(roomID)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestCleanupInactive(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(testDurations(), clock)
	stale := newTestRoom(t, store)

	clock.Advance(31 * time.Minute)
	fresh := newTestRoom(t, store)

	removed := store.CleanupInactive(30 * time.Minute)
	assert.Equal(t, []string{stale}, removed)

	_, ok := store.Snapshot(stale)
	assert.False(t, ok)
	_, ok = store.Snapshot(fresh)
	assert.True(t, ok)
}

func TestRoomNotFound(t *testing.T) {
	store := NewStore(testDurations(), clockwork.NewFakeClock())

	_, ok := store.Snapshot("missing")
	assert.False(t, ok)
	assert.ErrorIs(t, store.JoinRoom("missing", "p", "P"), ErrRoomNotFound)
	assert.ErrorIs(t, store.SubmitResponse("missing", "p", "x"), ErrRoomNotFound)
	_, err := store.AdvancePhase("missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = store.TimeRemaining("missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

// mustAdvance advances the phase and asserts where the room landed.
func mustAdvance(t *testing.T, store *Store, roomID string, want Phase) {
	t.Helper()
	got, err := store.AdvancePhase(roomID)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// playRoundWithCorrectGuess runs one round where p2 correctly names the
// host's response, leaving host at 50 and p2 at 100.
func playRoundWithCorrectGuess(t *testing.T, store *Store, roomID string) {
	t.Helper()
	mustAdvance(t, store, roomID, PhaseResponding)
	require.NoError(t, store.SubmitResponse(roomID, "host", "host answer"))
	require.NoError(t, store.SubmitResponse(roomID, "p2", "p2 answer"))
	mustAdvance(t, store, roomID, PhaseGuessing)
	require.NoError(t, store.SubmitGuess(roomID, "p2", Guess{ResponseIndex: 0, AuthorID: "host"}))
	mustAdvance(t, store, roomID, PhaseResults)
	mustAdvance(t, store, roomID, PhaseWaiting)
}
