// Package ratelimit implements sliding-window admission control, per
// client and in aggregate. It never blocks: every call is O(window)
// bookkeeping under one mutex.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config is the limiter's tuning surface.
type Config struct {
	PerClientPerSec int
	PerClientPerMin int
	GlobalPerSec    int
	BlockDuration   time.Duration
	MaxEventQueue   int
	// TestMode admits everything so timing-sensitive integration tests
	// stay deterministic.
	TestMode bool
}

type acceptedEvent struct {
	EventType  string
	AcceptedAt time.Time
}

type clientState struct {
	attempts     []time.Time // sliding-window attempt timestamps, pruned to 60s
	events       []acceptedEvent
	blockedUntil time.Time
	blockReason  string
}

// Limiter is the admission gate. One lock guards all mutable state; every
// public call holds it for its full body.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clients map[string]*clientState

	globalWindow  []time.Time // accepted-attempt timestamps, pruned to 1s
	totalAccepted uint64

	clock clockwork.Clock
}

// ClientStats is a diagnostic view of one client's limiter state.
type ClientStats struct {
	QueueLen       int       `json:"queue_len"`
	RecentAttempts int       `json:"recent_attempts"`
	Blocked        bool      `json:"blocked"`
	BlockedUntil   time.Time `json:"blocked_until,omitempty"`
	BlockReason    string    `json:"block_reason,omitempty"`
}

// GlobalStats is an aggregate diagnostic view.
type GlobalStats struct {
	Clients        int    `json:"clients"`
	TotalAccepted  uint64 `json:"total_accepted"`
	GlobalLastSec  int    `json:"global_last_sec"`
	BlockedClients int    `json:"blocked_clients"`
}

// New creates a Limiter.
func New(cfg Config, clock clockwork.Clock) *Limiter {
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		clock:   clock,
	}
}

// CanProcess decides whether one inbound event from clientID is admitted.
// A false return is a hard rejection: the caller must emit a RATE_LIMITED
// response and skip the wrapped operation entirely.
func (l *Limiter) CanProcess(clientID, eventType string) bool {
	if l.cfg.TestMode {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	client := l.clientLocked(clientID)

	// Lazy unblock: block expiry is evaluated on query, never by a timer.
	if !client.blockedUntil.IsZero() {
		if now.Before(client.blockedUntil) {
			return false
		}
		client.blockedUntil = time.Time{}
		client.blockReason = ""
	}

	// Aggregate cap first. Exceeding it rejects this attempt without
	// touching the client's own quota.
	l.globalWindow = append(l.globalWindow, now)
	l.globalWindow = pruneWindow(l.globalWindow, now.Add(-time.Second))
	if len(l.globalWindow) > l.cfg.GlobalPerSec {
		log.Warn().
			Str("client_id", clientID).
			Str("event_type", eventType).
			Int("global_last_sec", len(l.globalWindow)).
			Msg("global rate cap exceeded")
		return false
	}

	client.attempts = append(client.attempts, now)
	client.attempts = pruneWindow(client.attempts, now.Add(-time.Minute))

	if countSince(client.attempts, now.Add(-time.Second)) > l.cfg.PerClientPerSec {
		l.blockLocked(clientID, client, "per-second cap exceeded", now)
		return false
	}
	if len(client.attempts) > l.cfg.PerClientPerMin {
		l.blockLocked(clientID, client, "per-minute cap exceeded", now)
		return false
	}

	if len(client.events) >= l.cfg.MaxEventQueue {
		// Warn, don't fail: drop the oldest diagnostic entry.
		log.Warn().
			Str("client_id", clientID).
			Int("queue_len", len(client.events)).
			Msg("event queue at capacity, dropping oldest")
		client.events = client.events[1:]
	}
	client.events = append(client.events, acceptedEvent{EventType: eventType, AcceptedAt: now})
	l.totalAccepted++
	return true
}

// IsBlocked reports whether the client is currently blocked, lazily
// clearing an expired block.
func (l *Limiter) IsBlocked(clientID string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	client, ok := l.clients[clientID]
	if !ok || client.blockedUntil.IsZero() {
		return false
	}
	if now.Before(client.blockedUntil) {
		return true
	}
	client.blockedUntil = time.Time{}
	client.blockReason = ""
	return false
}

// Block blocks the client for the configured duration.
func (l *Limiter) Block(clientID, reason string) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockLocked(clientID, l.clientLocked(clientID), reason, now)
}

func (l *Limiter) blockLocked(clientID string, client *clientState, reason string, now time.Time) {
	client.blockedUntil = now.Add(l.cfg.BlockDuration)
	client.blockReason = reason
	log.Warn().
		Str("client_id", clientID).
		Str("reason", reason).
		Time("blocked_until", client.blockedUntil).
		Msg("client blocked")
}

// Stats returns a diagnostic view of one client.
func (l *Limiter) Stats(clientID string) ClientStats {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	client, ok := l.clients[clientID]
	if !ok {
		return ClientStats{}
	}
	blocked := !client.blockedUntil.IsZero() && now.Before(client.blockedUntil)
	stats := ClientStats{
		QueueLen:       len(client.events),
		RecentAttempts: countSince(client.attempts, now.Add(-time.Minute)),
		Blocked:        blocked,
	}
	if blocked {
		stats.BlockedUntil = client.blockedUntil
		stats.BlockReason = client.blockReason
	}
	return stats
}

// Global returns aggregate diagnostics.
func (l *Limiter) Global() GlobalStats {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	blocked := 0
	for _, c := range l.clients {
		if !c.blockedUntil.IsZero() && now.Before(c.blockedUntil) {
			blocked++
		}
	}
	return GlobalStats{
		Clients:        len(l.clients),
		TotalAccepted:  l.totalAccepted,
		GlobalLastSec:  countSince(l.globalWindow, now.Add(-time.Second)),
		BlockedClients: blocked,
	}
}

// clientLocked returns the client's state, creating it on first access.
func (l *Limiter) clientLocked(clientID string) *clientState {
	client, ok := l.clients[clientID]
	if !ok {
		client = &clientState{}
		l.clients[clientID] = client
	}
	return client
}

// pruneWindow drops timestamps at or before cutoff. Timestamps are
// appended in order, so a single scan from the front suffices.
func pruneWindow(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}

func countSince(window []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(window) - 1; i >= 0; i-- {
		if !window[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}
