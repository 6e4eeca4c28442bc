// ABOUTME: Memory-based rate limiter for the admin API
// ABOUTME: Per-IP sliding window with periodic cleanup of stale clients

package security

import (
	"log/slog"
	"sync"
	"time"
)

// MemoryRateLimiter enforces a per-client hourly request budget with a
// sliding window. State is in-memory only; a restart resets all windows.
type MemoryRateLimiter struct {
	maxRequestsPerHour int
	cleanupInterval    time.Duration

	mutex   sync.Mutex
	clients map[string]*clientWindow

	logger    *slog.Logger
	stopChan  chan struct{}
	isRunning bool
}

type clientWindow struct {
	requests []time.Time
	lastSeen time.Time
}

// NewMemoryRateLimiter creates a limiter and starts its cleanup routine.
func NewMemoryRateLimiter(maxRequestsPerHour int, logger *slog.Logger) *MemoryRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	limiter := &MemoryRateLimiter{
		maxRequestsPerHour: maxRequestsPerHour,
		cleanupInterval:    5 * time.Minute,
		clients:            make(map[string]*clientWindow),
		logger:             logger,
		stopChan:           make(chan struct{}),
	}

	limiter.isRunning = true
	go limiter.cleanupLoop()

	logger.Info("Memory rate limiter created",
		"max_requests_per_hour", maxRequestsPerHour)
	return limiter
}

// Allow records one request for the client and reports whether it fits the
// window. Check and record are a single locked step so concurrent requests
// cannot both slip under the limit.
func (rl *MemoryRateLimiter) Allow(clientIP string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)

	client, exists := rl.clients[clientIP]
	if !exists {
		client = &clientWindow{}
		rl.clients[clientIP] = client
	}

	client.requests = trimBefore(client.requests, cutoff)
	client.lastSeen = now

	if len(client.requests) >= rl.maxRequestsPerHour {
		rl.logger.Warn("Rate limit exceeded",
			"client_ip", clientIP,
			"requests_last_hour", len(client.requests),
			"limit", rl.maxRequestsPerHour)
		return false
	}

	client.requests = append(client.requests, now)
	return true
}

// Stop halts the cleanup routine and drops all window state.
func (rl *MemoryRateLimiter) Stop() {
	if !rl.isRunning {
		return
	}
	close(rl.stopChan)
	rl.isRunning = false

	rl.mutex.Lock()
	rl.clients = make(map[string]*clientWindow)
	rl.mutex.Unlock()

	rl.logger.Info("Memory rate limiter stopped")
}

func (rl *MemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopChan:
			return
		}
	}
}

// cleanup drops clients idle for more than two hours.
func (rl *MemoryRateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)
	idleCutoff := now.Add(-2 * time.Hour)

	for clientIP, client := range rl.clients {
		client.requests = trimBefore(client.requests, cutoff)
		if len(client.requests) == 0 && client.lastSeen.Before(idleCutoff) {
			delete(rl.clients, clientIP)
		}
	}
}

func trimBefore(requests []time.Time, cutoff time.Time) []time.Time {
	valid := requests[:0]
	for _, ts := range requests {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	return valid
}
