package ratelimit

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/eternisai/enchanted-chat/internal/logger"
	"github.com/eternisai/enchanted-chat/internal/metrics"
)

const (
	// maxTrackedUsers caps the user map. Exceeding it triggers a GC sweep,
	// then forced eviction of the least recently seen record.
	maxTrackedUsers = 100_000

	// recordTTL is how long an idle record survives before the GC removes it.
	recordTTL = 24 * time.Hour

	// gcInterval is how often the background sweep runs.
	gcInterval = 2 * time.Hour
)

// LimitType identifies which window blocked a denied request.
type LimitType string

const (
	LimitTypeMinute LimitType = "minute"
	LimitTypeHour   LimitType = "hour"
	LimitTypeError  LimitType = "error"
)

// Window holds a per-window pair of values (minute, hour).
type Window struct {
	Minute int `json:"minute"`
	Hour   int `json:"hour"`
}

// ResetAt holds the next refill boundary for each window.
type ResetAt struct {
	Minute time.Time `json:"minute"`
	Hour   time.Time `json:"hour"`
}

// Decision is the outcome of a single admit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  Window
	Limit      Window
	ResetAt    ResetAt
	LimitType  LimitType // empty when allowed
}

// Snapshot reports current state without consuming a token.
type Snapshot struct {
	Remaining     Window    `json:"remaining"`
	Limit         Window    `json:"limit"`
	ResetAt       ResetAt   `json:"reset_at"`
	TotalRequests int       `json:"total_requests"`
	LastRequest   time.Time `json:"last_request"`
}

// Stats reports limiter-wide counters.
type Stats struct {
	TotalUsers int    `json:"total_users"`
	Config     Config `json:"config"`
}

// Config holds the dual-window capacities. Refill rate equals capacity:
// a full window's worth of tokens becomes available at each interval boundary.
type Config struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
}

// bucket is one token-bucket window.
type bucket struct {
	tokens     float64
	capacity   int
	refill     int
	interval   time.Duration
	lastRefill time.Time
}

// userRecord tracks both windows for one user. All bucket mutation happens
// under mu so refill+check+consume is atomic per user.
type userRecord struct {
	mu            sync.Mutex
	minute        bucket
	hour          bucket
	totalRequests int
	firstRequest  time.Time
	lastRequest   time.Time
}

// Limiter is the process-wide dual-window token bucket rate limiter.
//
// Different users proceed in parallel: the limiter-level mutex only guards
// the map itself, while each record carries its own lock for the
// refill/check/consume critical section.
type Limiter struct {
	mu     sync.Mutex
	users  map[string]*userRecord
	config Config
	logger *logger.Logger

	// now is the clock; swapped out in tests.
	now func() time.Time

	gcStop chan struct{}
	gcDone chan struct{}
}

// New creates a rate limiter and starts its background GC sweep.
func New(config Config, log *logger.Logger) *Limiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 60
	}
	if config.PerHour <= 0 {
		config.PerHour = 500
	}

	l := &Limiter{
		users:  make(map[string]*userRecord),
		config: config,
		logger: log.WithComponent("rate-limiter"),
		now:    time.Now,
		gcStop: make(chan struct{}),
		gcDone: make(chan struct{}),
	}

	go l.gcLoop()

	return l
}

// CheckLimit performs an atomic admit check for the user, consuming one token
// from each window when both have capacity.
func (l *Limiter) CheckLimit(userID string) Decision {
	if userID == "" {
		metrics.RateLimitDecisions.WithLabelValues("error").Inc()
		return Decision{
			Allowed:    false,
			RetryAfter: time.Minute,
			Limit:      Window{Minute: l.config.PerMinute, Hour: l.config.PerHour},
			LimitType:  LimitTypeError,
		}
	}

	rec := l.getOrCreate(userID)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := l.now()
	refillBucket(&rec.minute, now)
	refillBucket(&rec.hour, now)

	decision := Decision{
		Limit: Window{Minute: rec.minute.capacity, Hour: rec.hour.capacity},
		ResetAt: ResetAt{
			Minute: rec.minute.lastRefill.Add(rec.minute.interval),
			Hour:   rec.hour.lastRefill.Add(rec.hour.interval),
		},
	}

	if rec.minute.tokens >= 1 && rec.hour.tokens >= 1 {
		rec.minute.tokens = math.Max(0, rec.minute.tokens-1)
		rec.hour.tokens = math.Max(0, rec.hour.tokens-1)
		rec.totalRequests++
		rec.lastRequest = now

		decision.Allowed = true
		decision.Remaining = Window{
			Minute: int(rec.minute.tokens),
			Hour:   int(rec.hour.tokens),
		}
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
		return decision
	}

	// Denied. Report the blocking window, minute first.
	decision.Remaining = Window{
		Minute: int(rec.minute.tokens),
		Hour:   int(rec.hour.tokens),
	}
	if rec.minute.tokens < 1 {
		decision.LimitType = LimitTypeMinute
		decision.RetryAfter = rec.minute.lastRefill.Add(rec.minute.interval).Sub(now)
	} else {
		decision.LimitType = LimitTypeHour
		decision.RetryAfter = rec.hour.lastRefill.Add(rec.hour.interval).Sub(now)
	}
	if decision.RetryAfter < 0 {
		decision.RetryAfter = 0
	}

	metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
	return decision
}

// GetStatus reports the user's current windows without consuming a token.
func (l *Limiter) GetStatus(userID string) Snapshot {
	rec := l.getOrCreate(userID)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := l.now()
	refillBucket(&rec.minute, now)
	refillBucket(&rec.hour, now)

	return Snapshot{
		Remaining: Window{Minute: int(rec.minute.tokens), Hour: int(rec.hour.tokens)},
		Limit:     Window{Minute: rec.minute.capacity, Hour: rec.hour.capacity},
		ResetAt: ResetAt{
			Minute: rec.minute.lastRefill.Add(rec.minute.interval),
			Hour:   rec.hour.lastRefill.Add(rec.hour.interval),
		},
		TotalRequests: rec.totalRequests,
		LastRequest:   rec.lastRequest,
	}
}

// Stats returns limiter-wide counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TotalUsers: len(l.users),
		Config:     l.config,
	}
}

// Destroy stops the GC sweep so the process can exit.
func (l *Limiter) Destroy() {
	close(l.gcStop)
	<-l.gcDone
}

// getOrCreate returns the record for userID, creating it with full buckets.
// Under capacity pressure it runs a GC sweep and, if the map is still full,
// evicts the record with the oldest lastRequest.
func (l *Limiter) getOrCreate(userID string) *userRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.users[userID]; ok {
		return rec
	}

	if len(l.users) >= maxTrackedUsers {
		removed := l.sweepLocked(l.now())
		if len(l.users) >= maxTrackedUsers {
			l.evictOldestLocked()
		}
		l.logger.Warn("rate limiter at capacity",
			slog.Int("swept", removed),
			slog.Int("tracked_users", len(l.users)))
	}

	now := l.now()
	rec := &userRecord{
		minute: bucket{
			tokens:     float64(l.config.PerMinute),
			capacity:   l.config.PerMinute,
			refill:     l.config.PerMinute,
			interval:   time.Minute,
			lastRefill: now,
		},
		hour: bucket{
			tokens:     float64(l.config.PerHour),
			capacity:   l.config.PerHour,
			refill:     l.config.PerHour,
			interval:   time.Hour,
			lastRefill: now,
		},
		firstRequest: now,
		lastRequest:  now,
	}
	l.users[userID] = rec
	metrics.TrackedUsers.Set(float64(len(l.users)))

	return rec
}

// refillBucket advances the bucket to now. Caller holds the record lock.
//
// Defensive clock handling: a backward step resets lastRefill without
// granting tokens; a forward jump is capped at two intervals.
func refillBucket(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < 0 {
		b.lastRefill = now
		return
	}
	if elapsed > 2*b.interval {
		elapsed = 2 * b.interval
	}

	intervals := float64(elapsed) / float64(b.interval)
	if intervals < 1 {
		return
	}

	b.tokens = math.Min(float64(b.capacity), b.tokens+math.Floor(intervals*float64(b.refill)))
	b.lastRefill = now
}

// evictOldestLocked removes the record with the smallest lastRequest.
func (l *Limiter) evictOldestLocked() {
	var oldestID string
	var oldest time.Time

	for id, rec := range l.users {
		if oldestID == "" || rec.lastRequest.Before(oldest) {
			oldestID = id
			oldest = rec.lastRequest
		}
	}

	if oldestID != "" {
		delete(l.users, oldestID)
		l.logger.Info("evicted rate limit record",
			slog.Time("last_request", oldest))
	}
}

// sweepLocked removes records idle past recordTTL. Returns the number removed.
func (l *Limiter) sweepLocked(now time.Time) int {
	removed := 0
	for id, rec := range l.users {
		if now.Sub(rec.lastRequest) > recordTTL {
			delete(l.users, id)
			removed++
		}
	}
	metrics.TrackedUsers.Set(float64(len(l.users)))
	return removed
}

func (l *Limiter) gcLoop() {
	defer close(l.gcDone)

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			removed := l.sweepLocked(l.now())
			l.mu.Unlock()
			if removed > 0 {
				l.logger.Info("rate limit GC sweep", slog.Int("removed", removed))
			}
		case <-l.gcStop:
			return
		}
	}
}
