// Package ratelimit implements the Rate Limiter & Abuse Detector (§4.7):
// per-user sliding windows over requests and token usage, suspension, and a
// banded abuse score that can auto-suspend a user.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	requestsHorizon = time.Minute
	tokensHorizon   = time.Hour
	sweepInterval   = 5 * time.Minute
	idleAfter       = 30 * time.Minute
)

// Config holds the tunables from §6's RATE_LIMIT_* keys.
type Config struct {
	MaxRequestsPerMinute int
	MaxTokensPerRequest  int
	MaxTokensPerMinute   int
	MaxTokensPerHour     int
	SuspensionDuration   time.Duration
	MaxViolations        int
}

// DefaultConfig returns the §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerMinute: 60,
		MaxTokensPerRequest:  50_000,
		MaxTokensPerMinute:   200_000,
		MaxTokensPerHour:     1_000_000,
		SuspensionDuration:   15 * time.Minute,
		MaxViolations:        5,
	}
}

// Decision is checkLimit's result.
type Decision struct {
	Allowed            bool
	Reason             string
	RetryAfter         time.Duration
	RequestsThisMinute int
	TokensThisMinute   int
	TokensThisHour     int
}

type tokenRecord struct {
	at     time.Time
	tokens int
}

type userRecord struct {
	mu             sync.Mutex
	requests       []time.Time
	tokenUsage     []tokenRecord
	suspendedUntil time.Time
	violationCount int
	lastActivity   time.Time
}

// Limiter tracks sliding windows per user id.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	users map[string]*userRecord

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New constructs a Limiter with cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:       cfg,
		users:     make(map[string]*userRecord),
		Now:       time.Now,
		stopSweep: make(chan struct{}),
	}
}

func (l *Limiter) record(userID string) *userRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.users[userID]
	if !ok {
		r = &userRecord{}
		l.users[userID] = r
	}
	return r
}

// CheckLimit implements §4.7's checkLimit. estimatedTokens is nil when the
// caller has no token estimate for the incoming request.
func (l *Limiter) CheckLimit(userID string, estimatedTokens *int) Decision {
	r := l.record(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := l.Now()
	r.lastActivity = now

	if now.Before(r.suspendedUntil) {
		return Decision{
			Allowed:    false,
			Reason:     "user is suspended",
			RetryAfter: ceilSeconds(r.suspendedUntil.Sub(now)),
		}
	}

	r.requests = pruneTimes(r.requests, now, requestsHorizon)
	r.tokenUsage = pruneTokens(r.tokenUsage, now, tokensHorizon)

	if len(r.requests) >= l.cfg.MaxRequestsPerMinute {
		return Decision{
			Allowed:    false,
			Reason:     fmt.Sprintf("exceeded %d requests per minute", l.cfg.MaxRequestsPerMinute),
			RetryAfter: 60 * time.Second,
		}
	}

	tokensThisMinute := sumTokensSince(r.tokenUsage, now, requestsHorizon)
	tokensThisHour := sumTokensSince(r.tokenUsage, now, tokensHorizon)

	if estimatedTokens != nil {
		est := *estimatedTokens
		if est > l.cfg.MaxTokensPerRequest {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("request estimated at %d tokens exceeds the %d per-request limit", est, l.cfg.MaxTokensPerRequest),
			}
		}
		if tokensThisMinute+est > l.cfg.MaxTokensPerMinute {
			return Decision{
				Allowed:    false,
				Reason:     fmt.Sprintf("would exceed %d tokens per minute", l.cfg.MaxTokensPerMinute),
				RetryAfter: 60 * time.Second,
			}
		}
		if tokensThisMinute+est > 0 && tokensThisHour+est > l.cfg.MaxTokensPerHour {
			return Decision{
				Allowed:    false,
				Reason:     fmt.Sprintf("would exceed %d tokens per hour", l.cfg.MaxTokensPerHour),
				RetryAfter: retryAfterFromOldest(r.tokenUsage, now, tokensHorizon),
			}
		}
	}

	return Decision{
		Allowed:            true,
		RequestsThisMinute: len(r.requests),
		TokensThisMinute:   tokensThisMinute,
		TokensThisHour:     tokensThisHour,
	}
}

// RecordUsage appends a request timestamp and a token record for userId, and
// evaluates the abuse score, auto-suspending on a high/critical band.
func (l *Limiter) RecordUsage(userID string, tokensUsed int) {
	r := l.record(userID)
	r.mu.Lock()
	now := l.Now()
	r.lastActivity = now
	r.requests = append(r.requests, now)
	r.tokenUsage = append(r.tokenUsage, tokenRecord{at: now, tokens: tokensUsed})
	score, band := scoreLocked(r, now, l.cfg)
	r.mu.Unlock()

	switch band {
	case bandCritical:
		l.Suspend(userID, l.cfg.SuspensionDuration*4)
	case bandHigh:
		l.Suspend(userID, l.cfg.SuspensionDuration)
	}
	_ = score
}

// Suspend marks userId suspended for duration (defaulting to the configured
// suspension duration) and bumps its violation count.
func (l *Limiter) Suspend(userID string, duration time.Duration) {
	if duration <= 0 {
		duration = l.cfg.SuspensionDuration
	}
	r := l.record(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	now := l.Now()
	r.violationCount++
	r.suspendedUntil = now.Add(duration)
}

// AbuseScore computes the current 0-100 abuse score and band for userId.
func (l *Limiter) AbuseScore(userID string) (int, string) {
	r := l.record(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return scoreLocked(r, l.Now(), l.cfg)
}

const (
	bandNone     = "none"
	bandWarn     = "warn"
	bandHigh     = "high"
	bandCritical = "critical"
)

func scoreLocked(r *userRecord, now time.Time, cfg Config) (int, string) {
	reqRate := len(pruneTimes(r.requests, now, requestsHorizon))
	tokenRate := sumTokensSince(r.tokenUsage, now, requestsHorizon)

	score := band4(reqRate, cfg.MaxRequestsPerMinute) +
		band4(tokenRate, cfg.MaxTokensPerMinute) +
		violationBand(r.violationCount, cfg.MaxViolations)

	switch {
	case score >= 80:
		return score, bandCritical
	case score >= 60:
		return score, bandHigh
	case score >= 40:
		return score, bandWarn
	default:
		return score, bandNone
	}
}

// band4 maps a rate against its limit into {0,10,20,30} bands.
func band4(value, limit int) int {
	if limit <= 0 {
		return 0
	}
	ratio := float64(value) / float64(limit)
	switch {
	case ratio >= 1.0:
		return 30
	case ratio >= 0.75:
		return 20
	case ratio >= 0.5:
		return 10
	default:
		return 0
	}
}

// violationBand maps violation count into {0,10,20,30,40}.
func violationBand(count, maxViolations int) int {
	switch {
	case count >= maxViolations:
		return 40
	case count >= maxViolations*3/4:
		return 30
	case count >= maxViolations/2:
		return 20
	case count > 0:
		return 10
	default:
		return 0
	}
}

func pruneTimes(times []time.Time, now time.Time, horizon time.Duration) []time.Time {
	cutoff := now.Add(-horizon)
	kept := times[:0:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func pruneTokens(recs []tokenRecord, now time.Time, horizon time.Duration) []tokenRecord {
	cutoff := now.Add(-horizon)
	kept := recs[:0:0]
	for _, r := range recs {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}

func sumTokensSince(recs []tokenRecord, now time.Time, horizon time.Duration) int {
	cutoff := now.Add(-horizon)
	sum := 0
	for _, r := range recs {
		if r.at.After(cutoff) {
			sum += r.tokens
		}
	}
	return sum
}

func retryAfterFromOldest(recs []tokenRecord, now time.Time, horizon time.Duration) time.Duration {
	if len(recs) == 0 {
		return horizon
	}
	oldest := recs[0].at
	for _, r := range recs {
		if r.at.Before(oldest) {
			oldest = r.at
		}
	}
	remaining := horizon - now.Sub(oldest)
	if remaining < 0 {
		remaining = 0
	}
	return ceilSeconds(remaining)
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}

// StartIdleSweep runs a background loop that drops per-user records idle for
// longer than idleAfter, every sweepInterval (§4.7), until ctx is done or
// Stop is called.
func (l *Limiter) StartIdleSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopSweep:
				return
			case <-ticker.C:
				l.sweepIdle()
			}
		}
	}()
}

// Stop ends a running idle sweep loop. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.sweepOnce.Do(func() { close(l.stopSweep) })
}

func (l *Limiter) sweepIdle() {
	now := l.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, r := range l.users {
		r.mu.Lock()
		idle := now.Sub(r.lastActivity) > idleAfter && now.After(r.suspendedUntil)
		r.mu.Unlock()
		if idle {
			delete(l.users, id)
		}
	}
}
