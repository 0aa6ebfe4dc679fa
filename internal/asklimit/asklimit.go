package asklimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Stats and Reset when no record exists for the
// given student id. It is a reported condition, not a failure.
var ErrNotFound = errors.New("student not found")

// AlertLevel labels the outcome severity of a submission attempt.
type AlertLevel string

const (
	AlertNormal      AlertLevel = "NORMAL"
	AlertWarning     AlertLevel = "WARNING"
	AlertBlocked     AlertLevel = "BLOCKED"
	AlertRateLimited AlertLevel = "RATE_LIMITED"
)

// Result is the outcome of a single submission attempt. It is shaped for
// direct JSON serialization by the HTTP layer; optional fields are pointers
// so absence is distinguishable from zero.
type Result struct {
	Allowed            bool       `json:"allowed"`
	Message            string     `json:"message"`
	RemainingQuestions *int       `json:"remainingQuestions,omitempty"`
	CooldownUntil      *float64   `json:"cooldownUntil,omitempty"`
	AlertLevel         AlertLevel `json:"alertLevel,omitempty"`
}

// HistoryEntry is one accepted question. Timestamp is fractional seconds
// since the Unix epoch, the same clock as BlockedUntil and CooldownUntil.
type HistoryEntry struct {
	Timestamp float64 `json:"timestamp"`
	Question  string  `json:"question"`
}

// Student is the full stored record as returned by Stats.
type Student struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Email           string         `json:"email"`
	QuestionHistory []HistoryEntry `json:"questionHistory"`
	TotalQuestions  int            `json:"totalQuestions"`
	IsBlocked       bool           `json:"isBlocked"`
	BlockedUntil    *float64       `json:"blockedUntil,omitempty"`
}

// SummaryEntry is the per-student row returned by Summary for the teacher
// dashboard.
type SummaryEntry struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	TotalQuestions    int    `json:"totalQuestions"`
	IsBlocked         bool   `json:"isBlocked"`
	QuestionsInWindow int    `json:"questionsInWindow"`
}

// Config is the fixed limiter configuration, exposed read-only to clients.
type Config struct {
	MaxQuestions      int     `json:"maxQuestions"`
	TimeWindowMinutes float64 `json:"timeWindowMinutes"`
	CooldownMinutes   float64 `json:"cooldownMinutes"`
}

type entry struct {
	at       time.Time
	question string
}

// student is one record in the registry. Each record carries its own mutex so
// submissions for unrelated students never serialize against each other; the
// registry lock is only held long enough to find or insert the record.
type student struct {
	mu           sync.Mutex
	id           string
	name         string
	email        string
	history      []entry
	total        int
	blocked      bool
	blockedUntil time.Time
}

// Limiter holds per-student question state with background history sweeping.
type Limiter struct {
	mu       sync.RWMutex
	students map[string]*student

	maxQuestions int
	window       time.Duration
	cooldown     time.Duration

	// retention bounds how much history the sweeper keeps. Distinct from the
	// rate-limit window: entries outside the window but inside retention stay
	// visible in Stats until a submission prunes them.
	retention  time.Duration
	sweepEvery time.Duration

	// now is the clock; tests swap it for a fake
	now func() time.Time

	// OnRateLimited is called once each time a student transitions into a
	// cooldown, used for logging and counters.
	OnRateLimited func(id string)

	// OnBlockedAttempt is called on every submission rejected during an
	// active cooldown.
	OnBlockedAttempt func(id string)

	// OnSweep is called after each background sweep with the number of
	// students currently tracked.
	OnSweep func(students int)
}

type Option func(*Limiter)

// WithLimits sets the question budget per window, the window length, and the
// cooldown a student serves after exceeding the budget.
func WithLimits(maxQuestions int, window, cooldown time.Duration) Option {
	return func(l *Limiter) {
		l.maxQuestions = maxQuestions
		l.window = window
		l.cooldown = cooldown
	}
}

// WithRetention controls how long accepted questions stay in history before
// the background sweep discards them.
func WithRetention(d time.Duration) Option {
	return func(l *Limiter) {
		l.retention = d
	}
}

// WithSweepInterval controls how often the background sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.sweepEvery = d
	}
}

// WithOnRateLimited sets a callback for each new cooldown.
func WithOnRateLimited(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnRateLimited = fn
	}
}

// WithOnBlockedAttempt sets a callback for each rejection inside a cooldown.
func WithOnBlockedAttempt(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnBlockedAttempt = fn
	}
}

// WithOnSweep sets a callback invoked after every background sweep.
func WithOnSweep(fn func(students int)) Option {
	return func(l *Limiter) {
		l.OnSweep = fn
	}
}

// New creates a Limiter and starts the background sweep goroutine, which
// stops when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		students:     make(map[string]*student),
		maxQuestions: 3,
		window:       10 * time.Minute,
		cooldown:     5 * time.Minute,
		retention:    24 * time.Hour,
		sweepEvery:   time.Hour,
		now:          time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.sweep(ctx)
	return l
}

// Config returns the fixed limiter configuration.
func (l *Limiter) Config() Config {
	return Config{
		MaxQuestions:      l.maxQuestions,
		TimeWindowMinutes: l.window.Minutes(),
		CooldownMinutes:   l.cooldown.Minutes(),
	}
}

// Count returns the number of students currently tracked.
func (l *Limiter) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.students)
}

// lookup returns the record for id, lazily creating it when create is set.
func (l *Limiter) lookup(id string, create bool) *student {
	l.mu.RLock()
	s := l.students[id]
	l.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s = l.students[id]; s == nil {
		s = &student{id: id}
		l.students[id] = s
	}
	return s
}

// Submit records one question attempt for the given student. The name and
// email always overwrite whatever was stored before; identity is not
// validated against prior submissions.
//
// Unblock-check, window prune, and limit-check all happen under the same
// per-student lock, so two concurrent submissions can never both observe a
// count below the limit and both pass.
func (l *Limiter) Submit(id, name, email, question string) Result {
	now := l.now()
	s := l.lookup(id, true)

	s.mu.Lock()
	s.name = name
	s.email = email

	if s.blocked {
		if now.Before(s.blockedUntil) {
			remaining := s.blockedUntil.Sub(now).Minutes()
			until := unixSeconds(s.blockedUntil)
			s.mu.Unlock()
			// release lock before hooks, same as everywhere else: they may log
			if l.OnBlockedAttempt != nil {
				l.OnBlockedAttempt(id)
			}
			return Result{
				Allowed:       false,
				Message:       fmt.Sprintf("You are temporarily blocked from asking questions. Try again in %.1f minutes.", remaining),
				CooldownUntil: &until,
				AlertLevel:    AlertBlocked,
			}
		}
		// cooldown has passed: lift the block and evaluate this submission fresh
		s.blocked = false
		s.blockedUntil = time.Time{}
	}

	s.history = pruneThrough(s.history, now.Add(-l.window))
	n := len(s.history)

	if n >= l.maxQuestions {
		s.blocked = true
		s.blockedUntil = now.Add(l.cooldown)
		until := unixSeconds(s.blockedUntil)
		msg := fmt.Sprintf("You have asked %d questions in the last %.0f minutes (limit is %d). Please wait %.0f minutes before asking again.",
			n, l.window.Minutes(), l.maxQuestions, l.cooldown.Minutes())
		s.mu.Unlock()
		if l.OnRateLimited != nil {
			l.OnRateLimited(id)
		}
		return Result{
			Allowed:       false,
			Message:       msg,
			CooldownUntil: &until,
			AlertLevel:    AlertRateLimited,
		}
	}

	s.history = append(s.history, entry{at: now, question: question})
	s.total++

	level := AlertNormal
	// warning when the budget is nearly spent; for limits <= 1 this formula
	// degenerates and every accepted question carries a WARNING
	if n+1 >= l.maxQuestions-1 {
		level = AlertWarning
	}
	left := l.maxQuestions - (n + 1)
	s.mu.Unlock()

	return Result{
		Allowed:            true,
		Message:            "Question submitted successfully.",
		RemainingQuestions: &left,
		AlertLevel:         level,
	}
}

// Stats returns the stored record for id exactly as-is. No pruning happens
// here, so history may still contain entries older than the window that a
// future submission would discard.
func (l *Limiter) Stats(id string) (Student, error) {
	s := l.lookup(id, false)
	if s == nil {
		return Student{}, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Summary returns one row per known student with a read-only count of
// questions inside the current window. Stored history is never mutated here.
// Row order follows map iteration and is unspecified.
func (l *Limiter) Summary() []SummaryEntry {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.RLock()
	records := make([]*student, 0, len(l.students))
	for _, s := range l.students {
		records = append(records, s)
	}
	l.mu.RUnlock()

	out := make([]SummaryEntry, 0, len(records))
	for _, s := range records {
		s.mu.Lock()
		inWindow := 0
		for _, e := range s.history {
			if e.at.After(cutoff) {
				inWindow++
			}
		}
		out = append(out, SummaryEntry{
			ID:                s.id,
			Name:              s.name,
			TotalQuestions:    s.total,
			IsBlocked:         s.blocked,
			QuestionsInWindow: inWindow,
		})
		s.mu.Unlock()
	}
	return out
}

// Reset clears a student's history and any active block. Identity and the
// all-time question counter survive.
func (l *Limiter) Reset(id string) error {
	s := l.lookup(id, false)
	if s == nil {
		return ErrNotFound
	}

	s.mu.Lock()
	s.history = nil
	s.blocked = false
	s.blockedUntil = time.Time{}
	s.mu.Unlock()
	return nil
}

// Cleanup prunes history entries older than the retention threshold for
// every student. Block state is untouched. Pure maintenance; never fails.
func (l *Limiter) Cleanup() {
	cutoff := l.now().Add(-l.retention)

	l.mu.RLock()
	records := make([]*student, 0, len(l.students))
	for _, s := range l.students {
		records = append(records, s)
	}
	l.mu.RUnlock()

	for _, s := range records {
		s.mu.Lock()
		s.history = pruneThrough(s.history, cutoff)
		s.mu.Unlock()
	}
}

// sweep periodically runs Cleanup until ctx is cancelled.
func (l *Limiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
			if l.OnSweep != nil {
				l.OnSweep(l.Count())
			}
		}
	}
}

// pruneThrough drops entries with timestamps at or before cutoff. History is
// oldest-first, so only the retained tail is kept.
func pruneThrough(history []entry, cutoff time.Time) []entry {
	keep := 0
	for keep < len(history) && !history[keep].at.After(cutoff) {
		keep++
	}
	if keep == 0 {
		return history
	}
	return append(history[:0:0], history[keep:]...)
}

// snapshot copies the record into its wire form. Caller holds s.mu.
func (s *student) snapshot() Student {
	out := Student{
		ID:             s.id,
		Name:           s.name,
		Email:          s.email,
		TotalQuestions: s.total,
		IsBlocked:      s.blocked,
	}
	out.QuestionHistory = make([]HistoryEntry, len(s.history))
	for i, e := range s.history {
		out.QuestionHistory[i] = HistoryEntry{
			Timestamp: unixSeconds(e.at),
			Question:  e.question,
		}
	}
	if !s.blockedUntil.IsZero() {
		u := unixSeconds(s.blockedUntil)
		out.BlockedUntil = &u
	}
	return out
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
