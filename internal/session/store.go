// Package session keeps per-viewer timer configuration with idle expiry.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/koios/countdown-renderer/internal/metrics"
	"github.com/koios/countdown-renderer/pkg/models"
	"go.uber.org/zap"
)

const (
	// DefaultTTL is the idle time after which a session is evicted
	DefaultTTL = time.Hour
	// DefaultSweepInterval is how often expired sessions are removed
	DefaultSweepInterval = time.Minute

	mirrorTimeout = 2 * time.Second
)

// Session is one named timer configuration. Stored values are never
// modified; every upsert stores a new Session.
type Session struct {
	ID          string             `json:"id"`
	Config      models.TimerConfig `json:"config"`
	LastTouched time.Time          `json:"last_touched"`

	rev uint64 // store-local write order, not mirrored
}

// Mirror persists sessions outside the process
type Mirror interface {
	Save(ctx context.Context, s Session, ttl time.Duration) error
	LoadAll(ctx context.Context) ([]Session, error)
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL sets the idle expiry
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval sets the background sweep cadence
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithMirror writes every upsert through to m
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// Store maps session IDs to timer configurations
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session
	defaults models.TimerConfig
	rev      uint64

	// saveMu orders mirror writes so an older session never lands last
	saveMu sync.Mutex

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	mirror        Mirror
	logger        *zap.Logger

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewStore creates an empty store that falls back to defaults
func NewStore(defaults models.TimerConfig, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		sessions:      make(map[string]Session),
		defaults:      defaults,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TTL returns the configured idle expiry
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Upsert merges patch over the session's current config, or the defaults if
// the session does not exist or has expired, and returns the stored result
func (s *Store) Upsert(id string, patch models.Patch) models.TimerConfig {
	if id == "" {
		id = models.DefaultSessionID
	}

	s.mu.Lock()
	now := s.now()
	base := s.defaults
	if existing, ok := s.sessions[id]; ok && !s.expired(existing, now) {
		base = existing.Config
	}
	s.rev++
	sess := Session{
		ID:          id,
		Config:      base.Merge(patch),
		LastTouched: now,
		rev:         s.rev,
	}
	s.sessions[id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))

	if s.mirror != nil {
		s.saveToMirror(sess)
	}

	return sess.Config
}

// saveToMirror writes sess unless a later upsert has replaced it. The later
// upsert performs its own write.
func (s *Store) saveToMirror(sess Session) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	current, ok := s.sessions[sess.ID]
	s.mu.RUnlock()
	if ok && current.rev != sess.rev {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := s.mirror.Save(ctx, sess, s.ttl); err != nil {
		s.logger.Warn("Failed to mirror session", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// Get returns the session's config, or the defaults if it is absent or expired
func (s *Store) Get(id string) models.TimerConfig {
	if id == "" {
		id = models.DefaultSessionID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[id]; ok && !s.expired(sess, s.now()) {
		return sess.Config
	}
	return s.defaults
}

// Defaults returns the config served to unknown sessions
func (s *Store) Defaults() models.TimerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// SetDefaults replaces the fallback config. Existing sessions are unaffected.
func (s *Store) SetDefaults(cfg models.TimerConfig) {
	s.mu.Lock()
	s.defaults = cfg
	s.mu.Unlock()
}

// SweepExpired removes every session idle for longer than the TTL
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	if removed > 0 {
		metrics.SessionsExpired.Add(float64(removed))
		s.logger.Debug("Expired sessions removed",
			zap.Int("removed", removed),
			zap.Int("remaining", count))
	}
	return removed
}

// IDs returns the stored session IDs in sorted order, expired ones included
// until the next sweep
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of stored sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Restore loads mirrored sessions that are still live. Sessions already in
// the store with a newer LastTouched win.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.mirror == nil {
		return 0, nil
	}

	loaded, err := s.mirror.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	now := s.now()
	restored := 0
	for _, sess := range loaded {
		if sess.ID == "" || s.expired(sess, now) {
			continue
		}
		if existing, ok := s.sessions[sess.ID]; ok && !existing.LastTouched.Before(sess.LastTouched) {
			continue
		}
		s.sessions[sess.ID] = sess
		restored++
	}
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	return restored, nil
}

// Start launches the background sweeper. Calling Start on a running store is a no-op.
func (s *Store) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.sweepLoop(ctx, s.done)

	s.logger.Info("Session sweeper started",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.sweepInterval))
}

// Stop halts the sweeper and waits for it to exit
func (s *Store) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("Session sweeper stopped")
}

func (s *Store) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired(s.now())
		}
	}
}

func (s *Store) expired(sess Session, now time.Time) bool {
	return now.Sub(sess.LastTouched) > s.ttl
}
