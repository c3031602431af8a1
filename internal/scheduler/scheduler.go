// Package scheduler drives the live timer: on a fixed cadence it renders the
// active session into the frame slot and rebuilds the engine after failures.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koios/countdown-renderer/internal/engine"
	"github.com/koios/countdown-renderer/internal/frame"
	"github.com/koios/countdown-renderer/internal/markup"
	"github.com/koios/countdown-renderer/internal/metrics"
	"github.com/koios/countdown-renderer/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned by Tick when a render is already in progress
	ErrBusy = errors.New("render already in progress")
	// ErrBackingOff is returned by Tick while launches are being delayed
	ErrBackingOff = errors.New("engine launch backing off")
)

// ConfigSource returns the config of a session
type ConfigSource interface {
	Get(id string) models.TimerConfig
}

// Options configures a Scheduler
type Options struct {
	SessionID     string
	Interval      time.Duration // minimum spacing between render attempts
	CheckInterval time.Duration // how often Run checks whether a render is due
	BackoffBase   time.Duration // zero disables launch backoff
	BackoffMax    time.Duration
	Now           func() time.Time
}

// DefaultOptions returns a 1s cadence checked every 100ms, with launch
// backoff from 1s up to 30s
func DefaultOptions() Options {
	return Options{
		SessionID:     models.DefaultSessionID,
		Interval:      time.Second,
		CheckInterval: 100 * time.Millisecond,
		BackoffBase:   time.Second,
		BackoffMax:    30 * time.Second,
		Now:           time.Now,
	}
}

// Scheduler renders one session at a time through a single engine
type Scheduler struct {
	engine engine.Engine
	source ConfigSource
	slot   *frame.Slot
	logger *zap.Logger
	opts   Options

	rendering atomic.Bool

	mu             sync.Mutex
	lastAttempt    time.Time
	lastRender     time.Time
	launchFailures int
	nextLaunchAt   time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an idle scheduler. Zero option fields take DefaultOptions values.
func New(eng engine.Engine, source ConfigSource, slot *frame.Slot, logger *zap.Logger, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.SessionID == "" {
		opts.SessionID = def.SessionID
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = def.CheckInterval
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}

	return &Scheduler{
		engine: eng,
		source: source,
		slot:   slot,
		logger: logger,
		opts:   opts,
	}
}

// Rendering reports whether a render is in progress
func (s *Scheduler) Rendering() bool {
	return s.rendering.Load()
}

// LastRender returns the instant of the last successful render
func (s *Scheduler) LastRender() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRender
}

// Tick attempts one render. It returns ErrBusy without waiting if another
// render is in flight and ErrBackingOff while launches are delayed. Engine
// errors are returned after the engine has been torn down; the previously
// published frame stays in the slot.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.rendering.CompareAndSwap(false, true) {
		metrics.TicksSkipped.WithLabelValues("busy").Inc()
		return ErrBusy
	}
	defer s.rendering.Store(false)

	now := s.opts.Now()

	s.mu.Lock()
	if !s.engine.Ready() && now.Before(s.nextLaunchAt) {
		s.mu.Unlock()
		metrics.TicksSkipped.WithLabelValues("backoff").Inc()
		return ErrBackingOff
	}
	s.lastAttempt = now
	s.mu.Unlock()

	cfg := s.source.Get(s.opts.SessionID)
	html, err := markup.Build(cfg, now)
	if err != nil {
		s.logger.Error("Failed to build timer markup",
			zap.String("session_id", s.opts.SessionID),
			zap.Error(err))
		return err
	}

	if !s.engine.Ready() {
		if err := s.launch(ctx, now); err != nil {
			return err
		}
	}

	start := time.Now()
	png, err := s.engine.RenderToImage(ctx, html)
	metrics.ObserveRender(metrics.SourceLive, time.Since(start), err)
	if err != nil {
		s.logger.Error("Live render failed, serving previous frame",
			zap.String("session_id", s.opts.SessionID),
			zap.Error(err))
		s.engine.Teardown()
		return err
	}

	s.slot.Publish(png, now, s.opts.SessionID)

	s.mu.Lock()
	s.lastRender = now
	s.mu.Unlock()

	s.logger.Debug("Live frame published",
		zap.String("session_id", s.opts.SessionID),
		zap.Int("size_bytes", len(png)),
		zap.Duration("render_time", time.Since(start)))

	return nil
}

// launch brings the engine up, recording consecutive failures for backoff
func (s *Scheduler) launch(ctx context.Context, now time.Time) error {
	err := s.engine.EnsureReady(ctx)
	metrics.ObserveLaunch(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.launchFailures++
		delay := launchBackoff(s.opts.BackoffBase, s.opts.BackoffMax, s.launchFailures)
		s.nextLaunchAt = now.Add(delay)

		s.logger.Error("Render engine launch failed",
			zap.Int("consecutive_failures", s.launchFailures),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		s.engine.Teardown()
		return err
	}

	if s.launchFailures > 0 {
		s.logger.Info("Render engine recovered",
			zap.Int("failed_attempts", s.launchFailures))
	}
	s.launchFailures = 0
	s.nextLaunchAt = time.Time{}
	return nil
}

// due reports whether at least one Interval has passed since the last attempt
func (s *Scheduler) due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempt.IsZero() || now.Sub(s.lastAttempt) >= s.opts.Interval
}

// Run checks every CheckInterval and ticks when a render is due, until ctx is
// cancelled. A render in progress when ctx ends is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()

	for {
		if s.due(s.opts.Now()) {
			// Errors are logged inside Tick; the loop keeps going regardless
			_ = s.Tick(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Start runs the loop in the background. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)

	s.logger.Info("Render scheduler started",
		zap.String("session_id", s.opts.SessionID),
		zap.Duration("interval", s.opts.Interval),
		zap.Duration("check_interval", s.opts.CheckInterval))
}

// Stop halts the loop and waits for it to exit. The engine is left as is;
// the owner tears it down.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("Render scheduler stopped")
}
