package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koios/countdown-renderer/internal/engine"
	"github.com/koios/countdown-renderer/internal/frame"
	"github.com/koios/countdown-renderer/pkg/models"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// fakeEngine records launches and renders. Behaviour is switched per test.
type fakeEngine struct {
	mu        sync.Mutex
	ready     bool
	launches  int
	renders   int
	teardowns int

	launchErr error
	renderErr error
	output    []byte

	// block, when set, holds RenderToImage until closed
	block chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeEngine) EnsureReady(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ready {
		return nil
	}
	f.launches++
	if f.launchErr != nil {
		return &engine.LaunchError{Err: f.launchErr}
	}
	f.ready = true
	return nil
}

func (f *fakeEngine) RenderToImage(ctx context.Context, markup string) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	if !f.ready {
		return nil, &engine.RenderError{Stage: "load", Err: engine.ErrNotReady}
	}
	if f.renderErr != nil {
		return nil, &engine.RenderError{Stage: "capture", Err: f.renderErr}
	}
	if f.output != nil {
		return f.output, nil
	}
	return []byte("png"), nil
}

func (f *fakeEngine) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	f.ready = false
}

func (f *fakeEngine) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeEngine) set(fn func(f *fakeEngine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeEngine) counts() (launches, renders, teardowns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches, f.renders, f.teardowns
}

type staticSource struct {
	cfg models.TimerConfig
}

func (s staticSource) Get(string) models.TimerConfig { return s.cfg }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(eng engine.Engine, clock *fakeClock) (*Scheduler, *frame.Slot) {
	slot := frame.NewSlot()
	now := clock.Now()
	opts := DefaultOptions()
	opts.Now = clock.Now
	return New(eng, staticSource{cfg: models.LiveDefaults(now)}, slot, zap.NewNop(), opts), slot
}

func TestTick_PublishesFrame(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	eng := &fakeEngine{output: []byte("frame-1")}
	s, slot := newTestScheduler(eng, clock)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	f, ok := slot.Current()
	if !ok {
		t.Fatal("expected a published frame")
	}
	if string(f.PNG) != "frame-1" {
		t.Errorf("PNG = %q", f.PNG)
	}
	if !f.RenderedAt.Equal(clock.Now()) || f.SessionID != models.DefaultSessionID {
		t.Errorf("unexpected frame metadata %+v", f)
	}
	if !s.LastRender().Equal(clock.Now()) {
		t.Errorf("LastRender = %v", s.LastRender())
	}
	if launches, _, _ := eng.counts(); launches != 1 {
		t.Errorf("launches = %d, want 1", launches)
	}
}

func TestTick_ReusesEngineAcrossTicks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	eng := &fakeEngine{}
	s, _ := newTestScheduler(eng, clock)

	for i := 0; i < 5; i++ {
		if err := s.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	launches, renders, teardowns := eng.counts()
	if launches != 1 || renders != 5 || teardowns != 0 {
		t.Errorf("launches=%d renders=%d teardowns=%d, want 1/5/0", launches, renders, teardowns)
	}
}

func TestTick_RenderFailureKeepsPreviousFrame(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	eng := &fakeEngine{output: []byte("good")}
	s, slot := newTestScheduler(eng, clock)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("first Tick: %v", err)
	}

	eng.set(func(f *fakeEngine) { f.renderErr = errors.New("capture crashed") })
	clock.Advance(time.Second)

	err := s.Tick(context.Background())
	var re *engine.RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if eng.Ready() {
		t.Error("engine should be torn down after a render failure")
	}

	f, _ := slot.Current()
	if string(f.PNG) != "good" {
		t.Errorf("slot should still hold the previous frame, got %q", f.PNG)
	}

	// Render errors do not trigger backoff: the next tick relaunches once
	eng.set(func(f *fakeEngine) { f.renderErr = nil; f.output = []byte("recovered") })
	clock.Advance(time.Second)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("recovery Tick: %v", err)
	}
	if launches, _, _ := eng.counts(); launches != 2 {
		t.Errorf("launches = %d, want exactly one fresh launch", launches)
	}
	f, _ = slot.Current()
	if string(f.PNG) != "recovered" {
		t.Errorf("PNG = %q, want recovered", f.PNG)
	}
}

func TestTick_DropsWhileBusy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	eng := &fakeEngine{block: make(chan struct{})}
	s, _ := newTestScheduler(eng, clock)

	done := make(chan error, 1)
	go func() { done <- s.Tick(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for eng.inFlight.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first render never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if !s.Rendering() {
		t.Error("Rendering should report true while a render is in flight")
	}
	for i := 0; i < 10; i++ {
		if err := s.Tick(context.Background()); !errors.Is(err, ErrBusy) {
			t.Fatalf("concurrent Tick = %v, want ErrBusy", err)
		}
	}

	close(eng.block)
	if err := <-done; err != nil {
		t.Fatalf("blocked Tick: %v", err)
	}
	if got := eng.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent renders = %d, want 1", got)
	}
	if _, renders, _ := eng.counts(); renders != 1 {
		t.Errorf("renders = %d, want 1", renders)
	}
}

func TestTick_NoOverlapUnderContention(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	eng := &fakeEngine{}
	s, _ := newTestScheduler(eng, clock)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Tick(context.Background())
			}
		}()
	}
	wg.Wait()

	if got := eng.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent renders = %d, want 1", got)
	}
}

func TestTick_LaunchBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	eng := &fakeEngine{launchErr: errors.New("no chrome")}
	s, slot := newTestScheduler(eng, clock)

	err := s.Tick(context.Background())
	if !engine.IsLaunchError(err) {
		t.Fatalf("expected LaunchError, got %v", err)
	}

	// First failure: 1s backoff
	clock.Advance(500 * time.Millisecond)
	if err := s.Tick(context.Background()); !errors.Is(err, ErrBackingOff) {
		t.Fatalf("Tick inside backoff = %v, want ErrBackingOff", err)
	}
	clock.Advance(500 * time.Millisecond)
	if err := s.Tick(context.Background()); !engine.IsLaunchError(err) {
		t.Fatalf("Tick after backoff = %v, want LaunchError", err)
	}

	// Second failure: 2s backoff
	clock.Advance(1500 * time.Millisecond)
	if err := s.Tick(context.Background()); !errors.Is(err, ErrBackingOff) {
		t.Fatalf("Tick inside 2s backoff = %v, want ErrBackingOff", err)
	}
	clock.Advance(500 * time.Millisecond)

	eng.set(func(f *fakeEngine) { f.launchErr = nil })
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick after recovery: %v", err)
	}
	if launches, _, _ := eng.counts(); launches != 3 {
		t.Errorf("launches = %d, want 3", launches)
	}
	if _, ok := slot.Current(); !ok {
		t.Error("expected a frame after recovery")
	}

	// A later launch failure starts the backoff over at base
	eng.set(func(f *fakeEngine) { f.launchErr = errors.New("gone again"); f.ready = false })
	clock.Advance(time.Second)
	if err := s.Tick(context.Background()); !engine.IsLaunchError(err) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	clock.Advance(time.Second)
	if err := s.Tick(context.Background()); errors.Is(err, ErrBackingOff) {
		t.Error("backoff should have reset to base after a successful launch")
	}
}

func TestTick_BackoffDisabled(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	eng := &fakeEngine{launchErr: errors.New("no chrome")}
	slot := frame.NewSlot()
	opts := DefaultOptions()
	opts.Now = clock.Now
	opts.BackoffBase = 0
	s := New(eng, staticSource{cfg: models.LiveDefaults(clock.Now())}, slot, zap.NewNop(), opts)

	for i := 0; i < 3; i++ {
		if err := s.Tick(context.Background()); !engine.IsLaunchError(err) {
			t.Fatalf("Tick %d = %v, want LaunchError", i, err)
		}
	}
	if launches, _, _ := eng.counts(); launches != 3 {
		t.Errorf("launches = %d, want 3", launches)
	}
}

func TestLaunchBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := launchBackoff(time.Second, 30*time.Second, tt.failures); got != tt.want {
			t.Errorf("launchBackoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
	if got := launchBackoff(0, 30*time.Second, 4); got != 0 {
		t.Errorf("zero base should disable backoff, got %v", got)
	}
}

func TestDue_GatesOnInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, _ := newTestScheduler(&fakeEngine{}, clock)

	if !s.due(clock.Now()) {
		t.Fatal("a fresh scheduler should be due")
	}
	if err := s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.due(clock.Now().Add(999 * time.Millisecond)) {
		t.Error("should not be due before the interval elapses")
	}
	if !s.due(clock.Now().Add(time.Second)) {
		t.Error("should be due once the interval elapses")
	}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := &fakeEngine{}
	slot := frame.NewSlot()
	opts := DefaultOptions()
	opts.Interval = 10 * time.Millisecond
	opts.CheckInterval = 2 * time.Millisecond
	s := New(eng, staticSource{cfg: models.LiveDefaults(time.Now())}, slot, zap.NewNop(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if _, renders, _ := eng.counts(); renders >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler did not render")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	s.Stop()
	s.Stop()

	if _, ok := slot.Current(); !ok {
		t.Error("expected a frame after running")
	}
}
