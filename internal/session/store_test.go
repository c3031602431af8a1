package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koios/countdown-renderer/pkg/models"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewStore(models.LiveDefaults(clock.now), zap.NewNop(), opts...), clock
}

func strPtr(s string) *string { return &s }

func TestGet_UnknownSessionReturnsDefaults(t *testing.T) {
	store, _ := newTestStore(t)

	if got := store.Get("nobody"); got != store.Defaults() {
		t.Errorf("got %+v, want defaults", got)
	}
	if got := store.Get(""); got != store.Defaults() {
		t.Errorf("empty id: got %+v, want defaults", got)
	}
}

func TestUpsert_MergesFieldWise(t *testing.T) {
	store, _ := newTestStore(t)

	store.Upsert("viewer", models.Patch{ButtonColor: strPtr("#000000"), Gap: strPtr("2px")})

	left := models.AlignLeft
	got := store.Upsert("viewer", models.Patch{Align: &left})

	if got.Align != models.AlignLeft {
		t.Errorf("Align = %q, want left", got.Align)
	}
	if got.ButtonColor != "#000000" || got.Gap != "2px" {
		t.Errorf("previous fields lost: %+v", got)
	}
	if got.TextColor != store.Defaults().TextColor {
		t.Errorf("TextColor = %q, want default", got.TextColor)
	}
	if store.Get("viewer") != got {
		t.Error("Get does not return the upserted config")
	}
}

func TestUpsert_EmptyIDUsesDefaultSession(t *testing.T) {
	store, _ := newTestStore(t)

	store.Upsert("", models.Patch{Margin: strPtr("5px")})

	if got := store.Get(models.DefaultSessionID).Margin; got != "5px" {
		t.Errorf("Margin = %q, want 5px", got)
	}
}

func TestGet_IdempotentWithoutUpsert(t *testing.T) {
	store, clock := newTestStore(t)
	store.Upsert("a", models.Patch{Padding: strPtr("3px")})

	first := store.Get("a")
	clock.Advance(10 * time.Minute)
	second := store.Get("a")

	if first != second {
		t.Errorf("reads differ: %+v vs %+v", first, second)
	}
}

func TestExpiry_VisibleUntilTTL(t *testing.T) {
	store, clock := newTestStore(t)
	store.Upsert("a", models.Patch{Padding: strPtr("3px")})

	clock.Advance(store.TTL())
	if got := store.Get("a").Padding; got != "3px" {
		t.Errorf("session must be visible at T+TTL, got padding %q", got)
	}

	// A sweep at exactly T+TTL keeps it too
	if removed := store.SweepExpired(clock.Now()); removed != 0 {
		t.Errorf("sweep at T+TTL removed %d sessions", removed)
	}

	clock.Advance(time.Millisecond)
	if got := store.Get("a"); got != store.Defaults() {
		t.Error("expired session should no longer be returned")
	}
}

func TestSweepExpired_RemovesOnlyExpired(t *testing.T) {
	store, clock := newTestStore(t)

	store.Upsert("old", models.Patch{})
	clock.Advance(30 * time.Minute)
	store.Upsert("fresh", models.Patch{})
	clock.Advance(31 * time.Minute)

	if removed := store.SweepExpired(clock.Now()); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	ids := store.IDs()
	if len(ids) != 1 || ids[0] != "fresh" {
		t.Errorf("IDs = %v, want [fresh]", ids)
	}
}

func TestUpsert_ExpiredSessionRestartsFromDefaults(t *testing.T) {
	store, clock := newTestStore(t)
	store.Upsert("a", models.Patch{Gap: strPtr("9px")})

	clock.Advance(2 * time.Hour)
	got := store.Upsert("a", models.Patch{Margin: strPtr("1px")})

	if got.Gap != store.Defaults().Gap {
		t.Errorf("Gap = %q, expired values must not be merged", got.Gap)
	}
}

func TestSetDefaults(t *testing.T) {
	store, _ := newTestStore(t)
	store.Upsert("a", models.Patch{})

	next := store.Defaults()
	next.TextColor = "#123456"
	store.SetDefaults(next)

	if store.Get("unknown").TextColor != "#123456" {
		t.Error("unknown sessions should see the new defaults")
	}
	if store.Get("a").TextColor == "#123456" {
		t.Error("existing sessions keep their config")
	}
}

func TestConcurrentUpsertGet_NoTornConfig(t *testing.T) {
	store, _ := newTestStore(t)

	// Each writer sets all three fields to the same marker; a reader must
	// never see markers from two different writes
	seed := "0px"
	store.Upsert("shared", models.Patch{Padding: &seed, Margin: &seed, Gap: &seed})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v := fmt.Sprintf("%dpx", w*1000+i)
				store.Upsert("shared", models.Patch{Padding: &v, Margin: &v, Gap: &v})
			}
		}(w)
	}

	errs := make(chan error, 1)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				cfg := store.Get("shared")
				if cfg.Padding != cfg.Margin || cfg.Margin != cfg.Gap {
					select {
					case errs <- fmt.Errorf("torn config: %+v", cfg):
					default:
					}
					return
				}
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
}

func TestStartStop_SweepsInBackground(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store, clock := newTestStore(t, WithSweepInterval(10*time.Millisecond))
	store.Upsert("a", models.Patch{})

	store.Start(context.Background())
	store.Start(context.Background()) // second call is a no-op

	clock.Advance(store.TTL() + time.Second)

	deadline := time.After(2 * time.Second)
	for store.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("background sweep did not remove the expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	store.Stop()
	store.Stop()
}

type recordingMirror struct {
	mu     sync.Mutex
	saved  []Session
	loaded []Session
	err    error
}

func (m *recordingMirror) Save(_ context.Context, s Session, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return m.err
}

func (m *recordingMirror) LoadAll(context.Context) ([]Session, error) {
	return m.loaded, m.err
}

func TestMirror_WriteThroughAndRestore(t *testing.T) {
	mirror := &recordingMirror{}
	store, clock := newTestStore(t, WithMirror(mirror))

	store.Upsert("a", models.Patch{Gap: strPtr("7px")})
	if len(mirror.saved) != 1 || mirror.saved[0].Config.Gap != "7px" {
		t.Fatalf("mirror saved %+v", mirror.saved)
	}

	restoredCfg := store.Defaults()
	restoredCfg.Padding = "11px"
	mirror.loaded = []Session{
		{ID: "b", Config: restoredCfg, LastTouched: clock.Now().Add(-time.Minute)},
		{ID: "stale", Config: restoredCfg, LastTouched: clock.Now().Add(-2 * time.Hour)},
		{ID: "a", Config: restoredCfg, LastTouched: clock.Now().Add(-time.Minute)},
	}

	n, err := store.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 1 {
		t.Errorf("restored = %d, want 1", n)
	}
	if store.Get("b").Padding != "11px" {
		t.Error("session b was not restored")
	}
	if store.Get("a").Gap != "7px" {
		t.Error("newer local session must win over the mirror")
	}
}

func TestMirror_FailureDoesNotFailUpsert(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("redis down")}
	store, _ := newTestStore(t, WithMirror(mirror))

	got := store.Upsert("a", models.Patch{Gap: strPtr("1px")})
	if got.Gap != "1px" || store.Get("a").Gap != "1px" {
		t.Error("upsert must succeed when the mirror fails")
	}
}

func (m *recordingMirror) last(id string) (Session, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		last  Session
		count int
	)
	for _, s := range m.saved {
		if s.ID == id {
			last = s
			count++
		}
	}
	return last, count
}

func TestMirror_SkipsSupersededSave(t *testing.T) {
	mirror := &recordingMirror{}
	store, _ := newTestStore(t, WithMirror(mirror))

	store.Upsert("a", models.Patch{Gap: strPtr("1px")})
	store.mu.RLock()
	older := store.sessions["a"]
	store.mu.RUnlock()
	store.Upsert("a", models.Patch{Gap: strPtr("2px")})

	// The first upsert's write arriving late must not clobber the second
	store.saveToMirror(older)

	last, count := mirror.last("a")
	if count != 2 {
		t.Errorf("mirror saved %d times, want 2", count)
	}
	if last.Config.Gap != "2px" {
		t.Errorf("mirror holds gap %q, want 2px", last.Config.Gap)
	}
}

func TestMirror_ConcurrentUpsertsKeepLatest(t *testing.T) {
	mirror := &recordingMirror{}
	store, _ := newTestStore(t, WithMirror(mirror))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Upsert("a", models.Patch{Gap: strPtr(fmt.Sprintf("%dpx", i))})
		}(i)
	}
	wg.Wait()

	last, _ := mirror.last("a")
	if want := store.Get("a").Gap; last.Config.Gap != want {
		t.Errorf("mirror holds gap %q, store holds %q", last.Config.Gap, want)
	}
}
