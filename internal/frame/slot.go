// Package frame holds the most recently rendered live timer image.
package frame

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/koios/countdown-renderer/internal/metrics"
)

// Frame is one published PNG. It must not be modified after Publish.
type Frame struct {
	PNG        []byte
	RenderedAt time.Time
	SessionID  string
}

// Age returns how long ago the frame was rendered
func (f *Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.RenderedAt)
}

// Listener is notified after every publish
type Listener interface {
	OnFrame(f *Frame)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(f *Frame)

func (fn ListenerFunc) OnFrame(f *Frame) { fn(f) }

// Slot is a single-value, lock-free frame cache. Each listener runs on its
// own goroutine and only ever sees the newest frame it has not handled yet;
// a listener still busy with one frame skips the ones published meanwhile.
type Slot struct {
	current atomic.Pointer[Frame]

	mu        sync.Mutex
	closed    bool
	mailboxes []chan *Frame
	wg        sync.WaitGroup
}

// NewSlot creates an empty slot and starts one delivery goroutine per
// listener. Call Close to stop them.
func NewSlot(listeners ...Listener) *Slot {
	s := &Slot{}
	for _, l := range listeners {
		mailbox := make(chan *Frame, 1)
		s.mailboxes = append(s.mailboxes, mailbox)

		s.wg.Add(1)
		go func(l Listener) {
			defer s.wg.Done()
			for f := range mailbox {
				l.OnFrame(f)
			}
		}(l)
	}
	return s
}

// Publish atomically replaces the current frame and queues it for the
// listeners without waiting for them
func (s *Slot) Publish(png []byte, renderedAt time.Time, sessionID string) *Frame {
	f := &Frame{
		PNG:        png,
		RenderedAt: renderedAt,
		SessionID:  sessionID,
	}
	s.current.Store(f)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return f
	}

	for _, mailbox := range s.mailboxes {
		select {
		case mailbox <- f:
			continue
		default:
		}

		// Replace the undelivered frame; only the delivery goroutine receives,
		// so the send below cannot block
		select {
		case <-mailbox:
			metrics.FramesDropped.Inc()
		default:
		}
		mailbox <- f
	}
	return f
}

// Current returns the latest frame, or false if nothing was published yet
func (s *Slot) Current() (*Frame, bool) {
	f := s.current.Load()
	return f, f != nil
}

// Close delivers any queued frames, then stops the listener goroutines.
// Frames published afterwards are stored but not delivered.
func (s *Slot) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, mailbox := range s.mailboxes {
		close(mailbox)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
