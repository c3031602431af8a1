// Package engine owns the headless browser used to turn timer markup into PNG
// frames. A handle is either Ready (browser and tab alive) or Down (neither);
// it is started lazily and rebuilt after any failure.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotReady is wrapped by RenderError when a render is attempted while Down
var ErrNotReady = errors.New("engine is not ready")

// Engine is a reusable markup-to-image surface. Implementations are not safe
// for concurrent renders; callers serialize RenderToImage.
type Engine interface {
	// EnsureReady launches the surface if it is Down. It is a no-op when Ready.
	EnsureReady(ctx context.Context) error
	// RenderToImage loads markup into the page and captures the viewport as PNG.
	RenderToImage(ctx context.Context, markup string) ([]byte, error)
	// Teardown closes the surface. Always safe to call; the handle is Down afterwards.
	Teardown()
	// Ready reports whether the surface is up.
	Ready() bool
}

// LaunchError reports that the rendering surface could not start
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("engine launch failed: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// RenderError reports that a single frame failed to load or capture
type RenderError struct {
	Stage string // "load" or "capture"
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed during %s: %v", e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsLaunchError reports whether err is or wraps a LaunchError
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}
