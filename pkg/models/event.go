package models

import "time"

// FrameEvent is broadcast whenever the live timer produces a new frame
type FrameEvent struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	RenderedAt time.Time `json:"rendered_at"`
	SizeBytes  int       `json:"size_bytes"`
	ImageB64   string    `json:"image_b64"` // base64 encoded PNG
}

// ConfigUpdate is a remote request to reconfigure a session.
// Params carry the same keys as the live endpoint's query string.
type ConfigUpdate struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	Params    map[string]string `json:"params"`
}

// GenerateResult is returned by the one-shot generator
type GenerateResult struct {
	Filename string `json:"-"`
	ImageURL string `json:"imageUrl"`
	PNG      []byte `json:"-"`
}
