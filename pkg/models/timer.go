package models

import (
	"fmt"
	"time"
)

// DefaultSessionID is the session used when a request does not name one.
const DefaultSessionID = "default"

// Size is the edge length class of a single countdown box
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
	SizeXLarge Size = "x-large"
)

var sizePixels = map[Size]int{
	SizeSmall:  48,
	SizeMedium: 64,
	SizeLarge:  80,
	SizeXLarge: 96,
}

// ParseSize converts a size name into a Size
func ParseSize(s string) (Size, error) {
	size := Size(s)
	if _, ok := sizePixels[size]; !ok {
		return "", fmt.Errorf("unknown size: %q", s)
	}
	return size, nil
}

// Pixels returns the box edge length in CSS pixels. Unknown sizes render as medium.
func (s Size) Pixels() int {
	if px, ok := sizePixels[s]; ok {
		return px
	}
	return sizePixels[SizeMedium]
}

// Align is the horizontal placement of the boxes inside the viewport
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// ParseAlign converts an alignment name into an Align
func ParseAlign(s string) (Align, error) {
	switch a := Align(s); a {
	case AlignLeft, AlignCenter, AlignRight:
		return a, nil
	}
	return "", fmt.Errorf("unknown alignment: %q", s)
}

// JustifyContent returns the flexbox justify-content value for the alignment
func (a Align) JustifyContent() string {
	switch a {
	case AlignLeft:
		return "flex-start"
	case AlignRight:
		return "flex-end"
	default:
		return "center"
	}
}

// TimerConfig is the full styling and target of one countdown timer.
// Values are never mutated after construction; Merge returns a copy.
type TimerConfig struct {
	Target      time.Time `yaml:"-" json:"target"`
	ButtonColor string    `yaml:"buttonColor" json:"buttonColor"`
	TextColor   string    `yaml:"color" json:"color"`
	Size        Size      `yaml:"preferredSize" json:"preferredSize"`
	Align       Align     `yaml:"align" json:"align"`
	Padding     string    `yaml:"padding" json:"padding"`
	Margin      string    `yaml:"margin" json:"margin"`
	Gap         string    `yaml:"gap" json:"gap"`
	Background  string    `yaml:"backgroundColor" json:"backgroundColor"`
}

// Patch is a partial TimerConfig. Nil fields leave the base value untouched.
type Patch struct {
	Target      *time.Time
	ButtonColor *string
	TextColor   *string
	Size        *Size
	Align       *Align
	Padding     *string
	Margin      *string
	Gap         *string
	Background  *string
}

// IsEmpty reports whether the patch sets no field
func (p Patch) IsEmpty() bool {
	return p.Target == nil && p.ButtonColor == nil && p.TextColor == nil &&
		p.Size == nil && p.Align == nil && p.Padding == nil &&
		p.Margin == nil && p.Gap == nil && p.Background == nil
}

// Merge returns a copy of c with every field set in p overridden
func (c TimerConfig) Merge(p Patch) TimerConfig {
	out := c
	if p.Target != nil {
		out.Target = *p.Target
	}
	if p.ButtonColor != nil {
		out.ButtonColor = *p.ButtonColor
	}
	if p.TextColor != nil {
		out.TextColor = *p.TextColor
	}
	if p.Size != nil {
		out.Size = *p.Size
	}
	if p.Align != nil {
		out.Align = *p.Align
	}
	if p.Padding != nil {
		out.Padding = *p.Padding
	}
	if p.Margin != nil {
		out.Margin = *p.Margin
	}
	if p.Gap != nil {
		out.Gap = *p.Gap
	}
	if p.Background != nil {
		out.Background = *p.Background
	}
	return out
}

// LiveDefaults returns the default configuration of the live timer endpoint
func LiveDefaults(now time.Time) TimerConfig {
	return TimerConfig{
		Target:      now.Add(time.Hour),
		ButtonColor: "#6cb2eb",
		TextColor:   "#fbff00",
		Size:        SizeMedium,
		Align:       AlignCenter,
		Padding:     "10px",
		Margin:      "0px",
		Gap:         "10px",
		Background:  "transparent",
	}
}

// OneShotDefaults returns the default configuration of the one-shot generator
func OneShotDefaults(now time.Time) TimerConfig {
	return TimerConfig{
		Target:      now.Add(24 * time.Hour),
		ButtonColor: "#F0F0F0",
		TextColor:   "#444444",
		Size:        SizeMedium,
		Align:       AlignCenter,
		Padding:     "10px",
		Margin:      "",
		Gap:         "10px",
		Background:  "transparent",
	}
}
