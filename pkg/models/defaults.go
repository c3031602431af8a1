package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultsFile is the YAML document that overrides the live timer defaults.
// Every key is optional.
type DefaultsFile struct {
	Date        string `yaml:"date"`
	TargetIn    string `yaml:"targetIn"` // Go duration relative to load time, e.g. "36h"
	ButtonColor string `yaml:"buttonColor"`
	TextColor   string `yaml:"color"`
	Size        string `yaml:"preferredSize"`
	Align       string `yaml:"align"`
	Padding     string `yaml:"padding"`
	Margin      string `yaml:"margin"`
	Gap         string `yaml:"gap"`
	Background  string `yaml:"backgroundColor"`
}

// LoadDefaults reads a defaults file and returns the live defaults with its
// overrides applied. Any invalid value fails the whole file.
func LoadDefaults(path string, now time.Time) (TimerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TimerConfig{}, fmt.Errorf("failed to read defaults file: %w", err)
	}

	var file DefaultsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return TimerConfig{}, fmt.Errorf("failed to parse defaults file: %w", err)
	}

	patch, err := file.Patch(now)
	if err != nil {
		return TimerConfig{}, fmt.Errorf("invalid defaults file %s: %w", path, err)
	}

	return LiveDefaults(now).Merge(patch), nil
}

// Patch converts the file into a Patch, validating every value present
func (f DefaultsFile) Patch(now time.Time) (Patch, error) {
	var p Patch

	switch {
	case f.Date != "" && f.TargetIn != "":
		return Patch{}, fmt.Errorf("date and targetIn are mutually exclusive")
	case f.Date != "":
		t, err := ParseDate(f.Date)
		if err != nil {
			return Patch{}, err
		}
		p.Target = &t
	case f.TargetIn != "":
		d, err := time.ParseDuration(f.TargetIn)
		if err != nil {
			return Patch{}, fmt.Errorf("invalid targetIn: %w", err)
		}
		t := now.Add(d)
		p.Target = &t
	}

	if f.ButtonColor != "" {
		if !IsValidColor(f.ButtonColor) {
			return Patch{}, fmt.Errorf("invalid buttonColor: %q", f.ButtonColor)
		}
		p.ButtonColor = &f.ButtonColor
	}
	if f.TextColor != "" {
		if !IsValidColor(f.TextColor) {
			return Patch{}, fmt.Errorf("invalid color: %q", f.TextColor)
		}
		p.TextColor = &f.TextColor
	}
	if f.Size != "" {
		size, err := ParseSize(f.Size)
		if err != nil {
			return Patch{}, err
		}
		p.Size = &size
	}
	if f.Align != "" {
		align, err := ParseAlign(f.Align)
		if err != nil {
			return Patch{}, err
		}
		p.Align = &align
	}

	spacing := []struct {
		name  string
		value string
		dst   **string
	}{
		{"padding", f.Padding, &p.Padding},
		{"margin", f.Margin, &p.Margin},
		{"gap", f.Gap, &p.Gap},
	}
	for _, s := range spacing {
		if s.value == "" {
			continue
		}
		if !IsValidSpacing(s.value) {
			return Patch{}, fmt.Errorf("invalid %s: %q", s.name, s.value)
		}
		v := s.value
		*s.dst = &v
	}

	if f.Background != "" {
		if !IsValidBackground(f.Background) {
			return Patch{}, fmt.Errorf("invalid backgroundColor: %q", f.Background)
		}
		p.Background = &f.Background
	}

	return p, nil
}
