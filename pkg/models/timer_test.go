package models

import (
	"testing"
	"time"
)

func TestMerge_OnlyOverridesSetFields(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	base := LiveDefaults(now)

	left := AlignLeft
	got := base.Merge(Patch{Align: &left})

	if got.Align != AlignLeft {
		t.Errorf("Align = %q, want left", got.Align)
	}

	want := base
	want.Align = AlignLeft
	if got != want {
		t.Errorf("Merge changed unrelated fields:\n got  %+v\n want %+v", got, want)
	}

	if base.Align != AlignCenter {
		t.Errorf("Merge mutated the receiver: Align = %q", base.Align)
	}
}

func TestMerge_AllFields(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	target := now.Add(48 * time.Hour)
	button, text := "#111111", "#222222"
	size, align := SizeXLarge, AlignRight
	padding, margin, gap, bg := "1px", "2px", "3px", "#333"

	got := LiveDefaults(now).Merge(Patch{
		Target:      &target,
		ButtonColor: &button,
		TextColor:   &text,
		Size:        &size,
		Align:       &align,
		Padding:     &padding,
		Margin:      &margin,
		Gap:         &gap,
		Background:  &bg,
	})

	want := TimerConfig{
		Target:      target,
		ButtonColor: button,
		TextColor:   text,
		Size:        size,
		Align:       align,
		Padding:     padding,
		Margin:      margin,
		Gap:         gap,
		Background:  bg,
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPatch_IsEmpty(t *testing.T) {
	if !(Patch{}).IsEmpty() {
		t.Error("zero Patch should be empty")
	}
	gap := "4px"
	if (Patch{Gap: &gap}).IsEmpty() {
		t.Error("Patch with Gap should not be empty")
	}
}

func TestSizePixels(t *testing.T) {
	tests := []struct {
		size Size
		want int
	}{
		{SizeSmall, 48},
		{SizeMedium, 64},
		{SizeLarge, 80},
		{SizeXLarge, 96},
		{Size("huge"), 64},
	}
	for _, tt := range tests {
		if got := tt.size.Pixels(); got != tt.want {
			t.Errorf("%q.Pixels() = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	if _, err := ParseSize("x-large"); err != nil {
		t.Errorf("ParseSize(x-large): %v", err)
	}
	if _, err := ParseSize("XL"); err == nil {
		t.Error("expected error for unknown size")
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		input   string
		justify string
		wantErr bool
	}{
		{"left", "flex-start", false},
		{"center", "center", false},
		{"right", "flex-end", false},
		{"middle", "", true},
	}
	for _, tt := range tests {
		a, err := ParseAlign(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAlign(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && a.JustifyContent() != tt.justify {
			t.Errorf("%q.JustifyContent() = %q, want %q", a, a.JustifyContent(), tt.justify)
		}
	}
}

func TestOneShotDefaults(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := OneShotDefaults(now)
	if !cfg.Target.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("Target = %v, want now+24h", cfg.Target)
	}
	if cfg.TextColor != "#444444" || cfg.ButtonColor != "#F0F0F0" {
		t.Errorf("unexpected colors: %+v", cfg)
	}
}
