// Package markup builds the HTML document the engine captures. The countdown
// is computed here, so the page contains no script and is complete as soon as
// its DOM is attached.
package markup

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/koios/countdown-renderer/pkg/models"
)

var unitLabels = [4]string{"Days", "Hours", "Minutes", "Seconds"}

const pageTemplate = `<!DOCTYPE html>
<html>
  <head>
    <meta charset="UTF-8">
    <style>
      body {
        margin: 0;
        padding: 0;
        background: {{.Background}};
        font-family: Arial, sans-serif;
      }
      .timer-container {
        display: flex;
        justify-content: {{.Justify}};
        gap: {{.Gap}};
        padding: {{.Padding}};
        margin: {{.Margin}};
      }
      .timer-unit {
        width: {{.Size}}px;
        height: {{.Size}}px;
        border-radius: 6px;
        background: {{.ButtonColor}};
        color: {{.TextColor}};
        display: flex;
        flex-direction: column;
        justify-content: center;
        align-items: center;
        font-weight: bold;
      }
      .timer-value { font-size: 1.5rem; }
      .timer-label { font-size: 0.9rem; }
    </style>
  </head>
  <body>
    <div class="timer-container">
      {{- range .Units}}
      <div class="timer-unit">
        <div id="{{.ID}}" class="timer-value">{{.Value}}</div>
        <div class="timer-label">{{.Label}}</div>
      </div>
      {{- end}}
    </div>
  </body>
</html>
`

var page = template.Must(template.New("timer").Parse(pageTemplate))

type unit struct {
	ID    string
	Value string
	Label string
}

type pageData struct {
	Background  string
	Justify     string
	Gap         string
	Padding     string
	Margin      string
	Size        int
	ButtonColor string
	TextColor   string
	Units       []unit
}

// Build renders cfg as a complete HTML document showing the time left until
// cfg.Target as seen at now
func Build(cfg models.TimerConfig, now time.Time) (string, error) {
	parts := models.CountdownUntil(cfg.Target, now).Parts()

	data := pageData{
		Background:  orDefault(cfg.Background, "transparent"),
		Justify:     cfg.Align.JustifyContent(),
		Gap:         orDefault(cfg.Gap, "0"),
		Padding:     orDefault(cfg.Padding, "0"),
		Margin:      orDefault(cfg.Margin, "0"),
		Size:        cfg.Size.Pixels(),
		ButtonColor: cfg.ButtonColor,
		TextColor:   cfg.TextColor,
	}
	for i, label := range unitLabels {
		data.Units = append(data.Units, unit{
			ID:    strings.ToLower(label),
			Value: parts[i],
			Label: label,
		})
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute timer template: %w", err)
	}
	return buf.String(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
