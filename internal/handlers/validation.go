package handlers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/koios/countdown-renderer/pkg/models"
)

// Recognised config parameters, shared by the query string and remote updates
const (
	ParamSessionID   = "sessionId"
	ParamDate        = "date"
	ParamButtonColor = "buttonColor"
	ParamColor       = "color"
	ParamSize        = "preferredSize"
	ParamAlign       = "align"
	ParamPadding     = "padding"
	ParamMargin      = "margin"
	ParamGap         = "gap"
	ParamBackground  = "backgroundColor"
)

var configParams = []string{
	ParamDate, ParamButtonColor, ParamColor, ParamSize, ParamAlign,
	ParamPadding, ParamMargin, ParamGap, ParamBackground,
}

// ConfigValidationError reports one rejected parameter
type ConfigValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// HasConfigParams reports whether the query names any recognised parameter,
// sessionId included. Values are not checked: a request carrying only
// invalid or empty fields still counts.
func HasConfigParams(values url.Values) bool {
	if _, ok := values[ParamSessionID]; ok {
		return true
	}
	for _, key := range configParams {
		if _, ok := values[key]; ok {
			return true
		}
	}
	return false
}

// ParseSessionID returns the requested session, falling back to the default
// session when it is absent or malformed
func ParseSessionID(raw string) (string, *ConfigValidationError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.DefaultSessionID, nil
	}
	if !models.IsValidSessionID(raw) {
		return models.DefaultSessionID, &ConfigValidationError{
			Field:   ParamSessionID,
			Value:   raw,
			Message: "must be 1-64 characters of letters, digits, '_' or '-'",
		}
	}
	return raw, nil
}

// ParsePatch validates every recognised parameter. Invalid fields are left
// out of the patch and reported; the rest are still applied.
func ParsePatch(values url.Values) (models.Patch, []ConfigValidationError) {
	var (
		patch models.Patch
		errs  []ConfigValidationError
	)

	reject := func(field, value, message string) {
		errs = append(errs, ConfigValidationError{Field: field, Value: value, Message: message})
	}

	if v := param(values, ParamDate); v != "" {
		if t, err := models.ParseDate(v); err != nil {
			reject(ParamDate, v, "must be an ISO 8601 date or date-time")
		} else {
			patch.Target = &t
		}
	}

	colorField := func(field string, dst **string) {
		v := param(values, field)
		if v == "" {
			return
		}
		if !models.IsValidColor(v) {
			reject(field, v, "must be a #RGB or #RRGGBB hex color")
			return
		}
		*dst = &v
	}
	colorField(ParamButtonColor, &patch.ButtonColor)
	colorField(ParamColor, &patch.TextColor)

	if v := param(values, ParamBackground); v != "" {
		if !models.IsValidBackground(v) {
			reject(ParamBackground, v, "must be a hex color or 'transparent'")
		} else {
			patch.Background = &v
		}
	}

	if v := param(values, ParamSize); v != "" {
		if size, err := models.ParseSize(v); err != nil {
			reject(ParamSize, v, "must be one of small, medium, large, x-large")
		} else {
			patch.Size = &size
		}
	}

	if v := param(values, ParamAlign); v != "" {
		if align, err := models.ParseAlign(v); err != nil {
			reject(ParamAlign, v, "must be one of left, center, right")
		} else {
			patch.Align = &align
		}
	}

	spacingField := func(field string, dst **string) {
		v := param(values, field)
		if v == "" {
			return
		}
		if !models.IsValidSpacing(v) {
			reject(field, v, "must be 1-4 CSS lengths (px, em, rem, %) or 0")
			return
		}
		*dst = &v
	}
	spacingField(ParamPadding, &patch.Padding)
	spacingField(ParamMargin, &patch.Margin)
	spacingField(ParamGap, &patch.Gap)

	return patch, errs
}

func param(values url.Values, key string) string {
	return strings.TrimSpace(values.Get(key))
}

// paramsToValues converts a flat parameter map, as carried by remote updates
func paramsToValues(params map[string]string) url.Values {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return values
}
