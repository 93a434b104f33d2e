package templatefmt

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const (
	// DefaultTelegramTemplate renders one alert as Telegram HTML.
	DefaultTelegramTemplate = `{{ levelIcon .Level }} <b>{{ upper .Level }}</b> {{ escape .Message }}
{{- if .Corridor }}
Corridor: {{ .Corridor }}{{ end }}
{{- if gt .Occurrences 1 }}
Seen {{ .Occurrences }} times{{ end }}
Raised: {{ fmtTime .RaisedAt }}`

	// DefaultTextTemplate renders one alert as plain text.
	DefaultTextTemplate = `[{{ upper .Level }}] {{ .Type }}: {{ .Message }}`
)

// FuncMap returns shared alert template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration": FormatDuration,
		"fmtTime":     FormatTime,
		"fmtAmount":   FormatAmount,
		"json":        MarshalJSON,
		"escape":      html.EscapeString,
		"upper":       func(value any) string { return strings.ToUpper(fmt.Sprint(value)) },
		"levelIcon":   LevelIcon,
	}
}

// ParseAlertTemplate parses one alert template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseAlertTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: template value expected as time.Duration or *time.Duration.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// FormatTime renders a timestamp in UTC minutes.
// Params: time.Time or *time.Time.
// Returns: "2006-01-02 15:04 UTC" or "-" for nil/zero.
func FormatTime(value any) string {
	var at time.Time
	switch typed := value.(type) {
	case time.Time:
		at = typed
	case *time.Time:
		if typed == nil {
			return "-"
		}
		at = *typed
	}
	if at.IsZero() {
		return "-"
	}
	return at.UTC().Format("2006-01-02 15:04") + " UTC"
}

// FormatAmount renders a declared value with thousands separators.
// Params: numeric value.
// Returns: grouped integer string such as "25 000 000".
func FormatAmount(value float64) string {
	digits := strconv.FormatInt(int64(value), 10)
	negative := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	var out strings.Builder
	for i, digit := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out.WriteByte(' ')
		}
		out.WriteRune(digit)
	}
	if negative {
		return "-" + out.String()
	}
	return out.String()
}

// LevelIcon maps an alert level to a marker.
// Params: level value.
// Returns: short marker.
func LevelIcon(level any) string {
	switch fmt.Sprint(level) {
	case "warning":
		return "🔴"
	case "attention":
		return "🟠"
	case "success":
		return "🟢"
	default:
		return "🔵"
	}
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
