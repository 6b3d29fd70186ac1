package notify

import (
	"fmt"
	"strings"

	"github.com/zulandar/darkroom/internal/events"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// promptPreview caps how much of a prompt goes into a notification body.
const promptPreview = 200

// FormattedEvent is a chat-ready rendering of a task event.
type FormattedEvent struct {
	Title    string
	Body     string
	Severity string // success, info, warning, error
	Color    string
	Fields   []Field
}

// Field is a name/value pair shown alongside the event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// shortID trims a UUID to its first block for titles.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= promptPreview {
		return s
	}
	return s[:promptPreview] + "..."
}

// FormatTaskEvent renders the events worth a chat message: completions,
// failures and conflicts. It reports false for everything else.
func FormatTaskEvent(evt events.Event) (FormattedEvent, bool) {
	var (
		title    string
		severity string
		body     []string
	)
	switch evt.Kind {
	case events.TaskCompleted:
		title = fmt.Sprintf("Task %s completed", shortID(evt.TaskID))
		severity = "success"
		if p := preview(evt.Prompt); p != "" {
			body = append(body, p)
		}
		body = append(body, evt.Images...)
	case events.TaskFailed:
		if evt.Reason == "deleted" {
			title = fmt.Sprintf("Task %s deleted", shortID(evt.TaskID))
			severity = "info"
		} else {
			title = fmt.Sprintf("Task %s failed", shortID(evt.TaskID))
			severity = "error"
			if evt.Reason != "" {
				body = append(body, evt.Reason)
			}
		}
		if p := preview(evt.Prompt); p != "" {
			body = append(body, p)
		}
	case events.TaskConflict:
		title = fmt.Sprintf("Task %s has a version conflict", shortID(evt.TaskID))
		severity = "warning"
		body = append(body, "A stale edit was rejected. Choose use_local, use_remote or merge to resolve.")
	default:
		return FormattedEvent{}, false
	}

	fields := []Field{
		{Name: "Task", Value: evt.TaskID, Short: true},
	}
	if evt.Status != "" {
		fields = append(fields, Field{Name: "Status", Value: evt.Status, Short: true})
	}
	if evt.Kind == events.TaskConflict {
		fields = append(fields, Field{Name: "Version", Value: fmt.Sprintf("%d", evt.Version), Short: true})
	}
	if len(evt.Images) > 0 {
		fields = append(fields, Field{Name: "Images", Value: fmt.Sprintf("%d", len(evt.Images)), Short: true})
	}
	if evt.Modifier != "" {
		fields = append(fields, Field{Name: "By", Value: evt.Modifier, Short: true})
	}

	return FormattedEvent{
		Title:    title,
		Body:     strings.Join(body, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}, true
}
