package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/zulandar/darkroom/internal/models"
)

var (
	statusOK   = color.New(color.FgGreen).SprintFunc()
	statusWarn = color.New(color.FgYellow).SprintFunc()
	statusBad  = color.New(color.FgRed).SprintFunc()
	statusIdle = color.New(color.FgCyan).SprintFunc()
)

// colorStatus colors task, sync and conversation statuses for table output.
// FAILED is shared by tasks, sync state and sync logs.
func colorStatus(s string) string {
	switch s {
	case models.StatusCompleted, models.SyncSynced, models.SyncLogSuccess, models.ConversationCompleted:
		return statusOK(s)
	case models.StatusProcessing, models.SyncLogRetrying:
		return statusWarn(s)
	case models.StatusFailed, models.ConversationDiscarded:
		return statusBad(s)
	default:
		return statusIdle(s)
	}
}

// truncate shortens s to at most n runes, adding "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// shortID keeps the first block of a UUID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatAge renders how long ago t was, coarsely.
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
