package batch

import (
	"fmt"
	"time"
)

// ETAUnknown is rendered when no completion estimate is available.
const ETAUnknown = "unknown"

// Percentage returns overall progress as 0..100. Failed units count as
// processed. A zero-unit batch reports 0, never a division by zero.
func Percentage(completed, failed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(completed+failed) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Elapsed returns the wall time since the batch started.
func Elapsed(startedAt, now time.Time) time.Duration {
	return now.Sub(startedAt)
}

// ETA returns the remaining time until the estimated completion, floored at
// zero. A nil estimate yields false.
func ETA(estimatedCompletionAt *time.Time, now time.Time) (time.Duration, bool) {
	if estimatedCompletionAt == nil {
		return 0, false
	}
	d := estimatedCompletionAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// FormatETA renders a human-readable remaining-time string, or ETAUnknown
// when no estimate exists.
func FormatETA(estimatedCompletionAt *time.Time, now time.Time) string {
	d, ok := ETA(estimatedCompletionAt, now)
	if !ok {
		return ETAUnknown
	}
	return FormatDuration(d)
}

// FormatDuration renders d in the coarsest useful unit.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
